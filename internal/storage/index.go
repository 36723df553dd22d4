package storage

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/KilimcininKorOglu/obadir/internal/filter"
)

// NgramSize is the size of the n-grams used for substring indexing.
const NgramSize = 3

// presenceKey is the single index key of a presence index.
const presenceKey = ""

// IndexKeys returns the index keys a value contributes to an index of the
// given kind. Duplicate keys are removed.
func IndexKeys(kind filter.IndexType, value []byte) []string {
	switch kind {
	case filter.IndexEquality, filter.IndexOrdering:
		return []string{strings.ToLower(string(value))}
	case filter.IndexPresence:
		return []string{presenceKey}
	case filter.IndexSubstring:
		return uniqueNgrams(strings.ToLower(string(value)))
	case filter.IndexApproximate:
		return []string{filter.NormalizeApprox(value)}
	}
	return nil
}

// RuleKey returns the index key a value contributes to a matching rule
// index. Rule indexes are kept for equality rules only.
func RuleKey(value []byte) string {
	return strings.ToLower(string(value))
}

// ngrams returns the n-grams of s, or nil when s is shorter than NgramSize.
func ngrams(s string) []string {
	if len(s) < NgramSize {
		return nil
	}
	out := make([]string, 0, len(s)-NgramSize+1)
	for i := 0; i <= len(s)-NgramSize; i++ {
		out = append(out, s[i:i+NgramSize])
	}
	return out
}

func uniqueNgrams(s string) []string {
	grams := ngrams(s)
	if len(grams) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(grams))
	unique := grams[:0]
	for _, g := range grams {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		unique = append(unique, g)
	}
	return unique
}

// PostingSource gives the candidate planner access to an engine's posting
// lists. Returned bitmaps are owned by the caller.
type PostingSource interface {
	IsIndexed(attr string, kind filter.IndexType) bool
	IsIndexedByRule(attr, rule string) bool

	// Posting returns the entries stored under key in the attribute's
	// index of the given kind.
	Posting(attr string, kind filter.IndexType, key string) (*roaring.Bitmap, error)
	// RulePosting returns the entries stored under key in the attribute's
	// index for rule.
	RulePosting(attr, rule, key string) (*roaring.Bitmap, error)
	// RangePosting returns the entries whose ordering key is >= key when
	// ge is true, or <= key otherwise.
	RangePosting(attr, key string, ge bool) (*roaring.Bitmap, error)
}

// Candidates computes a superset of the entry IDs matching f from the
// indexes in src. It reports false when f cannot be narrowed, in which
// case the caller must scan.
//
// An AND intersects the children that can be narrowed and ignores the
// rest. An OR unions its children and cannot be narrowed if any child
// cannot. A NOT is never narrowed.
func Candidates(f *filter.Filter, src PostingSource, attrs filter.AttributeResolver) (*roaring.Bitmap, bool, error) {
	if f == nil {
		return nil, false, nil
	}

	switch f.Type {
	case filter.FilterAnd:
		var acc *roaring.Bitmap
		for _, c := range f.Children {
			bm, ok, err := Candidates(c, src, attrs)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			if acc == nil {
				acc = bm
			} else {
				acc.And(bm)
			}
			if acc.IsEmpty() {
				break
			}
		}
		return acc, acc != nil, nil

	case filter.FilterOr:
		if len(f.Children) == 0 {
			return nil, false, nil
		}
		acc := roaring.New()
		for _, c := range f.Children {
			bm, ok, err := Candidates(c, src, attrs)
			if err != nil || !ok {
				return nil, false, err
			}
			acc.Or(bm)
		}
		return acc, true, nil

	case filter.FilterNot:
		return nil, false, nil

	case filter.FilterExtensibleMatch:
		return extensibleCandidates(f, src, attrs)
	}

	kind, ok := filter.IndexTypeFor(f.Type)
	if !ok {
		return nil, false, nil
	}
	attr := leafAttribute(f, attrs)
	if attr == "" || !src.IsIndexed(attr, kind) {
		return nil, false, nil
	}

	switch f.Type {
	case filter.FilterEquality, filter.FilterApproxMatch:
		bm, err := src.Posting(attr, kind, IndexKeys(kind, f.Value)[0])
		return bm, err == nil, err

	case filter.FilterPresent:
		bm, err := src.Posting(attr, kind, presenceKey)
		return bm, err == nil, err

	case filter.FilterGreaterOrEqual, filter.FilterLessOrEqual:
		bm, err := src.RangePosting(attr, IndexKeys(kind, f.Value)[0], f.Type == filter.FilterGreaterOrEqual)
		return bm, err == nil, err

	case filter.FilterSubstring:
		return substringCandidates(f.Substring, attr, src)
	}
	return nil, false, nil
}

func leafAttribute(f *filter.Filter, attrs filter.AttributeResolver) string {
	attr := f.Attribute
	if attr == "" && f.Substring != nil {
		attr = f.Substring.Attribute
	}
	return canonical(attr, attrs)
}

func canonical(attr string, attrs filter.AttributeResolver) string {
	if attr == "" {
		return ""
	}
	if attrs == nil {
		return strings.ToLower(strings.TrimSpace(attr))
	}
	return attrs.CanonicalName(attr)
}

// substringCandidates intersects the postings of every n-gram of every
// component. Components shorter than NgramSize contribute nothing; a
// substring with no usable n-gram cannot be narrowed.
func substringCandidates(sub *filter.SubstringFilter, attr string, src PostingSource) (*roaring.Bitmap, bool, error) {
	if sub == nil {
		return nil, false, nil
	}
	parts := make([][]byte, 0, len(sub.Any)+2)
	parts = append(parts, sub.Initial)
	parts = append(parts, sub.Any...)
	parts = append(parts, sub.Final)

	var acc *roaring.Bitmap
	for _, p := range parts {
		for _, g := range uniqueNgrams(strings.ToLower(string(p))) {
			bm, err := src.Posting(attr, filter.IndexSubstring, g)
			if err != nil {
				return nil, false, err
			}
			if acc == nil {
				acc = bm
			} else {
				acc.And(bm)
			}
			if acc.IsEmpty() {
				return acc, true, nil
			}
		}
	}
	return acc, acc != nil, nil
}

func extensibleCandidates(f *filter.Filter, src PostingSource, attrs filter.AttributeResolver) (*roaring.Bitmap, bool, error) {
	// DN attribute values are not indexed.
	if f.Attribute == "" || f.DNAttributes {
		return nil, false, nil
	}
	attr := canonical(f.Attribute, attrs)
	var rule string
	switch {
	case f.MatchingRule != "" && attrs != nil:
		rule = attrs.CanonicalRule(f.MatchingRule)
	case f.MatchingRule != "":
		rule = strings.ToLower(f.MatchingRule)
	case attrs != nil:
		rule = attrs.DefaultEqualityRule(f.Attribute)
	}
	if rule == "" || !src.IsIndexedByRule(attr, rule) {
		return nil, false, nil
	}
	bm, err := src.RulePosting(attr, rule, RuleKey(f.Value))
	return bm, err == nil, err
}
