package backend

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obadir/internal/schema"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Operational attributes maintained by the Local backend (RFC 4512,
// RFC 4530). Names are lower-cased as stored.
const (
	AttrCreateTimestamp = "createtimestamp"
	AttrModifyTimestamp = "modifytimestamp"
	AttrEntryUUID       = "entryuuid"
)

// TimestampLayout is the GeneralizedTime layout of timestamp attributes.
const TimestampLayout = "20060102150405Z"

// FormatTimestamp formats t as GeneralizedTime in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a GeneralizedTime value written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// canonicalEntry returns a copy of e whose attribute names are the schema's
// primary names, so aliases such as "surname" and "sn" share one index.
func canonicalEntry(e *storage.Entry, dnString string, s *schema.Schema) *storage.Entry {
	out := storage.NewEntry(dnString)
	for name, values := range e.Attributes {
		canon := s.CanonicalName(name)
		for _, v := range values {
			out.AddAttributeValue(canon, append([]byte(nil), v...))
		}
	}
	return out
}

// stampCreate sets the operational attributes of a new entry, keeping any
// that are already present (as in an LDIF import).
func stampCreate(e *storage.Entry, now time.Time) {
	ts := FormatTimestamp(now)
	if !e.HasAttribute(AttrEntryUUID) {
		e.SetStringAttribute(AttrEntryUUID, uuid.NewString())
	}
	if !e.HasAttribute(AttrCreateTimestamp) {
		e.SetStringAttribute(AttrCreateTimestamp, ts)
	}
	if !e.HasAttribute(AttrModifyTimestamp) {
		e.SetStringAttribute(AttrModifyTimestamp, ts)
	}
}

// stampModify carries the immutable operational attributes over from old
// and refreshes modifyTimestamp.
func stampModify(e, old *storage.Entry, now time.Time) {
	for _, attr := range []string{AttrEntryUUID, AttrCreateTimestamp} {
		if v := old.GetAttribute(attr); len(v) > 0 {
			e.SetAttribute(attr, v...)
		}
	}
	e.SetStringAttribute(AttrModifyTimestamp, FormatTimestamp(now))
}

// splitRDN splits a possibly multi-valued RDN into attribute/value pairs.
func splitRDN(rdn string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(rdn, "+") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out = append(out, [2]string{strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)})
	}
	return out
}

func hasValue(e *storage.Entry, attr, value string) bool {
	for _, v := range e.GetAttribute(attr) {
		if strings.EqualFold(string(v), value) {
			return true
		}
	}
	return false
}

func removeValue(e *storage.Entry, attr, value string) {
	values := e.GetAttribute(attr)
	kept := make([][]byte, 0, len(values))
	for _, v := range values {
		if !strings.EqualFold(string(v), value) {
			kept = append(kept, v)
		}
	}
	e.SetAttribute(attr, kept...)
}
