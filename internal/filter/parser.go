package filter

import (
	"errors"
	"strings"
)

// Parser errors
var (
	ErrEmptyFilter      = errors.New("filter: empty filter")
	ErrInvalidFilter    = errors.New("filter: invalid filter syntax")
	ErrUnbalancedParens = errors.New("filter: unbalanced parentheses")
	ErrMissingAttribute = errors.New("filter: missing attribute name")
	ErrInvalidEscape    = errors.New("filter: invalid escape sequence")
)

// Parse parses an LDAP filter string into a Filter structure.
// Supports RFC 4515 filter syntax:
//   - (attr=value)          - equality
//   - (attr=*)              - presence
//   - (attr=*val*)          - substring
//   - (attr>=value)         - greater or equal
//   - (attr<=value)         - less or equal
//   - (attr~=value)         - approximate match
//   - (attr:dn:rule:=value) - extensible match
//   - (&(f1)(f2)...)        - AND
//   - (|(f1)(f2)...)        - OR
//   - (!(filter))           - NOT
//
// Values may contain \XX hex escapes. A bare item without parentheses is
// accepted and treated as if it were wrapped.
func Parse(filterStr string) (*Filter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		return nil, ErrEmptyFilter
	}
	return parseFilter(filterStr)
}

// MustParse is like Parse but panics on error.
func MustParse(filterStr string) *Filter {
	f, err := Parse(filterStr)
	if err != nil {
		panic(err)
	}
	return f
}

func parseFilter(s string) (*Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyFilter
	}

	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		if strings.ContainsAny(s, "()") {
			return nil, ErrInvalidFilter
		}
		s = "(" + s + ")"
	}

	end, err := matchingParen(s)
	if err != nil {
		return nil, err
	}
	if end != len(s)-1 {
		return nil, ErrInvalidFilter
	}

	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, ErrEmptyFilter
	}

	switch inner[0] {
	case '&':
		children, err := parseFilterList(inner[1:])
		if err != nil {
			return nil, err
		}
		return NewAndFilter(children...), nil
	case '|':
		children, err := parseFilterList(inner[1:])
		if err != nil {
			return nil, err
		}
		return NewOrFilter(children...), nil
	case '!':
		child, err := parseFilter(inner[1:])
		if err != nil {
			return nil, err
		}
		return NewNotFilter(child), nil
	default:
		return parseItem(inner)
	}
}

// matchingParen returns the index of the parenthesis closing s[0].
func matchingParen(s string) (int, error) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, ErrUnbalancedParens
}

// parseFilterList parses a sequence of parenthesized filters. An empty list
// is valid: (&) is absolute true and (|) is absolute false (RFC 4526).
func parseFilterList(s string) ([]*Filter, error) {
	var filters []*Filter
	s = strings.TrimSpace(s)

	for len(s) > 0 {
		if s[0] != '(' {
			return nil, ErrInvalidFilter
		}
		end, err := matchingParen(s)
		if err != nil {
			return nil, err
		}
		f, err := parseFilter(s[:end+1])
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
		s = strings.TrimSpace(s[end+1:])
	}

	return filters, nil
}

func parseItem(s string) (*Filter, error) {
	idx := strings.IndexByte(s, '=')
	if idx <= 0 {
		if idx == 0 {
			return nil, ErrMissingAttribute
		}
		return nil, ErrInvalidFilter
	}

	rawValue := s[idx+1:]
	lhs := s[:idx]

	switch lhs[len(lhs)-1] {
	case '>', '<', '~':
		attr := strings.TrimSpace(lhs[:len(lhs)-1])
		if attr == "" {
			return nil, ErrMissingAttribute
		}
		value, err := unescape(rawValue)
		if err != nil {
			return nil, err
		}
		switch lhs[len(lhs)-1] {
		case '>':
			return NewGreaterOrEqualFilter(attr, value), nil
		case '<':
			return NewLessOrEqualFilter(attr, value), nil
		default:
			return NewApproxMatchFilter(attr, value), nil
		}
	case ':':
		return parseExtensible(lhs[:len(lhs)-1], rawValue)
	}

	attr := strings.TrimSpace(lhs)
	if attr == "" {
		return nil, ErrMissingAttribute
	}
	if rawValue == "*" {
		return NewPresentFilter(attr), nil
	}
	if strings.Contains(rawValue, "*") {
		return parseSubstring(attr, rawValue)
	}

	value, err := unescape(rawValue)
	if err != nil {
		return nil, err
	}
	return NewEqualityFilter(attr, value), nil
}

// parseExtensible parses the left-hand side "attr[:dn][:rule]" of an
// extensible match.
func parseExtensible(lhs, rawValue string) (*Filter, error) {
	parts := strings.Split(lhs, ":")
	attr := strings.TrimSpace(parts[0])

	var rule string
	dnAttrs := false
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			return nil, ErrInvalidFilter
		case strings.EqualFold(p, "dn") && !dnAttrs && rule == "":
			dnAttrs = true
		case rule == "":
			rule = p
		default:
			return nil, ErrInvalidFilter
		}
	}
	if attr == "" && rule == "" {
		return nil, ErrMissingAttribute
	}

	value, err := unescape(rawValue)
	if err != nil {
		return nil, err
	}
	return NewExtensibleMatchFilter(attr, rule, value, dnAttrs), nil
}

func parseSubstring(attr, rawValue string) (*Filter, error) {
	parts := strings.Split(rawValue, "*")
	sf := &SubstringFilter{Attribute: attr}

	decoded := make([][]byte, len(parts))
	for i, p := range parts {
		v, err := unescape(p)
		if err != nil {
			return nil, err
		}
		decoded[i] = v
	}

	if len(decoded[0]) > 0 {
		sf.Initial = decoded[0]
	}
	if last := decoded[len(decoded)-1]; len(last) > 0 {
		sf.Final = last
	}
	for _, v := range decoded[1 : len(decoded)-1] {
		if len(v) > 0 {
			sf.Any = append(sf.Any, v)
		}
	}

	return NewSubstringFilter(sf), nil
}

// unescape decodes RFC 4515 \XX escapes.
func unescape(s string) ([]byte, error) {
	if !strings.Contains(s, `\`) {
		return []byte(s), nil
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return nil, ErrInvalidEscape
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return nil, ErrInvalidEscape
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return out, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// escapeValue encodes the characters RFC 4515 requires to be escaped.
func escapeValue(v []byte) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	for _, c := range v {
		switch c {
		case '*', '(', ')', '\\', 0:
			b.WriteByte('\\')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
