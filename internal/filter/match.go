package filter

import (
	"bytes"
	"strings"
)

// matchEquality performs case-insensitive equality matching between two byte slices.
// This is the default matching behavior for string attributes in LDAP.
func matchEquality(a, b []byte) bool {
	return bytes.EqualFold(a, b)
}

// matchEqualityExact performs exact (case-sensitive) equality matching.
func matchEqualityExact(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// matchSubstring checks if a value matches a substring filter pattern.
func matchSubstring(value []byte, initial []byte, any [][]byte, final []byte) bool {
	valueLower := bytes.ToLower(value)
	pos := 0

	if len(initial) > 0 {
		if !bytes.HasPrefix(valueLower, bytes.ToLower(initial)) {
			return false
		}
		pos = len(initial)
	}

	for _, substr := range any {
		if len(substr) == 0 {
			continue
		}
		idx := bytes.Index(valueLower[pos:], bytes.ToLower(substr))
		if idx < 0 {
			return false
		}
		pos += idx + len(substr)
	}

	if len(final) > 0 {
		rest := valueLower[pos:]
		if !bytes.HasSuffix(rest, bytes.ToLower(final)) {
			return false
		}
	}

	return true
}

// matchGreaterOrEqual performs case-insensitive greater-or-equal comparison.
func matchGreaterOrEqual(value, threshold []byte) bool {
	return bytes.Compare(bytes.ToLower(value), bytes.ToLower(threshold)) >= 0
}

// matchLessOrEqual performs case-insensitive less-or-equal comparison.
func matchLessOrEqual(value, threshold []byte) bool {
	return bytes.Compare(bytes.ToLower(value), bytes.ToLower(threshold)) <= 0
}

// matchApprox compares values after lower-casing and collapsing whitespace.
func matchApprox(a, b []byte) bool {
	return NormalizeApprox(a) == NormalizeApprox(b)
}

// NormalizeApprox returns the key used for approximate matching. Storage
// engines that maintain approximate indexes key them on this value.
func NormalizeApprox(value []byte) string {
	return strings.Join(strings.Fields(strings.ToLower(string(value))), " ")
}
