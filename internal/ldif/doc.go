// Package ldif reads and writes directory entries in LDIF (RFC 2849).
//
// Only content records are supported: a "dn:" line followed by attribute
// lines, with base64 values ("::"), folded continuation lines and "#"
// comments. Change records and URL values ("<") are rejected.
//
// The Reader streams one entry at a time, so arbitrarily large files can be
// imported without holding them in memory:
//
//	r := ldif.NewReader(f)
//	for {
//		entry, err := r.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package ldif
