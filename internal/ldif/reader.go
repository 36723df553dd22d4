package ldif

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// LDIF errors.
var (
	ErrInvalidLDIF   = errors.New("ldif: invalid LDIF format")
	ErrMissingDN     = errors.New("ldif: missing DN in entry")
	ErrInvalidBase64 = errors.New("ldif: invalid base64 encoding")
	ErrUnsupported   = errors.New("ldif: unsupported record")
)

// maxLineSize bounds a single physical line.
const maxLineSize = 16 * 1024 * 1024

// Reader reads entries from an LDIF stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	// pending holds a logical line read ahead of the current record.
	pending    string
	hasPending bool
	// recordLine is the line number of the current record's dn line.
	recordLine int
	versionSeen bool
}

// NewReader creates a Reader.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Line returns the line number of the dn line of the entry most recently
// returned by Next.
func (r *Reader) Line() int {
	return r.recordLine
}

// ParseError reports the line at which a record could not be parsed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Next returns the next entry, or io.EOF when the stream is exhausted.
// After a *ParseError the reader skips to the next record, so callers may
// reject the bad record and continue.
func (r *Reader) Next() (*storage.Entry, error) {
	var (
		entry *storage.Entry
		bad   error
	)
	for {
		line, startLine, ok, err := r.logicalLine()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLDIF, err)
		}
		if !ok || line == "" {
			if bad != nil {
				return nil, bad
			}
			if entry != nil {
				return entry, nil
			}
			if !ok {
				return nil, io.EOF
			}
			continue
		}
		if bad != nil {
			continue
		}

		name, value, err := parseLine(line)
		if err != nil {
			bad = &ParseError{Line: startLine, Err: err}
			continue
		}

		if entry == nil {
			switch {
			case name == "version" && !r.versionSeen:
				r.versionSeen = true
				if string(value) != "1" {
					bad = &ParseError{Line: startLine, Err: fmt.Errorf("%w: version %q", ErrUnsupported, value)}
				}
				continue
			case name != "dn":
				bad = &ParseError{Line: startLine, Err: ErrMissingDN}
				continue
			}
			r.versionSeen = true
			if len(value) == 0 {
				bad = &ParseError{Line: startLine, Err: ErrMissingDN}
				continue
			}
			r.recordLine = startLine
			entry = storage.NewEntry(string(value))
			continue
		}

		if name == "changetype" || name == "control" {
			bad = &ParseError{Line: startLine, Err: fmt.Errorf("%w: %s", ErrUnsupported, name)}
			continue
		}
		entry.AddAttributeValue(name, value)
	}
}

// logicalLine returns the next logical line with continuations joined
// and comments removed. ok is false at end of input.
func (r *Reader) logicalLine() (line string, start int, ok bool, err error) {
	var b strings.Builder
	have := false
	for {
		var phys string
		if r.hasPending {
			phys, r.hasPending = r.pending, false
		} else {
			if !r.scanner.Scan() {
				if err := r.scanner.Err(); err != nil {
					return "", 0, false, err
				}
				return b.String(), start, have, nil
			}
			r.line++
			phys = strings.TrimSuffix(r.scanner.Text(), "\r")
		}

		if strings.HasPrefix(phys, " ") && have {
			b.WriteString(phys[1:])
			continue
		}
		if have {
			r.pending, r.hasPending = phys, true
			return b.String(), start, true, nil
		}
		if strings.HasPrefix(phys, "#") {
			// A comment may be folded too; swallow its continuations.
			for r.scanner.Scan() {
				r.line++
				next := strings.TrimSuffix(r.scanner.Text(), "\r")
				if !strings.HasPrefix(next, " ") {
					r.pending, r.hasPending = next, true
					break
				}
			}
			continue
		}
		if phys == "" {
			return "", r.line, true, nil
		}
		b.WriteString(phys)
		start = r.line
		have = true
	}
}

// parseLine splits "name: value", "name:: base64" or "name:< url".
// Attribute options are kept as part of the lower-cased name.
func parseLine(line string) (string, []byte, error) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", nil, fmt.Errorf("%w: missing colon", ErrInvalidLDIF)
	}
	name := strings.ToLower(strings.TrimSpace(line[:colon]))
	rest := line[colon+1:]

	switch {
	case strings.HasPrefix(rest, ":"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[1:]))
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
		return name, decoded, nil
	case strings.HasPrefix(rest, "<"):
		return "", nil, fmt.Errorf("%w: URL value for %s", ErrUnsupported, name)
	default:
		return name, []byte(strings.TrimLeft(rest, " ")), nil
	}
}

// ReadAll reads every entry from r. It stops at the first error.
func ReadAll(r io.Reader) ([]*storage.Entry, error) {
	lr := NewReader(r)
	var entries []*storage.Entry
	for {
		entry, err := lr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}
