package ldif

import (
	"bufio"
	"encoding/base64"
	"io"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// DefaultWrapColumn is the column at which long lines are folded.
const DefaultWrapColumn = 76

// Writer writes entries in LDIF.
type Writer struct {
	w    *bufio.Writer
	wrap int
	// exclude holds lower-cased attribute names left out of the output.
	exclude map[string]struct{}
	count   uint64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWrapColumn sets the fold column. Zero or less disables folding.
func WithWrapColumn(col int) WriterOption {
	return func(w *Writer) {
		w.wrap = col
	}
}

// WithExcludedAttributes leaves the named attributes out of every entry.
func WithExcludedAttributes(names ...string) WriterOption {
	return func(w *Writer) {
		for _, n := range names {
			w.exclude[strings.ToLower(n)] = struct{}{}
		}
	}
}

// NewWriter creates a Writer. Call Flush when done.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	lw := &Writer{
		w:       bufio.NewWriter(w),
		wrap:    DefaultWrapColumn,
		exclude: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(lw)
	}
	return lw
}

// Write writes one entry followed by a blank line. Attributes are written
// in name order.
func (w *Writer) Write(entry *storage.Entry) error {
	if err := w.writeLine("dn", []byte(entry.DN)); err != nil {
		return err
	}
	for _, name := range entry.AttributeNames() {
		if _, skip := w.exclude[name]; skip {
			continue
		}
		for _, v := range entry.Attributes[name] {
			if err := w.writeLine(name, v); err != nil {
				return err
			}
		}
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteComment writes text as a comment line. Line breaks in text are
// replaced by spaces.
func (w *Writer) WriteComment(text string) error {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	return w.fold("# " + text)
}

// Count returns the number of entries written.
func (w *Writer) Count() uint64 {
	return w.count
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) writeLine(name string, value []byte) error {
	var line string
	if needsBase64(value) {
		line = name + ":: " + base64.StdEncoding.EncodeToString(value)
	} else {
		line = name + ": " + string(value)
	}
	return w.fold(line)
}

// fold writes line, continuing it on lines that start with a space once
// it exceeds the wrap column.
func (w *Writer) fold(line string) error {
	if w.wrap <= 1 || len(line) <= w.wrap {
		_, err := w.w.WriteString(line + "\n")
		return err
	}
	if _, err := w.w.WriteString(line[:w.wrap] + "\n"); err != nil {
		return err
	}
	rest := line[w.wrap:]
	for len(rest) > 0 {
		n := min(w.wrap-1, len(rest))
		if _, err := w.w.WriteString(" " + rest[:n] + "\n"); err != nil {
			return err
		}
		rest = rest[n:]
	}
	return nil
}

// needsBase64 reports whether a value is not a SAFE-STRING in the sense of
// RFC 2849.
func needsBase64(value []byte) bool {
	if len(value) == 0 {
		return false
	}
	switch value[0] {
	case ' ', ':', '<':
		return true
	}
	if value[len(value)-1] == ' ' {
		return true
	}
	for _, b := range value {
		if b == 0 || b == '\n' || b == '\r' || b > 0x7E {
			return true
		}
	}
	return false
}
