package backup

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Backup errors.
var (
	ErrBackupNotFound   = errors.New("backup: backup not found")
	ErrBackupExists     = errors.New("backup: backup already exists")
	ErrInvalidBackup    = errors.New("backup: invalid backup")
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")
	ErrInvalidID        = errors.New("backup: invalid identifier")
	ErrDirectoryEmpty   = errors.New("backup: directory is empty")
)

// File name suffixes.
const (
	archiveSuffix    = ".bak.zst"
	descriptorSuffix = ".yaml"
	tmpSuffix        = ".tmp"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID reports whether id can name a backend or a backup.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ParseCompressionLevel maps a configured level name to a zstd level.
// An empty name selects DefaultCompressionLevel.
func ParseCompressionLevel(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return DefaultCompressionLevel, nil
	case "fastest":
		return 1, nil
	case "better":
		return 7, nil
	case "best":
		return 11, nil
	}
	return 0, fmt.Errorf("backup: unknown compression level %q", name)
}

// Descriptor describes one backup archive.
type Descriptor struct {
	ID        string    `yaml:"id"`
	BackendID string    `yaml:"backendID"`
	Created   time.Time `yaml:"created"`
	// Format names the writer of the archive content, e.g. "badger".
	Format string `yaml:"format,omitempty"`
	// Compressed is always true for archives written by this package.
	Compressed       bool   `yaml:"compressed"`
	CompressedSize   int64  `yaml:"compressedSize"`
	UncompressedSize int64  `yaml:"uncompressedSize"`
	EntryCount       uint64 `yaml:"entryCount"`
	// Checksum is the hex SHA-256 of the compressed archive.
	Checksum string `yaml:"checksum"`
}

// CompressionRatio returns UncompressedSize / CompressedSize.
func (d *Descriptor) CompressionRatio() float64 {
	if d.CompressedSize == 0 {
		return 0
	}
	return float64(d.UncompressedSize) / float64(d.CompressedSize)
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.count += int64(n)
	return n, err
}
