package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// DefaultCompressionLevel is the zstd level used when none is configured.
const DefaultCompressionLevel = 3

// Manager creates, lists, opens and removes backup archives under one
// backup directory.
type Manager struct {
	dir    string
	level  int
	format string
	logger logging.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompressionLevel sets the zstd compression level (1-22).
func WithCompressionLevel(level int) Option {
	return func(m *Manager) {
		if level > 0 {
			m.level = level
		}
	}
}

// WithFormat sets the Format recorded in descriptors.
func WithFormat(format string) Option {
	return func(m *Manager) {
		m.format = format
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager for dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		level:  DefaultCompressionLevel,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) backendDir(backendID string) string {
	return filepath.Join(m.dir, backendID)
}

func (m *Manager) paths(backendID, id string) (archive, descriptor string) {
	base := filepath.Join(m.backendDir(backendID), id)
	return base + archiveSuffix, base + descriptorSuffix
}

// Create writes a new archive for backendID. An empty id is replaced by a
// random UUID. write streams the uncompressed content and returns the
// number of entries it contains.
func (m *Manager) Create(ctx context.Context, backendID, id string, write func(w io.Writer) (uint64, error)) (*Descriptor, error) {
	if m.dir == "" {
		return nil, ErrDirectoryEmpty
	}
	if err := ValidateID(backendID); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.backendDir(backendID), 0o750); err != nil {
		return nil, fmt.Errorf("backup: create directory: %w", err)
	}

	archivePath, descPath := m.paths(backendID, id)
	if _, err := os.Stat(descPath); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrBackupExists, backendID, id)
	}

	tmpPath := archivePath + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("backup: create temp file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	compressed := &countingWriter{w: io.MultiWriter(f, hasher)}
	enc, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(m.level)))
	if err != nil {
		return nil, fmt.Errorf("backup: create encoder: %w", err)
	}
	uncompressed := &countingWriter{w: enc}

	entries, err := write(uncompressed)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("backup: write archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("backup: close encoder: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("backup: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("backup: close: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return nil, fmt.Errorf("backup: rename: %w", err)
	}
	cleanup = false

	desc := &Descriptor{
		ID:               id,
		BackendID:        backendID,
		Created:          m.now().UTC(),
		Format:           m.format,
		Compressed:       true,
		CompressedSize:   compressed.count,
		UncompressedSize: uncompressed.count,
		EntryCount:       entries,
		Checksum:         hex.EncodeToString(hasher.Sum(nil)),
	}
	if err := writeDescriptor(descPath, desc); err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	m.logger.Info("backup created",
		"backend", backendID,
		"backup_id", id,
		"entries", entries,
		"compressed_bytes", desc.CompressedSize,
		"ratio", desc.CompressionRatio(),
	)
	return desc, nil
}

func writeDescriptor(path string, desc *Descriptor) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("backup: encode descriptor: %w", err)
	}
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("backup: write descriptor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backup: rename descriptor: %w", err)
	}
	return nil
}

func readDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backup: read descriptor: %w", err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: descriptor %s: %v", ErrInvalidBackup, filepath.Base(path), err)
	}
	return &desc, nil
}

// Get returns the descriptor of a backup.
func (m *Manager) Get(backendID, id string) (*Descriptor, error) {
	if err := ValidateID(backendID); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	_, descPath := m.paths(backendID, id)
	return readDescriptor(descPath)
}

// List returns the descriptors of backendID's backups, oldest first.
func (m *Manager) List(backendID string) ([]*Descriptor, error) {
	if err := ValidateID(backendID); err != nil {
		return nil, err
	}
	names, err := os.ReadDir(m.backendDir(backendID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}

	var out []*Descriptor
	for _, de := range names {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, descriptorSuffix) {
			continue
		}
		desc, err := readDescriptor(filepath.Join(m.backendDir(backendID), name))
		if err != nil {
			m.logger.Warn("skipping unreadable backup descriptor", "file", name, "error", err)
			continue
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// Latest returns the most recent backup of backendID.
func (m *Manager) Latest(backendID string) (*Descriptor, error) {
	all, err := m.List(backendID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrBackupNotFound
	}
	return all[len(all)-1], nil
}

// Remove deletes a backup's archive and descriptor.
func (m *Manager) Remove(backendID, id string) error {
	if _, err := m.Get(backendID, id); err != nil {
		return err
	}
	archivePath, descPath := m.paths(backendID, id)
	// Descriptor first: a lone archive is never listed.
	if err := os.Remove(descPath); err != nil {
		return fmt.Errorf("backup: remove descriptor: %w", err)
	}
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup: remove archive: %w", err)
	}
	m.logger.Info("backup removed", "backend", backendID, "backup_id", id)
	return nil
}

// Open verifies a backup's checksum and returns a reader of its
// uncompressed content. The caller closes the reader.
func (m *Manager) Open(backendID, id string) (io.ReadCloser, *Descriptor, error) {
	desc, err := m.Get(backendID, id)
	if err != nil {
		return nil, nil, err
	}
	archivePath, _ := m.paths(backendID, id)
	if err := verifyChecksum(archivePath, desc.Checksum); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: open archive: %w", err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return &archiveReader{dec: dec, f: f}, desc, nil
}

// Verify checks a backup's checksum and decodes the whole archive without
// using its content.
func (m *Manager) Verify(ctx context.Context, backendID, id string) (*Descriptor, error) {
	rc, desc, err := m.Open(backendID, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, 64*1024)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, err := rc.Read(buf)
		n += int64(k)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
		}
	}
	if n != desc.UncompressedSize {
		return nil, fmt.Errorf("%w: decoded %d bytes, descriptor says %d", ErrInvalidBackup, n, desc.UncompressedSize)
	}
	return desc, nil
}

func verifyChecksum(path, want string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: archive missing", ErrInvalidBackup)
	}
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("backup: read archive: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, filepath.Base(path))
	}
	return nil
}

// archiveReader closes both the decoder and the file.
type archiveReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *archiveReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *archiveReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
