package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(s string, entries uint64) func(io.Writer) (uint64, error) {
	return func(w io.Writer) (uint64, error) {
		_, err := io.WriteString(w, s)
		return entries, err
	}
}

func TestCreateOpen(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir(), WithFormat("badger"))
	content := strings.Repeat("directory data ", 1000)

	desc, err := m.Create(ctx, "userRoot", "", writeString(content, 42))
	require.NoError(t, err)
	assert.NotEmpty(t, desc.ID)
	assert.Equal(t, "userRoot", desc.BackendID)
	assert.Equal(t, "badger", desc.Format)
	assert.Equal(t, uint64(42), desc.EntryCount)
	assert.Equal(t, int64(len(content)), desc.UncompressedSize)
	assert.Less(t, desc.CompressedSize, desc.UncompressedSize)
	assert.Greater(t, desc.CompressionRatio(), 1.0)

	rc, got, err := m.Open("userRoot", desc.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, desc.Checksum, got.Checksum)

	_, err = m.Verify(ctx, "userRoot", desc.ID)
	require.NoError(t, err)
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())

	_, err := m.Create(ctx, "../escape", "", writeString("x", 1))
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = m.Create(ctx, "userRoot", "a/b", writeString("x", 1))
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = m.Create(ctx, "userRoot", "b1", writeString("x", 1))
	require.NoError(t, err)
	_, err = m.Create(ctx, "userRoot", "b1", writeString("x", 1))
	assert.ErrorIs(t, err, ErrBackupExists)

	boom := assert.AnError
	_, err = m.Create(ctx, "userRoot", "b2", func(io.Writer) (uint64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, err = m.Get("userRoot", "b2")
	assert.ErrorIs(t, err, ErrBackupNotFound)
	matches, _ := filepath.Glob(filepath.Join(m.Dir(), "userRoot", "*.tmp"))
	assert.Empty(t, matches)

	_, err = NewManager("").Create(ctx, "userRoot", "", writeString("x", 1))
	assert.ErrorIs(t, err, ErrDirectoryEmpty)
}

func TestListLatestRemove(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		m.now = func() time.Time { return ts }
		_, err := m.Create(ctx, "userRoot", id, writeString(id, uint64(i)))
		require.NoError(t, err)
	}

	all, err := m.List("userRoot")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].ID)

	latest, err := m.Latest("userRoot")
	require.NoError(t, err)
	assert.Equal(t, "third", latest.ID)

	require.NoError(t, m.Remove("userRoot", "second"))
	all, err = m.List("userRoot")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.ErrorIs(t, m.Remove("userRoot", "second"), ErrBackupNotFound)

	none, err := m.List("otherRoot")
	require.NoError(t, err)
	assert.Empty(t, none)
	_, err = m.Latest("otherRoot")
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestTamperedArchive(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	desc, err := m.Create(ctx, "userRoot", "b1", writeString("payload", 1))
	require.NoError(t, err)

	archive, _ := m.paths("userRoot", desc.ID)
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(archive, data, 0o640))

	_, _, err = m.Open("userRoot", desc.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	_, err = m.Verify(ctx, "userRoot", desc.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDescriptorIsYAML(t *testing.T) {
	m := NewManager(t.TempDir())
	desc, err := m.Create(context.Background(), "userRoot", "b1", writeString("x", 7))
	require.NoError(t, err)

	_, descPath := m.paths("userRoot", desc.ID)
	data, err := os.ReadFile(descPath)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("entryCount: 7")))
	assert.True(t, bytes.Contains(data, []byte("backendID: userRoot")))
}

func TestParseCompressionLevel(t *testing.T) {
	for name, want := range map[string]int{"": DefaultCompressionLevel, "fastest": 1, "Default": DefaultCompressionLevel, "best": 11} {
		got, err := ParseCompressionLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseCompressionLevel("ultra")
	assert.Error(t, err)
}
