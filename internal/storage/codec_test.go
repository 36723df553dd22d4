package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEntry(t *testing.T) {
	e := NewEntry("uid=alice,ou=users,dc=example,dc=com")
	e.SetStringAttribute("objectClass", "top", "person")
	e.SetStringAttribute("cn", "Alice")
	e.SetAttribute("jpegPhoto", []byte{0x00, 0xff, 0x10})

	data, err := EncodeEntry(e)
	require.NoError(t, err)

	got, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.DN, got.DN)
	assert.Equal(t, e.Attributes, got.Attributes)
}

func TestEncodeEntryDeterministic(t *testing.T) {
	a := NewEntry("cn=x")
	a.SetStringAttribute("b", "2")
	a.SetStringAttribute("a", "1")
	b := NewEntry("cn=x")
	b.SetStringAttribute("a", "1")
	b.SetStringAttribute("b", "2")

	da, err := EncodeEntry(a)
	require.NoError(t, err)
	db, err := EncodeEntry(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDecodeEntryCorrupt(t *testing.T) {
	e := NewEntry("cn=x")
	e.SetStringAttribute("cn", "x")
	data, err := EncodeEntry(e)
	require.NoError(t, err)

	for _, n := range []int{0, 3, 7, len(data) - 1} {
		_, err := DecodeEntry(data[:n])
		assert.ErrorIs(t, err, ErrCorrupt, "truncated to %d", n)
	}

	_, err = DecodeEntry(append(data, 0))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = EncodeEntry(nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}
