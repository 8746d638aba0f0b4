package spool

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool_ReadThenRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "blob-*")
	require.NoError(t, err)

	_, err = s.Write([]byte("spooled "))
	require.NoError(t, err)
	_, err = s.Write([]byte("content"))
	require.NoError(t, err)

	rc, err := s.Reader()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "spooled content", string(got))

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpool_Discard(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "blob-*")
	require.NoError(t, err)
	s.Discard()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
