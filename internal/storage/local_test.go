package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

func TestLocalStore_SaveOpenDelete(t *testing.T) {
	fs, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	data := []byte("%PDF-1.7 resume")

	n, hash, err := fs.Save(ctx, "documents/jane_doe_1.pdf", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	got, err := ReadAll(ctx, fs, "documents/jane_doe_1.pdf", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = ReadAll(ctx, fs, "documents/jane_doe_1.pdf", 4)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	require.NoError(t, fs.Delete(ctx, "documents/jane_doe_1.pdf"))
	_, _, err = fs.Open(ctx, "documents/jane_doe_1.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, fs.Delete(ctx, "documents/jane_doe_1.pdf"))
}

func TestCleanPath(t *testing.T) {
	for _, bad := range []string{"", "  ", "..", "../etc/passwd", "documents/../../x"} {
		_, err := cleanPath(bad)
		assert.ErrorIs(t, err, common.ErrInvalidInput, bad)
	}
	got, err := cleanPath("/documents//a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "documents/a.pdf", got)
}
