package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	owner := uuid.New()
	info, err := store.Upload(ctx, owner, "../家庭/账单.xlsx", "application/octet-stream", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, owner, info.OwnerID)
	assert.NotContains(t, info.Path, "/")

	rc, got, err := store.Download(ctx, owner, info.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, info.ID, got.ID)
}

func TestLocalStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Download(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an unknown upload is a no-op
	assert.NoError(t, store.Delete(ctx, uuid.New(), uuid.New()))
}

func TestLocalStorage_DeleteAndWalk(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ownerA, ownerB := uuid.New(), uuid.New()
	a, err := store.Upload(ctx, ownerA, "a.csv", "text/csv", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = store.Upload(ctx, ownerB, "b.csv", "text/csv", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	var seen []string
	require.NoError(t, store.Walk(ctx, func(info *FileInfo) error {
		seen = append(seen, info.Name)
		return nil
	}))
	assert.ElementsMatch(t, []string{"a.csv", "b.csv"}, seen)

	require.NoError(t, store.Delete(ctx, ownerA, a.ID))
	files, err := store.List(ctx, ownerA)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.xlsx", "report.xlsx"},
		{"a/b\\c.csv", "a_b_c.csv"},
		{"../../etc", "____etc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
