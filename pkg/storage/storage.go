// Package storage keeps uploaded import files so an interrupted job can be
// restarted from the original bytes.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no upload has the requested id.
var ErrNotFound = errors.New("upload not found")

// FileInfo contains metadata about a stored upload
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // relative to the owner directory
	CreatedAt   time.Time `json:"created_at"`
}

// Storage defines the upload operations the import pipeline needs
type Storage interface {
	// Upload stores a file under ownerID and returns its metadata
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// Download opens a stored file
	Download(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error

	// List returns all uploads of an owner
	List(ctx context.Context, ownerID uuid.UUID) ([]*FileInfo, error)

	GetInfo(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (*FileInfo, error)

	// Walk calls fn for every stored upload of every owner
	Walk(ctx context.Context, fn func(*FileInfo) error) error
}
