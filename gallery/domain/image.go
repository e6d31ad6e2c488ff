package domain

import (
	"context"
	"io"
	"time"
)

// ImageRecord describes one stored image.
// The ID doubles as the file name; StoredAt is derived from it and SizeBytes
// comes from the file on disk at read time.
type ImageRecord struct {
	ID        string
	StoredAt  time.Time
	SizeBytes int64
}

type ImageRepository interface {
	// Store persists content under a freshly generated id with the given extension
	Store(ctx context.Context, content io.Reader, ext string) (*ImageRecord, error)

	// List returns every image currently stored
	List(ctx context.Context) ([]ImageRecord, error)

	// Get returns the metadata for a single image
	Get(ctx context.Context, id string) (*ImageRecord, error)

	// Open returns a reader over the stored bytes. The caller must close it.
	Open(ctx context.Context, id string) (io.ReadCloser, *ImageRecord, error)

	// Delete removes an image; deleting a missing id is ErrNotFound
	Delete(ctx context.Context, id string) error
}
