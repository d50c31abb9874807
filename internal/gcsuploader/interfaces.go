package gcsuploader

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Download for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore reads and writes whole objects in one bucket.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Upload writes data under the object name, replacing any existing object.
	Upload(ctx context.Context, object string, data []byte, contentType string) error

	// Download returns the object bytes, or ErrObjectNotFound.
	Download(ctx context.Context, object string) ([]byte, error)
}

var _ ObjectStore = (*BucketStore)(nil)
