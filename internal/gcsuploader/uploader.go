// Package gcsuploader moves statement uploads and model artifacts in and out
// of Google Cloud Storage.
package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// BucketStore is the ObjectStore backed by one GCS bucket.
type BucketStore struct {
	client *storage.Client
	bucket string
}

// NewBucketStore creates a storage client for bucket.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
func NewBucketStore(ctx context.Context, bucket string) (*BucketStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewBucketStore: bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewBucketStore: create storage client: %w", err)
	}
	return &BucketStore{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (s *BucketStore) Close() error {
	return s.client.Close()
}

// Upload implements ObjectStore.
func (s *BucketStore) Upload(ctx context.Context, object string, data []byte, contentType string) error {
	return UploadBytesWithClient(ctx, s.client, s.bucket, object, data, contentType)
}

// Download implements ObjectStore.
func (s *BucketStore) Download(ctx context.Context, object string) ([]byte, error) {
	return DownloadWithClient(ctx, s.client, s.bucket, object)
}

// UploadFile uploads a local file and returns its gs:// URI.
func (s *BucketStore) UploadFile(ctx context.Context, object, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	if err := uploadReader(ctx, s.client, s.bucket, object, f, ""); err != nil {
		return "", fmt.Errorf("UploadFile: %w", err)
	}
	return "gs://" + s.bucket + "/" + object, nil
}

// UploadBytesWithClient writes data to bucket/object using an existing client.
func UploadBytesWithClient(ctx context.Context, client *storage.Client, bucket, object string, data []byte, contentType string) error {
	if err := uploadReader(ctx, client, bucket, object, bytes.NewReader(data), contentType); err != nil {
		return fmt.Errorf("UploadBytesWithClient: %w", err)
	}
	return nil
}

func uploadReader(ctx context.Context, client *storage.Client, bucket, object string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload of %s/%s: %w", bucket, object, err)
	}
	return nil
}

// DownloadWithClient reads bucket/object using an existing client.
func DownloadWithClient(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("DownloadWithClient: %s/%s: %w", bucket, object, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("DownloadWithClient: open reader %s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("DownloadWithClient: read %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FetchFromGCS downloads the bytes at a gs:// URI with a short-lived client.
func FetchFromGCS(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}
	store, err := NewBucketStore(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}
	defer store.Close()

	data, err := store.Download(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}
	return data, nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ObjectName builds a dated object path for an uploaded statement, e.g.
// "statements/2024/03/<id>/statement.json".
func ObjectName(prefix, id, filename string, at time.Time) string {
	return path.Join(prefix, at.UTC().Format("2006/01"), id, path.Base(filename))
}
