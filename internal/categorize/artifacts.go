package categorize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dvloznov/statement-analytics/internal/gcsuploader"
)

const (
	VectorizerArtifact = "vectorizer.json"
	LabelsArtifact     = "labels.json"
	WeightsArtifact    = "weights.gob"
)

// Bundle holds the three co-versioned artifacts of a trained model.
type Bundle struct {
	Vectorizer []byte
	Labels     []byte
	Weights    []byte
}

// ArtifactStore persists model bundles. Load returns ErrNotTrained unless all
// three artifacts are present.
type ArtifactStore interface {
	Save(ctx context.Context, b *Bundle) error
	Load(ctx context.Context) (*Bundle, error)
}

var (
	_ ArtifactStore = (*FileArtifactStore)(nil)
	_ ArtifactStore = (*GCSArtifactStore)(nil)
)

// FileArtifactStore keeps artifacts in a local directory.
type FileArtifactStore struct {
	Dir string
}

// NewFileArtifactStore creates a store rooted at dir.
func NewFileArtifactStore(dir string) *FileArtifactStore {
	return &FileArtifactStore{Dir: dir}
}

// Save writes each artifact to a temporary file and renames it into place.
func (s *FileArtifactStore) Save(ctx context.Context, b *Bundle) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("FileArtifactStore.Save: creating %s: %w", s.Dir, err)
	}
	for _, a := range b.artifacts() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("FileArtifactStore.Save: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(s.Dir, a.name), a.data); err != nil {
			return fmt.Errorf("FileArtifactStore.Save: %w", err)
		}
	}
	return nil
}

// Load reads all three artifacts.
func (s *FileArtifactStore) Load(ctx context.Context) (*Bundle, error) {
	b := &Bundle{}
	for _, a := range b.targets() {
		data, err := os.ReadFile(filepath.Join(s.Dir, a.name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("FileArtifactStore.Load: %s missing: %w", a.name, ErrNotTrained)
			}
			return nil, fmt.Errorf("FileArtifactStore.Load: reading %s: %w", a.name, err)
		}
		*a.dst = data
	}
	return b, nil
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("renaming into %s: %w", name, err)
	}
	return nil
}

// GCSArtifactStore keeps artifacts under a prefix of a storage bucket.
type GCSArtifactStore struct {
	objects gcsuploader.ObjectStore
	prefix  string
}

// NewGCSArtifactStore creates a store writing to prefix in objects.
func NewGCSArtifactStore(objects gcsuploader.ObjectStore, prefix string) *GCSArtifactStore {
	return &GCSArtifactStore{objects: objects, prefix: prefix}
}

// Save uploads the three artifacts.
func (s *GCSArtifactStore) Save(ctx context.Context, b *Bundle) error {
	for _, a := range b.artifacts() {
		if err := s.objects.Upload(ctx, path.Join(s.prefix, a.name), a.data, a.contentType); err != nil {
			return fmt.Errorf("GCSArtifactStore.Save: %s: %w", a.name, err)
		}
	}
	return nil
}

// Load downloads the three artifacts.
func (s *GCSArtifactStore) Load(ctx context.Context) (*Bundle, error) {
	b := &Bundle{}
	for _, a := range b.targets() {
		data, err := s.objects.Download(ctx, path.Join(s.prefix, a.name))
		if err != nil {
			if errors.Is(err, gcsuploader.ErrObjectNotFound) {
				return nil, fmt.Errorf("GCSArtifactStore.Load: %s missing: %w", a.name, ErrNotTrained)
			}
			return nil, fmt.Errorf("GCSArtifactStore.Load: %s: %w", a.name, err)
		}
		*a.dst = data
	}
	return b, nil
}

type artifact struct {
	name        string
	contentType string
	data        []byte
}

// artifacts lists the bundle in write order. Weights go last.
func (b *Bundle) artifacts() []artifact {
	return []artifact{
		{VectorizerArtifact, "application/json", b.Vectorizer},
		{LabelsArtifact, "application/json", b.Labels},
		{WeightsArtifact, "application/octet-stream", b.Weights},
	}
}

type target struct {
	name string
	dst  *[]byte
}

func (b *Bundle) targets() []target {
	return []target{
		{VectorizerArtifact, &b.Vectorizer},
		{LabelsArtifact, &b.Labels},
		{WeightsArtifact, &b.Weights},
	}
}
