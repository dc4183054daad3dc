package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/cuongbtq/timestamp-worker/shared/blobstore"
)

// BlobStorage exposes the blob store in terms of domain blob refs
type BlobStorage struct {
	store *blobstore.Store
}

// NewBlobStorage creates a new BlobStorage instance
func NewBlobStorage(store *blobstore.Store) *BlobStorage {
	return &BlobStorage{store: store}
}

// OpenReader opens a blob for reading
func (s *BlobStorage) OpenReader(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	r, err := s.store.OpenReader(ctx, ref.Container, ref.Name)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return r, nil
}

// OpenWriter opens a blob for writing with the given content type
func (s *BlobStorage) OpenWriter(ctx context.Context, ref domain.BlobRef, contentType string) (domain.BlobWriter, error) {
	w, err := s.store.OpenWriter(ctx, ref.Container, ref.Name, contentType)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Metadata returns the key/value pairs stored with a blob
func (s *BlobStorage) Metadata(ctx context.Context, ref domain.BlobRef) (map[string]string, error) {
	props, err := s.store.Properties(ctx, ref.Container, ref.Name)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return props.Metadata, nil
}

// URL returns the blob's public address
func (s *BlobStorage) URL(ref domain.BlobRef) string {
	return s.store.URL(ref.Container, ref.Name)
}
