// Package blobstore keeps named byte blobs grouped in containers on top of
// Badger. Containers carry a public-read flag; blobs carry a content type.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrContainerNotFound is returned when a container has not been created
	ErrContainerNotFound = errors.New("container not found")

	// ErrBlobNotFound is returned when a blob does not exist
	ErrBlobNotFound = errors.New("blob not found")

	// ErrWriterClosed is returned when writing to a committed or closed writer
	ErrWriterClosed = errors.New("blob writer closed")
)

// Config holds blob store configuration
type Config struct {
	PublicBaseURL string // Prefix for blob URLs, e.g. http://localhost:8080/blobs
}

// ContainerInfo describes a container
type ContainerInfo struct {
	Name      string    `json:"name"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

// Properties describes a stored blob
type Properties struct {
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store is a Badger-backed blob store
type Store struct {
	db      *badger.DB
	baseURL string
	logger  *slog.Logger
}

// New creates a new Store
func New(db *badger.DB, config *Config, logger *slog.Logger) *Store {
	return &Store{
		db:      db,
		baseURL: strings.TrimRight(config.PublicBaseURL, "/"),
		logger:  logger,
	}
}

// CreateContainerIfNotExists creates the container and reports whether it was new
func (s *Store) CreateContainerIfNotExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if name == "" {
		return false, fmt.Errorf("container name is required")
	}

	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(containerKey(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(ContainerInfo{Name: name, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		created = true
		return txn.Set(containerKey(name), data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	if created {
		s.logger.Info("Blob container created",
			slog.String("container", name),
		)
	}

	return created, nil
}

// SetPublicAccess toggles anonymous read access on a container
func (s *Store) SetPublicAccess(ctx context.Context, name string, public bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		info, err := getContainer(txn, name)
		if err != nil {
			return err
		}

		info.Public = public
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return txn.Set(containerKey(name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to set access on container %s: %w", name, err)
	}

	s.logger.Info("Blob container access updated",
		slog.String("container", name),
		slog.Bool("public", public),
	)

	return nil
}

// Container returns container metadata
func (s *Store) Container(ctx context.Context, name string) (*ContainerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info *ContainerInfo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = getContainer(txn, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// OpenReader returns a reader over the blob's current contents
func (s *Store) OpenReader(ctx context.Context, container, name string) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	var props Properties
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getContainer(txn, container); err != nil {
			return err
		}

		item, err := txn.Get(blobKey(container, name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
			}
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}

		metaItem, err := txn.Get(metaKey(container, name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				props = Properties{Size: int64(len(data))}
				return nil
			}
			return err
		}
		return metaItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
	})
	if err != nil {
		return nil, err
	}

	return &Reader{Reader: bytes.NewReader(data), props: props}, nil
}

// Properties returns a blob's stored properties without reading its contents
func (s *Store) Properties(ctx context.Context, container, name string) (*Properties, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var props Properties
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getContainer(txn, container); err != nil {
			return err
		}

		item, err := txn.Get(metaKey(container, name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
	})
	if err != nil {
		return nil, err
	}

	return &props, nil
}

// OpenWriter returns a writer that replaces the blob when committed
func (s *Store) OpenWriter(ctx context.Context, container, name, contentType string) (*Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.Container(ctx, container); err != nil {
		return nil, err
	}

	return &Writer{
		store:       s,
		container:   container,
		name:        name,
		contentType: contentType,
	}, nil
}

// URL returns the public address of a blob
func (s *Store) URL(container, name string) string {
	return s.baseURL + "/" + url.PathEscape(container) + "/" + url.PathEscape(name)
}

func (s *Store) put(container, name, contentType string, metadata map[string]string, data []byte) error {
	props := Properties{
		ContentType: contentType,
		Size:        int64(len(data)),
		UpdatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}
	meta, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal blob properties: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := getContainer(txn, container); err != nil {
			return err
		}
		if err := txn.Set(blobKey(container, name), data); err != nil {
			return err
		}
		return txn.Set(metaKey(container, name), meta)
	})
	if err != nil {
		return fmt.Errorf("failed to write blob %s/%s: %w", container, name, err)
	}

	s.logger.Debug("Blob written",
		slog.String("container", container),
		slog.String("name", name),
		slog.Int64("size", props.Size),
		slog.String("content_type", contentType),
	)

	return nil
}

func getContainer(txn *badger.Txn, name string) (*ContainerInfo, error) {
	item, err := txn.Get(containerKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return nil, err
	}

	var info ContainerInfo
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	}); err != nil {
		return nil, err
	}
	return &info, nil
}

func containerKey(name string) []byte {
	return []byte("blob:container:" + name)
}

func blobKey(container, name string) []byte {
	return []byte("blob:data:" + container + ":" + name)
}

func metaKey(container, name string) []byte {
	return []byte("blob:meta:" + container + ":" + name)
}
