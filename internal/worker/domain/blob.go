package domain

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

const (
	// TimestampSuffix is appended to the stem of a source blob name
	TimestampSuffix = "new.jpg"

	// JPEGContentType is forced on every timestamped blob
	JPEGContentType = "image/jpeg"

	// StampedMetadataKey marks blobs written by the worker
	StampedMetadataKey = "timestamped"
)

// BlobRef locates a blob inside a container
type BlobRef struct {
	Container string
	Name      string
}

func (r BlobRef) String() string {
	return r.Container + "/" + r.Name
}

// SourceBlobRef derives the blob holding an ad's current image from its URL.
// Only the last path segment is used; the container is the configured one.
func SourceBlobRef(container, imageURL string) (BlobRef, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return BlobRef{}, fmt.Errorf("%w: %v", ErrInvalidImageRef, err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return BlobRef{}, fmt.Errorf("%w: %q has no blob name", ErrInvalidImageRef, imageURL)
	}

	return BlobRef{Container: container, Name: name}, nil
}

// TimestampedName returns the destination blob name for a source blob name
func TimestampedName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + TimestampSuffix
}

// IsTimestamped reports whether name could be the output of TimestampedName.
// Uploads may carry such a name too, so it is only a hint.
func IsTimestamped(name string) bool {
	return strings.HasSuffix(name, TimestampSuffix)
}

// Timestamped returns the destination ref in the same container
func (r BlobRef) Timestamped() BlobRef {
	return BlobRef{Container: r.Container, Name: TimestampedName(r.Name)}
}

// BlobWriter buffers a blob until Commit. Close releases the writer and
// discards anything not committed.
type BlobWriter interface {
	io.Writer
	SetMetadata(key, value string)
	Commit() error
	Close() error
}
