package blobstore

import (
	"bytes"
	"sync"
)

// Reader reads a snapshot of a blob
type Reader struct {
	*bytes.Reader
	props Properties
}

// Properties returns the blob's stored properties
func (r *Reader) Properties() Properties {
	return r.props
}

// Close releases the reader
func (r *Reader) Close() error {
	return nil
}

// Writer buffers blob contents until Commit. Closing an uncommitted writer
// discards everything written to it.
type Writer struct {
	store       *Store
	container   string
	name        string
	contentType string
	metadata    map[string]string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	return w.buf.Write(p)
}

// SetMetadata attaches a key/value pair stored with the blob on commit
func (w *Writer) SetMetadata(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	w.metadata[key] = value
}

// Commit stores the buffered contents and closes the writer
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := w.store.put(w.container, w.name, w.contentType, w.metadata, w.buf.Bytes()); err != nil {
		return err
	}

	w.closed = true
	w.buf.Reset()
	return nil
}

// Close releases the writer. It is safe to call after Commit.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.buf.Reset()
	return nil
}
