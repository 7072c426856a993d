package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
// It matches os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for names that are empty, contain a path
// separator or look like an in-flight temporary file.
var ErrInvalidName = errors.New("blobstore: invalid blob name")

// BlobStore is a flat namespace of immutable blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a blob.
type Blob interface {
	io.Closer
	// ReadAt reads len(p) bytes at off; a short read returns io.EOF.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is implemented by blobs whose content is addressable in memory.
type Mappable interface {
	// Bytes returns the content. The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

const tmpMarker = ".tmp-"

// ValidName reports whether name can be used as a blob name.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\\\x00") &&
		!strings.Contains(name, tmpMarker)
}

// View calls fn with the whole content of a blob. For mappable blobs the
// slice aliases the mapping and must not be retained after fn returns.
func View(ctx context.Context, s BlobStore, name string, fn func([]byte) error) error {
	b, err := s.Open(ctx, name)
	if err != nil {
		return err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return err
		}
		return fn(data)
	}
	data, err := readFull(ctx, b)
	if err != nil {
		return err
	}
	return fn(data)
}

// ReadAll returns a copy of a blob's content.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	var out []byte
	err := View(ctx, s, name, func(data []byte) error {
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// Exists reports whether a blob is present.
func Exists(ctx context.Context, s BlobStore, name string) (bool, error) {
	b, err := s.Open(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, b.Close()
}

func readFull(ctx context.Context, b Blob) ([]byte, error) {
	data := make([]byte, b.Size())
	if len(data) == 0 {
		return data, nil
	}
	n, err := b.ReadAt(ctx, data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		return nil, err
	}
	return data[:n], nil
}
