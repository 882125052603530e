package httpcaching

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Resource is an ownership handle around a cached response body. A Resource
// has exactly one logical owner (its Entry); Dispose releases the underlying
// storage and is safe to call more than once.
type Resource interface {
	// Open returns a fresh reader over the body bytes.
	Open() (io.ReadCloser, error)
	// Length returns the body size in bytes.
	Length() int64
	// Bytes returns the body as a byte slice. Callers must not mutate it.
	Bytes() ([]byte, error)
	// Dispose releases the underlying storage exactly once.
	Dispose()
}

// ResourceFactory abstracts the storage medium for response bodies.
type ResourceFactory interface {
	// Create stores the contents of r as a new Resource. The requestID is
	// advisory and may be used to derive storage names.
	Create(requestID string, r io.Reader) (Resource, error)
	// Copy duplicates an existing Resource so two entries never share
	// ownership of the same underlying storage.
	Copy(requestID string, res Resource) (Resource, error)
}

// HeapResource keeps the body in memory.
type HeapResource struct {
	b []byte
}

// NewHeapResource returns a Resource over the given bytes.
func NewHeapResource(b []byte) *HeapResource {
	return &HeapResource{b: b}
}

func (r *HeapResource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.b)), nil
}

func (r *HeapResource) Length() int64 { return int64(len(r.b)) }

func (r *HeapResource) Bytes() ([]byte, error) { return r.b, nil }

// Dispose drops the reference to the buffer.
func (r *HeapResource) Dispose() { r.b = nil }

// HeapResourceFactory creates in-memory resources.
type HeapResourceFactory struct{}

func (HeapResourceFactory) Create(_ string, r io.Reader) (Resource, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body into heap resource: %w", err)
	}
	return NewHeapResource(b), nil
}

func (HeapResourceFactory) Copy(_ string, res Resource) (Resource, error) {
	b, err := res.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return NewHeapResource(out), nil
}

// FileResource keeps the body in a temporary file, deleted on Dispose.
type FileResource struct {
	path string
	size int64
	once sync.Once
}

func (r *FileResource) Open() (io.ReadCloser, error) {
	return os.Open(r.path)
}

func (r *FileResource) Length() int64 { return r.size }

func (r *FileResource) Bytes() ([]byte, error) {
	return os.ReadFile(r.path)
}

// Dispose deletes the backing file. Subsequent calls are no-ops.
func (r *FileResource) Dispose() {
	r.once.Do(func() {
		_ = os.Remove(r.path) //nolint:errcheck // best effort cleanup
	})
}

// FileResourceFactory creates temp-file backed resources in dir. An empty
// dir uses the system default temp directory.
type FileResourceFactory struct {
	Dir string
}

func (f FileResourceFactory) Create(requestID string, r io.Reader) (Resource, error) {
	tmp, err := os.CreateTemp(f.Dir, "httpcaching-*")
	if err != nil {
		return nil, fmt.Errorf("creating resource file for %q: %w", requestID, err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("writing resource file for %q: %w", requestID, err)
	}
	return &FileResource{path: tmp.Name(), size: n}, nil
}

func (f FileResourceFactory) Copy(requestID string, res Resource) (Resource, error) {
	src, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck // read-only stream
	return f.Create(requestID, src)
}

// combinedReadCloser stitches an already-consumed prefix back together with
// the remainder of a live body stream. It is used when the size probe read
// part of a response that turned out to be too large to cache: the caller
// must still receive the complete body with no loss or duplication.
type combinedReadCloser struct {
	reader io.Reader
	body   io.ReadCloser
}

// newCombinedReadCloser returns a ReadCloser yielding prefix followed by the
// unread remainder of body.
func newCombinedReadCloser(prefix []byte, body io.ReadCloser) io.ReadCloser {
	return &combinedReadCloser{
		reader: io.MultiReader(bytes.NewReader(prefix), body),
		body:   body,
	}
}

func (c *combinedReadCloser) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *combinedReadCloser) Close() error {
	return c.body.Close()
}
