// Package storageio is the lowest layer of the engine: raw append and
// random-access file I/O with explicit flush/fsync, matching the teacher's
// heap segment files but generalized to a single data file (the engine
// opens one, data.db, shared by all collections).
package storageio

import (
	"os"
	"sync"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// File is a durable, concurrency-safe file handle. All positional
// operations go straight to the OS file descriptor (no userspace
// buffering), so Flush has nothing to push and does no work, and Fsync
// blocks until the device has the written data.
type File struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64
}

// Open opens or creates path for read/write positional access.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindIO, "storageio.Open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, derrors.Wrap(derrors.KindIO, "storageio.Open", err)
	}
	return &File{f: f, path: path, size: info.Size()}, nil
}

// Append writes data at the current end of file and returns the offset at
// which it landed. Either every byte lands and the file grows by len(data),
// or an error is returned and the file is left unchanged.
func (sf *File) Append(data []byte) (int64, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	offset := sf.size
	n, err := sf.f.WriteAt(data, offset)
	if err != nil {
		// best effort: truncate back any partial write
		sf.f.Truncate(sf.size)
		return 0, derrors.Wrap(derrors.KindIO, "storageio.Append", err)
	}
	if n != len(data) {
		sf.f.Truncate(sf.size)
		return 0, derrors.New(derrors.KindIO, "storageio.Append", "short write")
	}
	sf.size += int64(n)
	return offset, nil
}

// WriteAt is a positional write; it never changes the logical size unless
// it writes past the current end of file.
func (sf *File) WriteAt(offset int64, data []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	n, err := sf.f.WriteAt(data, offset)
	if err != nil {
		return derrors.Wrap(derrors.KindIO, "storageio.WriteAt", err)
	}
	if n != len(data) {
		return derrors.New(derrors.KindIO, "storageio.WriteAt", "short write")
	}
	if end := offset + int64(n); end > sf.size {
		sf.size = end
	}
	return nil
}

// ReadAt reads exactly length bytes starting at offset.
func (sf *File) ReadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	sf.mu.Lock()
	defer sf.mu.Unlock()

	n, err := sf.f.ReadAt(buf, offset)
	if err != nil && n != length {
		return nil, derrors.Wrap(derrors.KindIO, "storageio.ReadAt", err)
	}
	return buf, nil
}

// Flush is a no-op at this layer: every write already goes through the
// kernel file descriptor, there is no userspace buffer to push. It exists
// so callers can treat Flush/Fsync as the two-stage durability contract
// the spec describes, with higher layers (WAL, page cache) supplying the
// actual buffering.
func (sf *File) Flush() error { return nil }

// Fsync blocks until the file's data has reached durable media.
func (sf *File) Fsync() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.f.Sync(); err != nil {
		return derrors.Wrap(derrors.KindIO, "storageio.Fsync", err)
	}
	return nil
}

// Truncate shrinks (or grows) the file to exactly size bytes.
func (sf *File) Truncate(size int64) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.f.Truncate(size); err != nil {
		return derrors.Wrap(derrors.KindIO, "storageio.Truncate", err)
	}
	sf.size = size
	return nil
}

// Size is authoritative for end-of-file.
func (sf *File) Size() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.size
}

func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.f.Close()
}

// Path returns the underlying file path, used by callers that need to
// reopen or rotate the file.
func (sf *File) Path() string { return sf.path }
