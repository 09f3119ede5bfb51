package filelike

import (
	"fmt"
	"os"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
)

// OSFile is the OS-backed FileLike implementation, the "file:" scheme
// object of spec §4.D / §3. It tracks its own logical size and position
// rather than trusting os.File's cursor directly, so Seek/Truncate can
// apply the same clamping rules the in-memory view requires regardless
// of platform.
type OSFile struct {
	r    *resolver.Resolver
	u    *urn.URN
	fd   *os.File
	pos  int64
	size int64
}

// OpenOSFile opens (or creates, for mode "w") the OS file at path, whose
// URN is "file://" followed by path. On success the file's current
// size is published to the resolver under PredicateSize, mirroring the
// original FileBackedObject constructor's cache-invalidation dance: if
// the resolver already held a different size for this URN, every triple
// for it is dropped first since the backing bytes no longer match
// whatever the resolver thought it knew.
func OpenOSFile(r *resolver.Resolver, path string, mode string) (*OSFile, error) {
	u := urn.New("file://" + path)

	var flags int
	switch mode {
	case "r":
		flags = os.O_RDONLY
	case "w":
		flags = os.O_CREATE | os.O_RDWR
	default:
		return nil, fmt.Errorf("filelike: unknown mode %q: %w", mode, aff4error.ErrRuntime)
	}

	fd, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelike: can't open %s: %w", path, aff4error.ErrIOError)
	}

	info, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("filelike: can't stat %s: %w", path, aff4error.ErrIOError)
	}
	size := info.Size()

	if prior, ok := r.Resolve(u.Value(), resolver.PredicateSize); ok && prior.Integer != size {
		r.Del(u.Value(), "")
	}
	r.Set(u.Value(), resolver.PredicateSize, rdfvalue.Int(size))

	return &OSFile{r: r, u: u, fd: fd, size: size}, nil
}

// URN returns the file's identity.
func (f *OSFile) URN() *urn.URN {
	return f.u
}

// Read implements FileLike.
func (f *OSFile) Read(buf []byte) (int, error) {
	if f.pos >= f.size {
		return 0, nil
	}
	n, err := f.fd.ReadAt(buf, f.pos)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("filelike: read %s: %w", f.u, aff4error.ErrIOError)
	}
	f.pos += int64(n)
	return n, nil
}

// Write implements FileLike.
func (f *OSFile) Write(buf []byte) (int, error) {
	n, err := f.fd.WriteAt(buf, f.pos)
	if err != nil {
		return n, fmt.Errorf("filelike: write %s: %w", f.u, aff4error.ErrIOError)
	}
	f.pos += int64(n)
	if f.pos > f.size {
		f.size = f.pos
	}
	return n, nil
}

// Seek implements FileLike, clamping to [0, Size()].
func (f *OSFile) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case SeekSet:
		target = offset
	case SeekCur:
		target = f.pos + offset
	case SeekEnd:
		target = f.size + offset
	default:
		return f.pos, fmt.Errorf("filelike: bad whence %d: %w", whence, aff4error.ErrRuntime)
	}
	if target < 0 {
		target = 0
	}
	if target > f.size {
		target = f.size
	}
	f.pos = target
	return f.pos, nil
}

// Truncate implements FileLike.
func (f *OSFile) Truncate(offset int64) error {
	if err := f.fd.Truncate(offset); err != nil {
		return fmt.Errorf("filelike: truncate %s: %w", f.u, aff4error.ErrIOError)
	}
	f.size = offset
	if f.pos > f.size {
		f.pos = f.size
	}
	return nil
}

// Tell implements FileLike.
func (f *OSFile) Tell() int64 { return f.pos }

// Size implements FileLike.
func (f *OSFile) Size() int64 { return f.size }

// Close implements FileLike: publishes the final size and releases the
// OS handle.
func (f *OSFile) Close() error {
	f.r.Set(f.u.Value(), resolver.PredicateSize, rdfvalue.Int(f.size))
	if err := f.fd.Close(); err != nil {
		return fmt.Errorf("filelike: close %s: %w", f.u, aff4error.ErrIOError)
	}
	return nil
}

var _ FileLike = (*OSFile)(nil)
