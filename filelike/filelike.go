// Package filelike defines the uniform read/write/seek/truncate/close
// contract every AFF4 storage backend implements, and provides the
// os.File-backed implementation (spec §4.D).
package filelike

import "io"

// Whence values for Seek, matching io.Seeker's constants so callers can
// use os.SEEK_SET/io.SeekCurrent/io.SeekEnd interchangeably.
const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

// FileLike is the capability set of §4.D: a position-based stream with
// an observable size, implemented either over a real OS file or over a
// ZIP segment (aff4zip.Segment). Every method is synchronous and
// completes before return (spec §5): there are no suspension points.
type FileLike interface {
	// Read reads up to len(buf) bytes, advancing the logical position.
	// It returns 0, nil at EOF, matching the semantics of spec §4.D
	// rather than io.Reader's io.EOF convention, so callers must check
	// n == 0 rather than the error to detect end of stream.
	Read(buf []byte) (n int, err error)

	// Write writes len(buf) bytes at the current position, extending
	// the logical size when position+len(buf) exceeds it.
	Write(buf []byte) (n int, err error)

	// Seek moves the logical position and returns the new one. For the
	// in-memory view the result is clamped to [0, Size()]; a backing
	// file may still extend past that on a subsequent Write.
	Seek(offset int64, whence int) (int64, error)

	// Truncate adjusts the logical size and clamps the position to it.
	Truncate(offset int64) error

	// Tell returns the current logical position.
	Tell() int64

	// Size returns the current logical size.
	Size() int64

	// Close flushes pending state, publishes final attributes to the
	// resolver (where applicable) and releases backing resources.
	Close() error
}
