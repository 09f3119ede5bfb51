// Package aff4error defines the error taxonomy shared by every AFF4 core
// component. Callers should use errors.Is against the sentinels below;
// call sites wrap them with fmt.Errorf("...: %w", ...) to add context,
// the same way rclone backends wrap fs.ErrorObjectNotFound.
package aff4error

import "errors"

// Sentinels for the kinds listed in spec §7. They are not meant to be
// returned bare - wrap them with context at the call site.
var (
	// ErrNotFound: URN unknown to the resolver, or segment missing from
	// the central directory.
	ErrNotFound = errors.New("aff4: not found")

	// ErrNotAZipFile: the EOCD scan failed in read mode.
	ErrNotAZipFile = errors.New("aff4: not a zip file")

	// ErrIOError: underlying read/write/seek fault.
	ErrIOError = errors.New("aff4: i/o error")

	// ErrInvalidFormat: a central-directory entry with a bad magic,
	// truncated extra field, or an impossible size.
	ErrInvalidFormat = errors.New("aff4: invalid format")

	// ErrBusy: open attempted on a URN that is currently checked out.
	ErrBusy = errors.New("aff4: busy")

	// ErrRuntime: contract violation by the caller (wrong mode, missing
	// required attribute).
	ErrRuntime = errors.New("aff4: runtime error")
)

// Is reports whether err ultimately wraps one of the sentinels above.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
