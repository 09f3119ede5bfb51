package aff4zip

import (
	"fmt"
	"strings"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/filelike"
	"github.com/aff4/aff4/objectcache"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
	"github.com/google/uuid"
)

// Volume is the ZIP64 container of spec §4.E/§4.F. It owns the mapping
// from the volume's own URN to the single backing OS file, and tracks
// where the central directory currently starts so close_volume knows
// where to resume appending.
type Volume struct {
	urn     *urn.URN
	fileURN *urn.URN
	r       *resolver.Resolver
	cache   *objectcache.Cache
	mode    string

	// directoryOffset is where the next segment's local header goes, and
	// where the rewritten central directory will start on close: the old
	// CD's start offset for an appended volume, 0 for a fresh volume in an
	// empty or unreadable file, and the end of the file for a new volume
	// started after an existing one (spec §4.F).
	directoryOffset int64
}

// URN implements objectcache.Object, letting a Volume be cached the same
// way a Segment or OSFile can, even though the generic constructor
// registry never builds one automatically (see DESIGN.md: volumes are
// opened explicitly through Open/Create, never lazily through Open(urn)).
func (v *Volume) URN() *urn.URN { return v.urn }

// Close implements objectcache.Object by finishing any pending write
// (spec §4.F "On close_volume") and is idempotent.
func (v *Volume) Close() error { return v.closeVolume() }

// ensureFileConstructor registers the constructor for "file:" scheme
// objects (type AFF4_FILE) with cache. Safe to call repeatedly; each call
// overwrites the previous registration with an equivalent closure.
func ensureFileConstructor(r *resolver.Resolver, cache *objectcache.Cache) {
	cache.Register(resolver.TypeFile, func(u *urn.URN, mode string) (objectcache.Object, error) {
		path := strings.TrimPrefix(u.Value(), "file://")
		return filelike.OpenOSFile(r, path, mode)
	})
}

// OpenVolume implements the open side of spec §4.E/§4.F: it opens (or
// creates, for mode "w" against an empty/missing file) the OS file named
// by path and either scans it for an existing central directory or
// starts a brand-new, empty one.
//
// desiredURN is the caller's preferred identity for the volume. It is
// used directly when creating a brand-new volume, and as a fallback
// identity (and as the key for the idempotent-reload check of spec
// §4.E step 2) when opening an existing one; the loaded EOCD comment's
// own URN, when present, wins over it. In write mode, a desiredURN that
// differs from that URN starts a new volume after the existing one
// instead. An empty desiredURN for a fresh volume means "generate one".
func OpenVolume(r *resolver.Resolver, cache *objectcache.Cache, path string, mode string, desiredURN string) (*Volume, error) {
	if mode != "r" && mode != "w" {
		return nil, fmt.Errorf("aff4zip: unknown mode %q: %w", mode, aff4error.ErrRuntime)
	}
	ensureFileConstructor(r, cache)

	fileURN := urn.New("file://" + path)
	r.Set(fileURN.Value(), resolver.PredicateType, rdfvalue.String(resolver.TypeFile))

	backingObj, err := cache.Open(fileURN, mode)
	if err != nil {
		return nil, err
	}
	backing, ok := backingObj.(filelike.FileLike)
	if !ok {
		cache.CacheReturn(backingObj)
		return nil, fmt.Errorf("aff4zip: backing object for %s is not file-like: %w", path, aff4error.ErrRuntime)
	}

	v := &Volume{fileURN: fileURN, r: r, cache: cache, mode: mode}

	// Idempotent reload (spec §4.E step 2): if this process already
	// scanned this exact volume URN and the file hasn't shrunk since,
	// trust the prior load instead of rescanning.
	if desiredURN != "" {
		if off, ok := r.Resolve(desiredURN, resolver.PredicateDirectoryOffset); ok && off.Integer <= backing.Size() {
			v.urn = urn.New(desiredURN)
			v.directoryOffset = off.Integer
			v.publishIdentity()
			cache.CacheReturn(backingObj)
			return v, nil
		}
	}

	if backing.Size() == 0 {
		if mode != "w" {
			cache.CacheReturn(backingObj)
			return nil, fmt.Errorf("aff4zip: %s is empty: %w", path, aff4error.ErrNotAZipFile)
		}
		v.startFreshVolume(desiredURN, 0)
		cache.CacheReturn(backingObj)
		return v, nil
	}

	if err := v.scan(backing, desiredURN); err != nil {
		// Spec §4.E: "In write mode, an absent CD is permitted - the
		// writer will create one." A corrupted or unrecognisable
		// archive is no different from an empty one when mode is "w";
		// only read mode treats the failure as fatal (scenario S6).
		if mode == "w" && aff4error.Is(err, aff4error.ErrNotAZipFile) {
			v.startFreshVolume(desiredURN, 0)
			cache.CacheReturn(backingObj)
			return v, nil
		}
		cache.CacheReturn(backingObj)
		return nil, err
	}

	// scan located an existing volume, call it V. If the caller asked
	// for a different identity than V's, this is scenario S4: start a
	// brand-new volume W past V's EOCD, leaving V's central directory
	// physically intact so a later load_from keyed on V's URN still
	// finds it (the later EOCD wins a plain scan, per spec §8 S4).
	if mode == "w" && desiredURN != "" && desiredURN != v.urn.Value() {
		v.startFreshVolume(desiredURN, backing.Size())
		cache.CacheReturn(backingObj)
		return v, nil
	}

	v.publishIdentity()
	cache.CacheReturn(backingObj)
	return v, nil
}

// startFreshVolume resets v to a brand-new, empty volume identity whose
// next write lands at directoryOffset, and publishes it. Used both for
// a genuinely empty backing file and for starting a new volume past an
// existing one's EOCD (spec §8 S4) or past an unreadable CD (spec §4.E
// "an absent CD is permitted").
func (v *Volume) startFreshVolume(desiredURN string, directoryOffset int64) {
	identity := desiredURN
	if identity == "" {
		identity = aff4Scheme + uuid.NewString()
	}
	v.urn = urn.New(identity)
	v.directoryOffset = directoryOffset
	v.publishIdentity()
}

// publishIdentity sets the handful of triples that make v discoverable
// through the resolver alone - the convention newSegmentForRead relies on
// to reach the backing file without a dedicated "volume path" predicate.
func (v *Volume) publishIdentity() {
	v.r.Set(v.urn.Value(), resolver.PredicateType, rdfvalue.String(resolver.TypeZipVolume))
	v.r.Set(v.urn.Value(), resolver.PredicateStored, rdfvalue.URN(v.fileURN.Value()))
	v.r.Set(v.urn.Value(), resolver.PredicateDirectoryOffset, rdfvalue.Int(v.directoryOffset))
}

// URNValue returns the volume's own URN string, for callers (tests,
// aff4.go) that don't need the full *urn.URN.
func (v *Volume) URNValue() string { return v.urn.Value() }
