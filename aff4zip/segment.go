package aff4zip

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"hash/crc32"
	"runtime"
	"time"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/filelike"
	"github.com/aff4/aff4/internal/alog"
	"github.com/aff4/aff4/objectcache"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
	"github.com/klauspost/compress/flate"
)

// Segment is the file-like view of one ZIP member (spec §4.G). A
// read-mode Segment holds its whole decompressed payload in memory -
// compressed segments must fit entirely in memory by design (spec §4.G
// Constraint); a write-mode Segment streams compressed bytes straight to
// the backing file and holds the backing file checked out exclusively
// until Close.
type Segment struct {
	u    *urn.URN
	mode string

	// shared
	compression uint16

	// read-mode state: the fully decompressed payload.
	data []byte
	pos  int64

	// write-mode state
	r            *resolver.Resolver
	cache        *objectcache.Cache
	volume       *Volume
	backing      filelike.FileLike
	headerOffset uint64
	fileOffset   uint64
	crc          hash.Hash32
	sha          hash.Hash
	deflate      *flate.Writer
	cwriter      *countingWriter
	uncompressed uint64
	closed       bool
}

// countingWriter adapts a filelike.FileLike into an io.Writer while
// tallying bytes written, so the segment writer can learn its own
// compressed size without a second pass.
type countingWriter struct {
	fl filelike.FileLike
	n  uint64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.fl.Write(p)
	w.n += uint64(n)
	return n, err
}

// URN implements objectcache.Object.
func (s *Segment) URN() *urn.URN { return s.u }

// newSegmentForWrite constructs a write-mode Segment. backing is the
// already-checked-out backing file (spec §4.F step 1); the segment
// retains it exclusively until Close (spec §4.F step 6).
func newSegmentForWrite(r *resolver.Resolver, cache *objectcache.Cache, v *Volume, segURN *urn.URN, backing filelike.FileLike, headerOffset, fileOffset uint64, compression uint16) *Segment {
	s := &Segment{
		u:            segURN,
		mode:         "w",
		compression:  compression,
		r:            r,
		cache:        cache,
		volume:       v,
		backing:      backing,
		headerOffset: headerOffset,
		fileOffset:   fileOffset,
		crc:          crc32.NewIEEE(),
		sha:          sha256.New(),
	}
	s.cwriter = &countingWriter{fl: backing}
	if compression == CompressionDeflate {
		fw, err := flate.NewWriter(s.cwriter, flate.BestCompression)
		if err != nil {
			// flate.NewWriter only fails for an out-of-range level,
			// which BestCompression never is.
			panic(err)
		}
		s.deflate = fw
	}
	runtime.SetFinalizer(s, (*Segment).finalizeUnclosed)
	return s
}

func (s *Segment) finalizeUnclosed() {
	if !s.closed {
		alog.Errorf(s.u, "segment opened for write was never closed - programmer error")
	}
}

// Read implements filelike.FileLike.
func (s *Segment) Read(buf []byte) (int, error) {
	if s.mode != "r" {
		return 0, fmt.Errorf("aff4zip: segment %s not open for read: %w", s.u, aff4error.ErrRuntime)
	}
	if s.pos >= int64(len(s.data)) {
		return 0, nil
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

// Write implements filelike.FileLike.
func (s *Segment) Write(buf []byte) (int, error) {
	if s.mode != "w" {
		return 0, fmt.Errorf("aff4zip: segment %s not open for write: %w", s.u, aff4error.ErrRuntime)
	}
	if s.closed {
		return 0, fmt.Errorf("aff4zip: segment %s already closed: %w", s.u, aff4error.ErrRuntime)
	}
	s.crc.Write(buf)
	s.sha.Write(buf)
	s.uncompressed += uint64(len(buf))

	if s.deflate != nil {
		if _, err := s.deflate.Write(buf); err != nil {
			return 0, fmt.Errorf("aff4zip: deflate write: %w", aff4error.ErrIOError)
		}
		return len(buf), nil
	}
	if _, err := s.cwriter.Write(buf); err != nil {
		return 0, fmt.Errorf("aff4zip: write: %w", err)
	}
	return len(buf), nil
}

// Seek implements filelike.FileLike. Only read-mode segments support
// seeking; AFF4 segments are append-only and never randomly rewritten
// (spec §1 Non-goals).
func (s *Segment) Seek(offset int64, whence int) (int64, error) {
	if s.mode != "r" {
		return 0, fmt.Errorf("aff4zip: can't seek a write-mode segment: %w", aff4error.ErrRuntime)
	}
	var target int64
	switch whence {
	case filelike.SeekSet:
		target = offset
	case filelike.SeekCur:
		target = s.pos + offset
	case filelike.SeekEnd:
		target = int64(len(s.data)) + offset
	default:
		return s.pos, fmt.Errorf("aff4zip: bad whence %d: %w", whence, aff4error.ErrRuntime)
	}
	if target < 0 {
		target = 0
	}
	if target > int64(len(s.data)) {
		target = int64(len(s.data))
	}
	s.pos = target
	return s.pos, nil
}

// Truncate implements filelike.FileLike. Not supported: segments are
// append-only (spec §1 Non-goals: "no random write of compressed
// segments").
func (s *Segment) Truncate(int64) error {
	return fmt.Errorf("aff4zip: segments can't be truncated: %w", aff4error.ErrRuntime)
}

// Tell implements filelike.FileLike.
func (s *Segment) Tell() int64 {
	if s.mode == "r" {
		return s.pos
	}
	return int64(s.uncompressed)
}

// Size implements filelike.FileLike.
func (s *Segment) Size() int64 {
	if s.mode == "r" {
		return int64(len(s.data))
	}
	return int64(s.uncompressed)
}

// Close implements filelike.FileLike / objectcache.Object. For a
// write-mode segment this is where the data descriptor trailer is
// emitted and the segment's final attributes are published (spec §4.F
// "On segment close"); for a read-mode segment it just frees the
// decompressed buffer.
func (s *Segment) Close() error {
	if s.mode == "r" {
		s.data = nil
		return nil
	}
	if s.closed {
		return nil
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)

	if s.deflate != nil {
		if err := s.deflate.Close(); err != nil {
			return fmt.Errorf("aff4zip: finishing deflate stream: %w", aff4error.ErrIOError)
		}
	}

	crcVal := s.crc.Sum32()
	compressedSize := s.cwriter.n
	uncompressedSize := s.uncompressed

	if err := writeDataDescriptor(s.backing, crcVal, compressedSize, uncompressedSize, s.headerOffset); err != nil {
		return err
	}

	segKey := s.u.Value()
	s.r.Set(segKey, resolver.PredicateSize, rdfvalue.Int(int64(uncompressedSize)))
	s.r.Set(segKey, resolver.PredicateCompressedSize, rdfvalue.Int(int64(compressedSize)))
	s.r.Set(segKey, resolver.PredicateCRC, rdfvalue.Int(int64(crcVal)))
	s.r.Set(segKey, resolver.PredicateHash, rdfvalue.Raw(s.sha.Sum(nil)))

	date, timeField := dosDateTime(time.Now())
	if ts, ok := timeFromDOS(date, timeField); ok {
		s.r.Set(segKey, resolver.PredicateTimestamp, rdfvalue.Int(ts.Unix()))
	}

	s.r.Add(s.volume.urn.Value(), resolver.PredicateContains, rdfvalue.URN(segKey))
	s.volume.directoryOffset = s.backing.Tell()
	s.r.Set(s.volume.urn.Value(), resolver.PredicateDirectoryOffset, rdfvalue.Int(s.volume.directoryOffset))
	s.r.SetDirty(s.volume.urn.Value(), true)

	s.cache.CacheReturn(s.backing.(objectcache.Object))
	return nil
}

// writeDataDescriptor emits the trailer of spec §4.F "On segment close":
// widths are uint64 iff any of header_offset, compressed_size, or
// uncompressed_size exceed 0xFFFFFFFF, else uint32 (spec §8 property 3
// extends to the data descriptor by the same rule the original applies).
func writeDataDescriptor(fl filelike.FileLike, crc uint32, compressedSize, uncompressedSize, headerOffset uint64) error {
	wide := needsZip64(headerOffset) || needsZip64(compressedSize) || needsZip64(uncompressedSize)

	var buf []byte
	buf = putUint32(buf, magicDataDescriptor)
	buf = putUint32(buf, crc)
	if wide {
		buf = putUint64(buf, compressedSize)
		buf = putUint64(buf, uncompressedSize)
	} else {
		buf = putUint32(buf, uint32(compressedSize))
		buf = putUint32(buf, uint32(uncompressedSize))
	}
	return writeAll(fl, buf)
}

// newSegmentForRead reconstructs a read-mode Segment purely from the
// resolver plus the volume's backing file, per spec §4.C step 3 / §4.G
// read path. It acquires the backing file just long enough to read the
// compressed bytes (spec §5: "acquired and released around the
// decompressor read").
func newSegmentForRead(r *resolver.Resolver, cache *objectcache.Cache, segURN *urn.URN) (*Segment, error) {
	key := segURN.Value()

	volumeVal, ok := r.Resolve(key, resolver.PredicateStored)
	if !ok {
		return nil, fmt.Errorf("aff4zip: segment %s has no stored volume: %w", key, aff4error.ErrNotFound)
	}
	fileVal, ok := r.Resolve(volumeVal.Text, resolver.PredicateStored)
	if !ok {
		return nil, fmt.Errorf("aff4zip: volume %s has no backing file: %w", volumeVal.Text, aff4error.ErrNotFound)
	}

	// Acquired before the size checks: a segment still open for write has
	// no size yet, and its writer holds the backing file, so this is Busy.
	backingObj, err := cache.Open(urn.New(fileVal.Text), "r")
	if err != nil {
		return nil, err
	}
	compressionV, _ := r.Resolve(key, resolver.PredicateCompression)
	sizeV, ok := r.Resolve(key, resolver.PredicateSize)
	if !ok {
		cache.CacheReturn(backingObj)
		return nil, fmt.Errorf("aff4zip: segment %s missing size: %w", key, aff4error.ErrNotFound)
	}
	compressedSizeV, ok := r.Resolve(key, resolver.PredicateCompressedSize)
	if !ok {
		cache.CacheReturn(backingObj)
		return nil, fmt.Errorf("aff4zip: segment %s missing compressed_size: %w", key, aff4error.ErrNotFound)
	}
	fileOffsetV, ok := r.Resolve(key, resolver.PredicateFileOffset)
	if !ok {
		cache.CacheReturn(backingObj)
		return nil, fmt.Errorf("aff4zip: segment %s missing file_offset: %w", key, aff4error.ErrNotFound)
	}
	fl, ok := backingObj.(filelike.FileLike)
	if !ok {
		return nil, fmt.Errorf("aff4zip: backing object for %s is not file-like: %w", key, aff4error.ErrRuntime)
	}

	compressedBytes, readErr := func() ([]byte, error) {
		if _, err := fl.Seek(fileOffsetV.Integer, filelike.SeekSet); err != nil {
			return nil, err
		}
		return readExact(fl, int(compressedSizeV.Integer))
	}()
	cache.CacheReturn(backingObj.(objectcache.Object))
	if readErr != nil {
		return nil, readErr
	}

	var data []byte
	if compressionV.Integer == CompressionDeflate {
		data, err = inflate(compressedBytes, int(sizeV.Integer))
		if err != nil {
			return nil, err
		}
	} else {
		data = compressedBytes
	}

	return &Segment{
		u:           segURN,
		mode:        "r",
		compression: uint16(compressionV.Integer),
		data:        data,
	}, nil
}

// readSegmentPayloadFrom reads and, if needed, decompresses one segment's
// bytes directly from an already-checked-out fl, bypassing the object
// cache entirely. It exists for the one caller that already holds the
// volume's backing file exclusively and would deadlock (or get Busy)
// trying to re-acquire it through newSegmentForRead: the manifest-segment
// load that happens mid-scan (spec §4.E step 8).
func readSegmentPayloadFrom(fl filelike.FileLike, fileOffset int64, compressedSize, size int, compression uint16) ([]byte, error) {
	if _, err := fl.Seek(fileOffset, filelike.SeekSet); err != nil {
		return nil, err
	}
	compressed, err := readExact(fl, compressedSize)
	if err != nil {
		return nil, err
	}
	if compression == CompressionDeflate {
		return inflate(compressed, size)
	}
	return compressed, nil
}

func inflate(compressed []byte, expectedSize int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	out := make([]byte, expectedSize)
	got := 0
	for got < expectedSize {
		n, err := fr.Read(out[got:])
		got += n
		if err != nil {
			if got == expectedSize {
				break
			}
			return nil, fmt.Errorf("aff4zip: inflate: %w", aff4error.ErrInvalidFormat)
		}
		if n == 0 {
			break
		}
	}
	if got != expectedSize {
		return nil, fmt.Errorf("aff4zip: inflate produced %d bytes, want %d: %w", got, expectedSize, aff4error.ErrInvalidFormat)
	}
	return out, nil
}

var (
	_ filelike.FileLike   = (*Segment)(nil)
	_ objectcache.Object  = (*Segment)(nil)
)
