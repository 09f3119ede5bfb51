package aff4zip

import (
	"fmt"
	"time"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/filelike"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
)

// OpenMember implements spec §4.F's open_member: it writes a streaming
// local file header at the volume's current append point and returns a
// write-mode Segment the caller streams bytes into. The backing file
// stays checked out exclusively until the returned Segment is closed
// (spec §4.F step 6).
func (v *Volume) OpenMember(name string, compression uint16) (*Segment, error) {
	if v.mode != "w" {
		return nil, fmt.Errorf("aff4zip: volume %s is not open for write: %w", v.urn.Value(), aff4error.ErrRuntime)
	}

	backingObj, err := v.cache.Open(v.fileURN, "w")
	if err != nil {
		return nil, err
	}
	backing, ok := backingObj.(filelike.FileLike)
	if !ok {
		v.cache.CacheReturn(backingObj)
		return nil, fmt.Errorf("aff4zip: backing object for %s is not file-like: %w", v.fileURN.Value(), aff4error.ErrRuntime)
	}

	headerOffset := uint64(v.directoryOffset)
	if _, err := backing.Seek(int64(headerOffset), filelike.SeekSet); err != nil {
		v.cache.CacheReturn(backingObj)
		return nil, err
	}

	segURN := v.urn.Add(name)
	nameBytes := []byte(urn.EscapeSegmentName(name))
	if err := writeAll(backing, buildLocalFileHeader(nameBytes, compression)); err != nil {
		v.cache.CacheReturn(backingObj)
		return nil, err
	}
	fileOffset := uint64(backing.Tell())

	v.r.Set(segURN.Value(), resolver.PredicateStored, rdfvalue.URN(v.urn.Value()))
	v.r.Set(segURN.Value(), resolver.PredicateType, rdfvalue.String(resolver.TypeSegment))
	v.r.Set(segURN.Value(), resolver.PredicateCompression, rdfvalue.Int(int64(compression)))
	v.r.Set(segURN.Value(), resolver.PredicateFileOffset, rdfvalue.Int(int64(fileOffset)))
	v.r.Set(segURN.Value(), resolver.PredicateHeaderOffset, rdfvalue.Int(int64(headerOffset)))

	return newSegmentForWrite(v.r, v.cache, v, segURN, backing, headerOffset, fileOffset, compression), nil
}

// buildLocalFileHeader emits the fixed 30-byte record plus the escaped
// member name. Sizes and CRC are always zero here: the streaming flag
// (spec §4.F step 3) defers them to the trailing data descriptor.
func buildLocalFileHeader(name []byte, compression uint16) []byte {
	modDate, modTime := dosDateTime(time.Now())

	var buf []byte
	buf = putUint32(buf, magicLocalFileHeader)
	buf = putUint16(buf, versionNeeded)
	buf = putUint16(buf, dataDescriptorFlag)
	buf = putUint16(buf, compression)
	buf = putUint16(buf, modTime)
	buf = putUint16(buf, modDate)
	buf = putUint32(buf, 0) // crc32, deferred to data descriptor
	buf = putUint32(buf, 0) // compressed size, deferred
	buf = putUint32(buf, 0) // uncompressed size, deferred
	buf = putUint16(buf, uint16(len(name)))
	buf = putUint16(buf, 0) // extra length
	buf = append(buf, name...)
	return buf
}

// segmentURNs returns every URN contains() lists for this volume whose
// type is SEGMENT, in insertion order (spec §4.F step 5, §8 property 2).
// The resolver's own contains list is authoritative: scan() populates it
// from the central directory on open, and Segment.Close appends to it on
// write, so it stays correct across an appended (reopen-for-write)
// session even though no per-instance bookkeeping survives that reopen.
func (v *Volume) segmentURNs() []string {
	var out []string
	for _, c := range v.r.Iter(v.urn.Value(), resolver.PredicateContains) {
		if typeV, ok := v.r.Resolve(c.Text, resolver.PredicateType); ok && typeV.Text == resolver.TypeSegment {
			out = append(out, c.Text)
		}
	}
	return out
}

// writeManifestSegment serialises every non-SEGMENT artefact stored in
// this volume, plus the volume's own triples, into a fresh
// "information.turtle" segment (spec §4.F close_volume step 2). It runs
// its own self-contained open/write/close cycle on the backing file
// before closeVolume re-acquires it for the CD rewrite.
func (v *Volume) writeManifestSegment() error {
	urns := []string{v.urn.Value()}
	for _, c := range v.r.Iter(v.urn.Value(), resolver.PredicateContains) {
		if typeV, ok := v.r.Resolve(c.Text, resolver.PredicateType); ok && typeV.Text == resolver.TypeSegment {
			continue
		}
		urns = append(urns, c.Text)
	}

	payload := SerialiseManifest(v.r.NonVolatileTriples(urns))

	seg, err := v.OpenMember("information.turtle", CompressionDeflate)
	if err != nil {
		return err
	}
	if _, err := seg.Write(payload); err != nil {
		_ = seg.Close()
		return err
	}
	return seg.Close()
}

// closeVolume implements spec §4.F's close_volume: it rewrites the
// central directory (and EOCD, promoting to ZIP64 as needed) starting at
// directoryOffset. It is a no-op unless the volume is dirty, so calling
// it more than once is harmless.
func (v *Volume) closeVolume() error {
	if v.mode != "w" {
		return nil
	}
	if !v.r.IsDirty(v.urn.Value()) {
		return nil
	}

	if err := v.writeManifestSegment(); err != nil {
		return err
	}

	backingObj, err := v.cache.Open(v.fileURN, "w")
	if err != nil {
		return err
	}
	backing, ok := backingObj.(filelike.FileLike)
	if !ok {
		v.cache.CacheReturn(backingObj)
		return fmt.Errorf("aff4zip: backing object for %s is not file-like: %w", v.fileURN.Value(), aff4error.ErrRuntime)
	}
	defer v.cache.CacheReturn(backingObj)

	cdStart := uint64(v.directoryOffset)
	if _, err := backing.Seek(int64(cdStart), filelike.SeekSet); err != nil {
		return err
	}

	segments := v.segmentURNs()

	var cdSize uint64
	for _, segKey := range segments {
		entry, err := v.buildCentralDirectoryEntry(segKey)
		if err != nil {
			return err
		}
		if err := writeAll(backing, entry); err != nil {
			return err
		}
		cdSize += uint64(len(entry))
	}

	totalEntries := uint64(len(segments))
	eocdOffset := cdStart + cdSize
	promote := totalEntries >= 0xFFFF || needsZip64(cdSize) || needsZip64(cdStart)

	if promote {
		zip64EOCDOffset := eocdOffset
		if err := writeAll(backing, buildZip64EOCD(totalEntries, cdSize, cdStart)); err != nil {
			return err
		}
		if err := writeAll(backing, buildZip64Locator(zip64EOCDOffset)); err != nil {
			return err
		}
	}

	comment := append([]byte(v.urn.Value()), 0)
	if err := writeAll(backing, buildEOCD(totalEntries, cdSize, cdStart, comment)); err != nil {
		return err
	}

	v.r.SetDirty(v.urn.Value(), false)
	return nil
}

// buildCentralDirectoryEntry projects segKey's published attributes into
// one 46-byte-plus-trailer CD record, ZIP64-promoting individual fields
// (never the whole record) past the threshold (spec §4.F step 4, §8
// property 3).
func (v *Volume) buildCentralDirectoryEntry(segKey string) ([]byte, error) {
	sizeV, ok := v.r.Resolve(segKey, resolver.PredicateSize)
	if !ok {
		return nil, fmt.Errorf("aff4zip: segment %s missing size: %w", segKey, aff4error.ErrRuntime)
	}
	compSizeV, ok := v.r.Resolve(segKey, resolver.PredicateCompressedSize)
	if !ok {
		return nil, fmt.Errorf("aff4zip: segment %s missing compressed_size: %w", segKey, aff4error.ErrRuntime)
	}
	crcV, ok := v.r.Resolve(segKey, resolver.PredicateCRC)
	if !ok {
		return nil, fmt.Errorf("aff4zip: segment %s missing crc: %w", segKey, aff4error.ErrRuntime)
	}
	headerOffV, ok := v.r.Resolve(segKey, resolver.PredicateHeaderOffset)
	if !ok {
		return nil, fmt.Errorf("aff4zip: segment %s missing header_offset: %w", segKey, aff4error.ErrRuntime)
	}
	compressionV, _ := v.r.Resolve(segKey, resolver.PredicateCompression)

	size := uint64(sizeV.Integer)
	compSize := uint64(compSizeV.Integer)
	headerOffset := uint64(headerOffV.Integer)
	crc := uint32(crcV.Integer)
	compression := uint16(compressionV.Integer)

	var modDate, modTime uint16
	if tsV, ok := v.r.Resolve(segKey, resolver.PredicateTimestamp); ok {
		modDate, modTime = dosDateTime(time.Unix(tsV.Integer, 0))
	}

	name := urn.New(segKey).RelativeName(v.urn)
	nameBytes := []byte(urn.EscapeSegmentName(name))

	var extra []byte
	if needsZip64(size) {
		extra = putUint64(extra, size)
	}
	if needsZip64(compSize) {
		extra = putUint64(extra, compSize)
	}
	if needsZip64(headerOffset) {
		extra = putUint64(extra, headerOffset)
	}
	var extraField []byte
	if len(extra) > 0 {
		extraField = putUint16(extraField, zip64ExtraID)
		extraField = putUint16(extraField, uint16(len(extra)))
		extraField = append(extraField, extra...)
	}

	var buf []byte
	buf = putUint32(buf, magicCentralDirectory)
	buf = putUint16(buf, versionMadeBy)
	buf = putUint16(buf, versionNeeded)
	buf = putUint16(buf, dataDescriptorFlag)
	buf = putUint16(buf, compression)
	buf = putUint16(buf, modTime)
	buf = putUint16(buf, modDate)
	buf = putUint32(buf, crc)
	buf = putUint32(buf, sentinel32(compSize))
	buf = putUint32(buf, sentinel32(size))
	buf = putUint16(buf, uint16(len(nameBytes)))
	buf = putUint16(buf, uint16(len(extraField)))
	buf = putUint16(buf, 0) // comment length
	buf = putUint16(buf, 0) // disk number start
	buf = putUint16(buf, 0) // internal attrs
	buf = putUint32(buf, externalAttrs)
	buf = putUint32(buf, sentinel32(headerOffset))
	buf = append(buf, nameBytes...)
	buf = append(buf, extraField...)
	return buf, nil
}

// buildZip64EOCD emits the 56-byte ZIP64 end-of-central-directory record.
func buildZip64EOCD(totalEntries, cdSize, cdOffset uint64) []byte {
	var buf []byte
	buf = putUint32(buf, magicZip64EOCD)
	buf = putUint64(buf, 44) // size of remaining record
	buf = putUint16(buf, versionMadeBy)
	buf = putUint16(buf, versionNeeded)
	buf = putUint32(buf, 0) // disk number
	buf = putUint32(buf, 0) // disk with central directory
	buf = putUint64(buf, totalEntries)
	buf = putUint64(buf, totalEntries)
	buf = putUint64(buf, cdSize)
	buf = putUint64(buf, cdOffset)
	return buf
}

// buildZip64Locator emits the 20-byte locator that always immediately
// precedes the classic EOCD when the volume is ZIP64-promoted.
func buildZip64Locator(zip64EOCDOffset uint64) []byte {
	var buf []byte
	buf = putUint32(buf, magicZip64EOCDLocator)
	buf = putUint32(buf, 0) // disk with the zip64 EOCD
	buf = putUint64(buf, zip64EOCDOffset)
	buf = putUint32(buf, 1) // total number of disks
	return buf
}

// buildEOCD emits the classic end-of-central-directory record with the
// volume's URN embedded as its comment (spec §4.F step 5, §8 property 6).
func buildEOCD(totalEntries, cdSize, cdOffset uint64, comment []byte) []byte {
	entries16 := uint16(totalEntries)
	if totalEntries > 0xFFFF {
		entries16 = 0xFFFF
	}

	var buf []byte
	buf = putUint32(buf, magicEOCD)
	buf = putUint16(buf, 0) // disk number
	buf = putUint16(buf, 0) // disk with central directory
	buf = putUint16(buf, entries16)
	buf = putUint16(buf, entries16)
	buf = putUint32(buf, sentinel32(cdSize))
	buf = putUint32(buf, sentinel32(cdOffset))
	buf = putUint16(buf, uint16(len(comment)))
	buf = append(buf, comment...)
	return buf
}
