package aff4zip

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/filelike"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
)

// aff4Scheme is the URN scheme prefix a EOCD comment must carry to be
// adopted as the volume's identity (spec §4.E step 3, §8 property 6).
const aff4Scheme = "aff4://"

// manifestPrefix names the reserved RDF-manifest segment (spec §4.E
// step 8, §6).
const manifestPrefix = "information."

// scan implements the EOCD/ZIP64/CD walk of spec §4.E. fl must already
// be checked out by the caller; scan never acquires or releases it.
// desiredURN is the volume identity to use if the EOCD comment doesn't
// carry one of its own, and, when it names an AFF4 URN already present
// as some earlier EOCD's own comment, which of several coexisting
// central directories to load (spec §8 S4).
func (v *Volume) scan(fl filelike.FileLike, desiredURN string) error {
	size := fl.Size()

	eocdOffset, err := locateEOCD(fl, desiredURN, size)
	if err != nil {
		v.directoryOffset = 0
		return err
	}

	eocd, comment, err := readEOCDAt(fl, eocdOffset, size)
	if err != nil {
		v.directoryOffset = 0
		return err
	}

	totalEntries := uint64(readUint16At(eocd, 10))
	sizeCD := uint64(readUint32At(eocd, 12))
	offsetCD := uint64(readUint32At(eocd, 16))

	volumeURN := desiredURN
	if len(comment) > 0 && comment[len(comment)-1] == 0 {
		candidate := string(comment[:len(comment)-1])
		if strings.HasPrefix(candidate, aff4Scheme) {
			volumeURN = candidate
		}
	}
	if volumeURN == "" {
		volumeURN = aff4Scheme + "volume"
	}

	if readUint16At(eocd, 10) == 0xFFFF || uint32(sizeCD) == zip64Limit || uint32(offsetCD) == zip64Limit {
		total, cdOff, err := v.readZip64EOCD(fl, eocdOffset)
		if err != nil {
			v.directoryOffset = 0
			return err
		}
		totalEntries = total
		offsetCD = cdOff
	}

	v.urn = urn.New(volumeURN)

	if _, err := fl.Seek(int64(offsetCD), filelike.SeekSet); err != nil {
		return err
	}

	var manifestSegments []string
	for i := uint64(0); i < totalEntries; i++ {
		segURN, isManifest, err := v.readOneCDEntry(fl)
		if err != nil {
			v.directoryOffset = 0
			return err
		}
		if isManifest {
			manifestSegments = append(manifestSegments, segURN)
		}
	}

	v.directoryOffset = int64(offsetCD)

	for _, segURN := range manifestSegments {
		if err := v.mergeManifestSegment(fl, segURN); err != nil {
			return err
		}
	}
	return nil
}

// locateEOCD returns the byte offset of the end-of-central-directory
// record scan should load. With no desiredURN, or one that never
// appears as some EOCD's own comment, it is simply the last one in the
// file (spec §4.E: "the later EOCD wins" a plain scan). When an earlier
// EOCD's comment names desiredURN exactly, that earlier one wins
// instead, letting an appended volume's predecessor still be reached by
// its own URN (spec §8 S4).
func locateEOCD(fl filelike.FileLike, desiredURN string, size int64) (int64, error) {
	if desiredURN != "" && strings.HasPrefix(desiredURN, aff4Scheme) {
		offsets, err := allEOCDOffsets(fl, size)
		if err != nil {
			return 0, err
		}
		for i := len(offsets) - 1; i >= 0; i-- {
			_, comment, err := readEOCDAt(fl, offsets[i], size)
			if err != nil {
				continue
			}
			if len(comment) > 0 && comment[len(comment)-1] == 0 && string(comment[:len(comment)-1]) == desiredURN {
				return offsets[i], nil
			}
		}
	}
	return lastEOCDOffset(fl, size)
}

// lastEOCDOffset searches the trailing eocdSearchWindow bytes of the
// file for the final EOCD magic occurrence - the common case, and the
// only one a plain, URN-agnostic load needs (spec §4.E step 1).
func lastEOCDOffset(fl filelike.FileLike, size int64) (int64, error) {
	windowStart := size - eocdSearchWindow
	if windowStart < 0 {
		windowStart = 0
	}
	if _, err := fl.Seek(windowStart, filelike.SeekSet); err != nil {
		return 0, err
	}
	tail, err := readExact(fl, int(size-windowStart))
	if err != nil {
		return 0, err
	}
	idx := lastIndexEOCDMagic(tail)
	if idx < 0 {
		return 0, fmt.Errorf("aff4zip: no end-of-central-directory record found: %w", aff4error.ErrNotAZipFile)
	}
	return windowStart + int64(idx), nil
}

// readEOCDAt reads the fixed 22-byte record and variable-length comment
// at offset, re-seeking and re-reading rather than trusting a caller's
// buffer - it is shared by the common tail-window path and the
// whole-file multi-EOCD search, which have no buffer to share.
func readEOCDAt(fl filelike.FileLike, offset, size int64) (eocd, comment []byte, err error) {
	if _, err := fl.Seek(offset, filelike.SeekSet); err != nil {
		return nil, nil, err
	}
	eocd, err = readExact(fl, eocdSize)
	if err != nil {
		return nil, nil, fmt.Errorf("aff4zip: truncated EOCD: %w", aff4error.ErrNotAZipFile)
	}
	commentLen := int64(readUint16At(eocd, 20))
	if offset+int64(eocdSize)+commentLen > size {
		return nil, nil, fmt.Errorf("aff4zip: truncated EOCD comment: %w", aff4error.ErrNotAZipFile)
	}
	comment, err = readExact(fl, int(commentLen))
	if err != nil {
		return nil, nil, fmt.Errorf("aff4zip: truncated EOCD comment: %w", aff4error.ErrNotAZipFile)
	}
	return eocd, comment, nil
}

// allEOCDOffsets walks the whole file once, chunked, looking for every
// structurally plausible EOCD record: a magic-byte hit whose declared
// comment fits inside the file and whose declared central directory
// lies entirely before it. An appended-to archive leaves one such
// record per volume that has ever been closed in it (spec §8 S4); the
// tail-window search lastEOCDOffset only ever finds the last.
func allEOCDOffsets(fl filelike.FileLike, size int64) ([]int64, error) {
	const chunkSize = 1 << 20
	magic := []byte{0x50, 0x4b, 0x05, 0x06}

	var offsets []int64
	var carry []byte
	pos := int64(0)
	for pos < size {
		want := int64(chunkSize)
		if want > size-pos {
			want = size - pos
		}
		if _, err := fl.Seek(pos, filelike.SeekSet); err != nil {
			return nil, err
		}
		chunk, err := readExact(fl, int(want))
		if err != nil {
			return nil, err
		}
		buf := append(carry, chunk...)
		bufBase := pos - int64(len(carry))

		searchFrom := 0
		for {
			idx := bytes.Index(buf[searchFrom:], magic)
			if idx < 0 {
				break
			}
			idx += searchFrom
			candidate := bufBase + int64(idx)
			ok, err := looksLikeEOCD(fl, candidate, size)
			if err != nil {
				return nil, err
			}
			if ok {
				offsets = append(offsets, candidate)
			}
			searchFrom = idx + 1
		}

		if len(buf) >= eocdSize {
			carry = append([]byte(nil), buf[len(buf)-(eocdSize-1):]...)
		} else {
			carry = append([]byte(nil), buf...)
		}
		pos += want
	}
	return offsets, nil
}

// looksLikeEOCD rejects a coincidental magic-byte match inside segment
// payload data: a real EOCD's comment must fit inside the file and its
// declared central directory must lie entirely before it.
func looksLikeEOCD(fl filelike.FileLike, offset, size int64) (bool, error) {
	if offset+int64(eocdSize) > size {
		return false, nil
	}
	if _, err := fl.Seek(offset, filelike.SeekSet); err != nil {
		return false, err
	}
	hdr, err := readExact(fl, eocdSize)
	if err != nil {
		return false, err
	}
	commentLen := int64(readUint16At(hdr, 20))
	if offset+int64(eocdSize)+commentLen > size {
		return false, nil
	}
	sizeCD := uint64(readUint32At(hdr, 12))
	offsetCD := uint64(readUint32At(hdr, 16))
	if sizeCD != zip64Limit && offsetCD != zip64Limit && offsetCD+sizeCD > uint64(offset) {
		return false, nil
	}
	return true, nil
}

// readZip64EOCD reads the ZIP64 locator (20 bytes immediately before the
// classic EOCD) and the ZIP64 EOCD it points to, and returns the
// promoted entry count and CD offset (spec §4.E step 4).
func (v *Volume) readZip64EOCD(fl filelike.FileLike, eocdOffset int64) (totalEntries, cdOffset uint64, err error) {
	locatorOffset := eocdOffset - zip64LocatorSize
	if locatorOffset < 0 {
		return 0, 0, fmt.Errorf("aff4zip: zip64 locator out of range: %w", aff4error.ErrNotAZipFile)
	}
	if _, err := fl.Seek(locatorOffset, filelike.SeekSet); err != nil {
		return 0, 0, err
	}
	loc, err := readExact(fl, zip64LocatorSize)
	if err != nil {
		return 0, 0, fmt.Errorf("aff4zip: truncated zip64 locator: %w", aff4error.ErrNotAZipFile)
	}
	if readUint32At(loc, 0) != magicZip64EOCDLocator {
		return 0, 0, fmt.Errorf("aff4zip: bad zip64 locator magic: %w", aff4error.ErrNotAZipFile)
	}
	totalDisks := readUint32At(loc, 16)
	if totalDisks > 1 {
		return 0, 0, fmt.Errorf("aff4zip: multi-disk archives are not supported: %w", aff4error.ErrNotAZipFile)
	}
	zip64EOCDOffset := readUint64At(loc, 8)

	if _, err := fl.Seek(int64(zip64EOCDOffset), filelike.SeekSet); err != nil {
		return 0, 0, err
	}
	z, err := readExact(fl, zip64EOCDSize)
	if err != nil {
		return 0, 0, fmt.Errorf("aff4zip: truncated zip64 EOCD: %w", aff4error.ErrNotAZipFile)
	}
	if readUint32At(z, 0) != magicZip64EOCD {
		return 0, 0, fmt.Errorf("aff4zip: bad zip64 EOCD magic: %w", aff4error.ErrNotAZipFile)
	}
	diskNumber := readUint32At(z, 16)
	diskWithCD := readUint32At(z, 20)
	if diskNumber != 0 || diskWithCD != 0 {
		return 0, 0, fmt.Errorf("aff4zip: multi-disk archives are not supported: %w", aff4error.ErrNotAZipFile)
	}
	totalEntries = readUint64At(z, 32)
	cdOffset = readUint64At(z, 48)
	return totalEntries, cdOffset, nil
}

// readOneCDEntry reads one central-directory header (spec §4.E step 5),
// re-seeks to its local header to compute file_offset (step 6), and
// publishes the segment's triples (step 7). It returns the segment's
// URN and whether it is the reserved RDF manifest (step 8).
func (v *Volume) readOneCDEntry(fl filelike.FileLike) (segmentURN string, isManifest bool, err error) {
	fixed, err := readExact(fl, centralDirectorySize)
	if err != nil {
		return "", false, err
	}
	if readUint32At(fixed, 0) != magicCentralDirectory {
		return "", false, fmt.Errorf("aff4zip: bad central directory magic: %w", aff4error.ErrNotAZipFile)
	}
	compression := readUint16At(fixed, 10)
	modTime := readUint16At(fixed, 12)
	modDate := readUint16At(fixed, 14)
	crc := readUint32At(fixed, 16)
	compSize32 := readUint32At(fixed, 20)
	uncompSize32 := readUint32At(fixed, 24)
	nameLen := int(readUint16At(fixed, 28))
	extraLen := int(readUint16At(fixed, 30))
	commentLen := int(readUint16At(fixed, 32))
	headerOffset32 := readUint32At(fixed, 42)

	nameBytes, err := readExact(fl, nameLen)
	if err != nil {
		return "", false, err
	}
	extraBytes, err := readExact(fl, extraLen)
	if err != nil {
		return "", false, err
	}
	if commentLen > 0 {
		if _, err := readExact(fl, commentLen); err != nil {
			return "", false, err
		}
	}
	nextEntry := fl.Tell()

	uncompSize := uint64(uncompSize32)
	compSize := uint64(compSize32)
	headerOffset := uint64(headerOffset32)

	var needed []*uint64
	if uncompSize32 == zip64Limit {
		needed = append(needed, &uncompSize)
	}
	if compSize32 == zip64Limit {
		needed = append(needed, &compSize)
	}
	if headerOffset32 == zip64Limit {
		needed = append(needed, &headerOffset)
	}
	if len(needed) > 0 {
		vals, err := parseZip64Extra(extraBytes, len(needed))
		if err != nil {
			return "", false, err
		}
		for i, p := range needed {
			*p = vals[i]
		}
	}

	if _, err := fl.Seek(int64(headerOffset), filelike.SeekSet); err != nil {
		return "", false, err
	}
	lfh, err := readExact(fl, localFileHeaderSize)
	if err != nil {
		return "", false, err
	}
	if readUint32At(lfh, 0) != magicLocalFileHeader {
		return "", false, fmt.Errorf("aff4zip: bad local file header magic: %w", aff4error.ErrNotAZipFile)
	}
	localNameLen := uint64(readUint16At(lfh, 26))
	localExtraLen := uint64(readUint16At(lfh, 28))
	fileOffset := headerOffset + localFileHeaderSize + localNameLen + localExtraLen
	if _, err := fl.Seek(nextEntry, filelike.SeekSet); err != nil {
		return "", false, err
	}

	name := urn.UnescapeSegmentName(string(nameBytes))
	segURN := v.urn.Add(name)
	key := segURN.Value()

	v.r.Set(key, resolver.PredicateStored, rdfvalue.URN(v.urn.Value()))
	v.r.Set(key, resolver.PredicateType, rdfvalue.String(resolver.TypeSegment))
	v.r.Set(key, resolver.PredicateSize, rdfvalue.Int(int64(uncompSize)))
	v.r.Set(key, resolver.PredicateCompressedSize, rdfvalue.Int(int64(compSize)))
	v.r.Set(key, resolver.PredicateCompression, rdfvalue.Int(int64(compression)))
	v.r.Set(key, resolver.PredicateCRC, rdfvalue.Int(int64(crc)))
	v.r.Set(key, resolver.PredicateHeaderOffset, rdfvalue.Int(int64(headerOffset)))
	v.r.Set(key, resolver.PredicateFileOffset, rdfvalue.Int(int64(fileOffset)))
	if ts, ok := timeFromDOS(modDate, modTime); ok {
		v.r.Set(key, resolver.PredicateTimestamp, rdfvalue.Int(ts.Unix()))
	}
	v.r.Add(v.urn.Value(), resolver.PredicateContains, rdfvalue.URN(key))

	isManifest = strings.HasPrefix(lastPathComponent(name), manifestPrefix)
	return key, isManifest, nil
}

func lastPathComponent(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// mergeManifestSegment reads segURN's bytes using the already-checked-out
// fl (never through the cache - the caller already holds the backing
// file exclusively) and merges the triples the RDF parser produces (spec
// §4.E step 8).
func (v *Volume) mergeManifestSegment(fl filelike.FileLike, segURN string) error {
	fileOffsetV, _ := v.r.Resolve(segURN, resolver.PredicateFileOffset)
	compressedSizeV, _ := v.r.Resolve(segURN, resolver.PredicateCompressedSize)
	sizeV, _ := v.r.Resolve(segURN, resolver.PredicateSize)
	compressionV, _ := v.r.Resolve(segURN, resolver.PredicateCompression)

	payload, err := readSegmentPayloadFrom(fl, fileOffsetV.Integer, int(compressedSizeV.Integer), int(sizeV.Integer), uint16(compressionV.Integer))
	if err != nil {
		return err
	}
	triples, err := ParseManifest(payload, v.urn.Value())
	if err != nil {
		return err
	}
	v.r.Merge(triples)
	return nil
}

// lastIndexEOCDMagic returns the offset of the last occurrence of the
// EOCD magic in buf, or -1.
func lastIndexEOCDMagic(buf []byte) int {
	magic := []byte{0x50, 0x4b, 0x05, 0x06}
	return bytes.LastIndex(buf, magic)
}

// parseZip64Extra walks the extra-field records looking for id 0x0001
// and returns the first `want` uint64 values from its data, in the
// fixed order (uncompressed_size, compressed_size, header_offset) (spec
// §4.E step 5).
func parseZip64Extra(extra []byte, want int) ([]uint64, error) {
	off := 0
	for off+4 <= len(extra) {
		id := readUint16At(extra, off)
		size := int(readUint16At(extra, off+2))
		off += 4
		if off+size > len(extra) {
			return nil, fmt.Errorf("aff4zip: truncated extra field: %w", aff4error.ErrInvalidFormat)
		}
		if id == zip64ExtraID {
			data := extra[off : off+size]
			count := len(data) / 8
			if count < want {
				return nil, fmt.Errorf("aff4zip: zip64 extra field too short for %d fields: %w", want, aff4error.ErrInvalidFormat)
			}
			vals := make([]uint64, want)
			for i := 0; i < want; i++ {
				vals[i] = readUint64At(data, i*8)
			}
			return vals, nil
		}
		off += size
	}
	return nil, fmt.Errorf("aff4zip: missing zip64 extra field: %w", aff4error.ErrInvalidFormat)
}
