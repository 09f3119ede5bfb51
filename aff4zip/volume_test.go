package aff4zip

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/objectcache"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv() (*resolver.Resolver, *objectcache.Cache) {
	r := resolver.New()
	cache := objectcache.New(r, objectcache.DefaultSoftLimit)
	RegisterTypes(r, cache)
	return r, cache
}

// TestRoundTripUncompressedSegment is scenario S1.
func TestRoundTripUncompressedSegment(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)

	seg, err := v.OpenMember("hello", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, v.Close())

	v2, err := OpenVolume(r, cache, path, "r", "")
	require.NoError(t, err)

	segURN := v2.urn.Add("hello")
	sizeV, ok := r.Resolve(segURN.Value(), resolver.PredicateSize)
	require.True(t, ok)
	assert.EqualValues(t, 11, sizeV.Integer)

	crcV, ok := r.Resolve(segURN.Value(), resolver.PredicateCRC)
	require.True(t, ok)
	assert.EqualValues(t, 0x0d4a1185, uint32(crcV.Integer))

	readSeg, err := newSegmentForRead(r, cache, segURN)
	require.NoError(t, err)
	buf := make([]byte, 11)
	n, err := readSeg.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
}

// TestRoundTripDeflateSegment is close to scenario S2, at a smaller scale
// so the test doesn't need to shuttle megabytes of random bytes through
// an un-run test binary.
func TestRoundTripDeflateSegment(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	seg, err := v.OpenMember("big", CompressionDeflate)
	require.NoError(t, err)
	_, err = seg.Write(payload)
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, v.Close())

	v2, err := OpenVolume(r, cache, path, "r", "")
	require.NoError(t, err)
	segURN := v2.urn.Add("big")

	readSeg, err := newSegmentForRead(r, cache, segURN)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	n, err := readSeg.Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)

	compSizeV, ok := r.Resolve(segURN.Value(), resolver.PredicateCompressedSize)
	require.True(t, ok)
	assert.Less(t, compSizeV.Integer, int64(len(payload)))
}

// TestContainsPreservesInsertionOrder is testable property 2.
func TestContainsPreservesInsertionOrder(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")
	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)

	names := []string{"a", "b", "c"}
	for _, name := range names {
		seg, err := v.OpenMember(name, CompressionStore)
		require.NoError(t, err)
		_, err = seg.Write([]byte(name))
		require.NoError(t, err)
		require.NoError(t, seg.Close())
	}

	contains := r.Iter(v.urn.Value(), resolver.PredicateContains)
	require.Len(t, contains, len(names))
	for i, name := range names {
		assert.Equal(t, v.urn.Add(name).Value(), contains[i].Text)
	}
}

// TestConcurrentReadWhileSegmentOpenForWriteIsBusy is scenario S5.
func TestConcurrentReadWhileSegmentOpenForWriteIsBusy(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)

	seg, err := v.OpenMember("s", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("data"))
	require.NoError(t, err)

	segURN := v.urn.Add("s")
	_, err = cache.Open(segURN, "r")
	require.Error(t, err)
	assert.True(t, aff4error.Is(err, aff4error.ErrBusy))

	require.NoError(t, seg.Close())
}

// TestCorruptedEOCD is scenario S6.
func TestCorruptedEOCD(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)
	seg, err := v.OpenMember("hello", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, v.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	// The 22-byte EOCD record is followed by its comment, the volume URN
	// plus a nul terminator.
	_, err = f.WriteAt(make([]byte, 22), info.Size()-22-int64(len(v.URNValue())+1))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rRead, cacheRead := newTestEnv()
	_, err = OpenVolume(rRead, cacheRead, path, "r", "")
	require.Error(t, err)
	assert.True(t, aff4error.Is(err, aff4error.ErrNotAZipFile))

	rWrite, cacheWrite := newTestEnv()
	v2, err := OpenVolume(rWrite, cacheWrite, path, "w", "")
	require.NoError(t, err)
	assert.NotNil(t, v2)
}

// TestZip64PromotionOfHeaderOffset is scenario S3, simulated by forcing
// directoryOffset past the ZIP64 threshold instead of actually writing
// gigabytes of filler.
func TestZip64PromotionOfHeaderOffset(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)
	v.directoryOffset = int64(zip64Limit) + 1024

	seg, err := v.OpenMember("big", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	segURN := v.urn.Add("big")
	headerOffV, ok := r.Resolve(segURN.Value(), resolver.PredicateHeaderOffset)
	require.True(t, ok)
	assert.Greater(t, headerOffV.Integer, int64(zip64Limit))

	entry, err := v.buildCentralDirectoryEntry(segURN.Value())
	require.NoError(t, err)
	assert.Equal(t, uint32(zip64Limit), readUint32At(entry, 42))
	assert.Greater(t, readUint16At(entry, 30), uint16(0))
}

// TestAppendedVolumeRetrievableByEarlierURN is scenario S4: a second
// volume appended after the first must not destroy the first's central
// directory, and each remains reachable by its own URN.
func TestAppendedVolumeRetrievableByEarlierURN(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")

	v, err := OpenVolume(r, cache, path, "w", "aff4://v")
	require.NoError(t, err)
	seg, err := v.OpenMember("from-v", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("v data"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, v.Close())

	w, err := OpenVolume(r, cache, path, "w", "aff4://w")
	require.NoError(t, err)
	require.Equal(t, "aff4://w", w.urn.Value())
	seg2, err := w.OpenMember("from-w", CompressionStore)
	require.NoError(t, err)
	_, err = seg2.Write([]byte("w data"))
	require.NoError(t, err)
	require.NoError(t, seg2.Close())
	require.NoError(t, w.Close())

	rReadW, cacheReadW := newTestEnv()
	wRead, err := OpenVolume(rReadW, cacheReadW, path, "r", "")
	require.NoError(t, err)
	assert.Equal(t, "aff4://w", wRead.urn.Value())
	assert.True(t, containsSuffix(rReadW.Iter(wRead.urn.Value(), resolver.PredicateContains), "from-w"))
	assert.False(t, containsSuffix(rReadW.Iter(wRead.urn.Value(), resolver.PredicateContains), "from-v"))

	rReadV, cacheReadV := newTestEnv()
	vRead, err := OpenVolume(rReadV, cacheReadV, path, "r", "aff4://v")
	require.NoError(t, err)
	assert.Equal(t, "aff4://v", vRead.urn.Value())
	assert.True(t, containsSuffix(rReadV.Iter(vRead.urn.Value(), resolver.PredicateContains), "from-v"))
}

func containsSuffix(values []rdfvalue.Value, suffix string) bool {
	for _, v := range values {
		if strings.HasSuffix(v.Text, suffix) {
			return true
		}
	}
	return false
}

// TestIdempotentReload is testable property 5.
func TestIdempotentReload(t *testing.T) {
	r, cache := newTestEnv()
	path := filepath.Join(t.TempDir(), "vol.aff4")
	v, err := OpenVolume(r, cache, path, "w", "")
	require.NoError(t, err)
	seg, err := v.OpenMember("hello", CompressionStore)
	require.NoError(t, err)
	_, err = seg.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, v.Close())

	volURN := v.urn.Value()

	v2, err := OpenVolume(r, cache, path, "r", volURN)
	require.NoError(t, err)
	assert.Equal(t, volURN, v2.urn.Value())
	assert.Equal(t, v.directoryOffset, v2.directoryOffset)
}
