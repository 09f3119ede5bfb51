package aff4zip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDOSDateTimeRoundTrip(t *testing.T) {
	want := time.Date(2024, time.March, 14, 9, 26, 52, 0, time.UTC)
	date, timeField := dosDateTime(want)
	got, ok := timeFromDOS(date, timeField)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestDOSDateTimeClampsPreEpoch(t *testing.T) {
	old := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	date, _ := dosDateTime(old)
	got, ok := timeFromDOS(date, 0)
	assert.True(t, ok)
	assert.Equal(t, 1980, got.Year())
}

func TestTimeFromDOSRejectsImpossibleFields(t *testing.T) {
	_, ok := timeFromDOS(0, 0xffff) // hour field decodes to 31, out of range
	assert.False(t, ok)
}

func TestNeedsZip64(t *testing.T) {
	assert.False(t, needsZip64(zip64Limit))
	assert.True(t, needsZip64(zip64Limit+1))
}

func TestSentinel32(t *testing.T) {
	assert.Equal(t, uint32(10), sentinel32(10))
	assert.Equal(t, uint32(zip64Limit), sentinel32(uint64(zip64Limit)+1))
}
