package aff4zip

import (
	"testing"

	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	triples := []resolver.Triple{
		{Subject: "aff4://vol", Predicate: resolver.PredicateType, Value: rdfvalue.String(resolver.TypeZipVolume)},
		{Subject: "aff4://vol/seg", Predicate: resolver.PredicateSize, Value: rdfvalue.Int(11)},
		{Subject: "aff4://vol/seg", Predicate: resolver.PredicateStored, Value: rdfvalue.URN("aff4://vol")},
		{Subject: "aff4://vol/seg", Predicate: resolver.PredicateHash, Value: rdfvalue.Raw([]byte{0xde, 0xad, 0xbe, 0xef})},
	}

	data := SerialiseManifest(triples)
	got, err := ParseManifest(data, "aff4://vol")
	require.NoError(t, err)
	require.Len(t, got, len(triples))
	for i := range triples {
		assert.True(t, triples[i].Value.Equal(got[i].Value), "triple %d: %v != %v", i, triples[i].Value, got[i].Value)
		assert.Equal(t, triples[i].Subject, got[i].Subject)
		assert.Equal(t, triples[i].Predicate, got[i].Predicate)
	}
}

func TestParseManifestRejectsEmptyBase(t *testing.T) {
	_, err := ParseManifest(SerialiseManifest(nil), "")
	assert.Error(t, err)
}

func TestParseManifestRejectsMalformedLine(t *testing.T) {
	_, err := ParseManifest([]byte("not-enough-fields\n"), "aff4://vol")
	assert.Error(t, err)
}
