package aff4zip

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/rdfvalue"
	"github.com/aff4/aff4/resolver"
)

// The RDF manifest serialiser/parser is, per spec §1/§6, an external
// collaborator specified only as a byte-in/byte-out contract: the real
// AFF4 ecosystem uses Turtle or RDF/XML here, which is out of scope for
// this core. SerialiseManifest/ParseManifest are this package's minimal,
// concrete implementation of that contract - a line-oriented format
// good enough to round-trip every rdfvalue.Kind - so information.turtle
// segments are self-contained and the core's round-trip tests don't
// depend on an unimplemented external parser.
//
// Line format: subject <TAB> predicate <TAB> kind <TAB> base64(encoded-value)

func kindTag(k rdfvalue.Kind) string {
	switch k {
	case rdfvalue.KindInteger:
		return "i"
	case rdfvalue.KindString:
		return "s"
	case rdfvalue.KindURN:
		return "u"
	case rdfvalue.KindBytes:
		return "b"
	default:
		return "?"
	}
}

func tagKind(tag string) (rdfvalue.Kind, bool) {
	switch tag {
	case "i":
		return rdfvalue.KindInteger, true
	case "s":
		return rdfvalue.KindString, true
	case "u":
		return rdfvalue.KindURN, true
	case "b":
		return rdfvalue.KindBytes, true
	default:
		return 0, false
	}
}

// SerialiseManifest projects triples into the manifest's byte form.
func SerialiseManifest(triples []resolver.Triple) []byte {
	var buf bytes.Buffer
	for _, t := range triples {
		enc := base64.StdEncoding.EncodeToString([]byte(t.Value.Encode()))
		fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\n", t.Subject, t.Predicate, kindTag(t.Value.Kind), enc)
	}
	return buf.Bytes()
}

// ParseManifest parses manifest bytes back into triples. base is the
// volume URN the manifest was read from (accepted per spec §6's
// parse(bytes, base_urn) contract); this format is always fully
// self-describing so base is currently unused beyond validation that it
// is non-empty.
func ParseManifest(data []byte, base string) ([]resolver.Triple, error) {
	if base == "" {
		return nil, fmt.Errorf("aff4zip: ParseManifest requires a base urn: %w", aff4error.ErrRuntime)
	}
	var triples []resolver.Triple
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("aff4zip: malformed manifest line %q: %w", line, aff4error.ErrInvalidFormat)
		}
		kind, ok := tagKind(fields[2])
		if !ok {
			return nil, fmt.Errorf("aff4zip: unknown value kind %q: %w", fields[2], aff4error.ErrInvalidFormat)
		}
		raw, err := base64.StdEncoding.DecodeString(fields[3])
		if err != nil {
			return nil, fmt.Errorf("aff4zip: bad base64 in manifest: %w", aff4error.ErrInvalidFormat)
		}
		var v rdfvalue.Value
		switch kind {
		case rdfvalue.KindInteger:
			v, err = rdfvalue.ParseInt(string(raw))
			if err != nil {
				return nil, err
			}
		case rdfvalue.KindString:
			v = rdfvalue.String(string(raw))
		case rdfvalue.KindURN:
			v = rdfvalue.URN(string(raw))
		case rdfvalue.KindBytes:
			b, err := hex.DecodeString(string(raw))
			if err != nil {
				return nil, fmt.Errorf("aff4zip: bad hex bytes in manifest: %w", aff4error.ErrInvalidFormat)
			}
			v = rdfvalue.Raw(b)
		}
		triples = append(triples, resolver.Triple{
			Subject:   fields[0],
			Predicate: fields[1],
			Value:     v,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("aff4zip: scanning manifest: %w", err)
	}
	return triples, nil
}
