// Package rdfvalue implements the typed value union the resolver stores
// against each (subject, predicate) pair: integers, strings, URNs, and
// raw byte blobs, each with a textual round-trip encoding for the RDF
// manifest and a binary comparison for equality (spec §3/§4.A).
package rdfvalue

import (
	"fmt"
	"strconv"
)

// Kind tags which arm of the union a Value holds.
type Kind int

// The four kinds of typed value the resolver understands.
const (
	KindInteger Kind = iota
	KindString
	KindURN
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindURN:
		return "urn"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a tagged union over {int64, string, urn, raw bytes}.
//
// Only one of the fields is meaningful, selected by Kind. Value is
// intentionally a plain struct (not an interface) so resolver lists can
// store it by value without boxing allocations.
type Value struct {
	Kind    Kind
	Integer int64
	Text    string // used for both KindString and KindURN
	Bytes   []byte
}

// Int wraps an int64 as an integer-typed value.
func Int(v int64) Value { return Value{Kind: KindInteger, Integer: v} }

// String wraps a string as a string-typed value.
func String(v string) Value { return Value{Kind: KindString, Text: v} }

// URN wraps a URN's lexical form as a urn-typed value.
func URN(v string) Value { return Value{Kind: KindURN, Text: v} }

// Raw wraps a byte slice as a raw-bytes-typed value. The slice is copied
// so callers may reuse their buffer.
func Raw(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{Kind: KindBytes, Bytes: cp}
}

// Encode returns the textual round-trip form used by the RDF manifest
// serialiser.
func (v Value) Encode() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Integer, 10)
	case KindString:
		return v.Text
	case KindURN:
		return v.Text
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	default:
		return ""
	}
}

// Equal compares two values by binary content, including kind.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Integer == other.Integer
	case KindString, KindURN:
		return v.Text == other.Text
	case KindBytes:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String implements fmt.Stringer for debugging/logging.
func (v Value) String() string {
	return fmt.Sprintf("%s(%s)", v.Kind, v.Encode())
}

// ParseInt decodes a string produced by Encode for a KindInteger value.
func ParseInt(s string) (Value, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("rdfvalue: invalid integer %q: %w", s, err)
	}
	return Int(n), nil
}
