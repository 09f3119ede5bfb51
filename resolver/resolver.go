// Package resolver implements the AFF4 triple store: a typed,
// multi-valued key/attribute map from (subject URN, predicate URI) to an
// ordered list of rdfvalue.Value, per spec §3/§4.B.
//
// The resolver is meant to be used as a single process-wide service
// (spec §6); callers that need one get it from aff4.Resolver() rather
// than constructing their own, though New is exported for tests and for
// embedders that want isolated instances.
package resolver

import (
	"sync"

	"github.com/aff4/aff4/rdfvalue"
)

// Well-known predicate URIs, per spec §3/§6. Values are the textual URIs
// themselves so they can be used directly as map keys.
const (
	PredicateStored           = "http://aff4.org/Schema#stored"
	PredicateContains          = "http://aff4.org/Schema#contains"
	PredicateType              = "http://aff4.org/Schema#type"
	PredicateSize              = "http://aff4.org/Schema#size"
	PredicateTimestamp         = "http://aff4.org/Schema#timestamp"
	PredicateDirectoryOffset   = "http://aff4.org/Schema#directory_offset"
	PredicateDirty             = "http://aff4.org/Schema#dirty"
	PredicateCompression       = "http://aff4.org/Schema#compression"
	PredicateCompressedSize    = "http://aff4.org/Schema#compressed_size"
	PredicateCRC               = "http://aff4.org/Schema#crc"
	PredicateHeaderOffset      = "http://aff4.org/Schema#header_offset"
	PredicateFileOffset        = "http://aff4.org/Schema#file_offset"
	// PredicateHash is an extension beyond the base schema: the optional
	// SHA-256 of a segment's plaintext, computed but never published by
	// the original implementation (spec §9 Open Question 2).
	PredicateHash = "http://aff4.org/Schema#hash"
)

// Registered type tags, per spec §6.
const (
	TypeFile       = "AFF4_FILE"
	TypeZipVolume  = "AFF4_ZIP_VOLUME"
	TypeSegment    = "AFF4_SEGMENT"
)

// nonVolatile lists the predicates that survive into the RDF manifest;
// everything else is volatile and dropped during serialisation (spec §3).
var nonVolatile = map[string]bool{
	PredicateStored: true,
	PredicateType:    true,
	PredicateSize:    true,
	PredicateTimestamp: true,
	PredicateHash:    true,
}

// IsVolatile reports whether predicate p is omitted from RDF
// serialisation.
func IsVolatile(p string) bool {
	return !nonVolatile[p]
}

// Resolver is the in-memory triple store. The zero value is not usable;
// construct one with New.
type Resolver struct {
	mu   sync.Mutex
	data map[string]map[string][]rdfvalue.Value
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{
		data: make(map[string]map[string][]rdfvalue.Value),
	}
}

func (r *Resolver) subject(s string) map[string][]rdfvalue.Value {
	m, ok := r.data[s]
	if !ok {
		m = make(map[string][]rdfvalue.Value)
		r.data[s] = m
	}
	return m
}

// Set replaces predicate p's value list for subject s with [v].
func (r *Resolver) Set(s, p string, v rdfvalue.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subject(s)[p] = []rdfvalue.Value{v}
}

// Add appends v to predicate p's value list for subject s, preserving
// insertion order and allowing duplicates.
func (r *Resolver) Add(s, p string, v rdfvalue.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.subject(s)
	m[p] = append(m[p], v)
}

// Resolve returns the first value for (s, p), if any. The returned value
// is a copy; mutating it (e.g. Bytes) does not affect the resolver.
func (r *Resolver) Resolve(s, p string) (rdfvalue.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values, ok := r.data[s][p]
	if !ok || len(values) == 0 {
		return rdfvalue.Value{}, false
	}
	v := values[0]
	if v.Bytes != nil {
		v.Bytes = append([]byte(nil), v.Bytes...)
	}
	return v, true
}

// Iter returns a snapshot slice of every value for (s, p), in insertion
// order. It is a copy, so concurrent Set/Add/Del on the same pair cannot
// invalidate an in-progress iteration (spec §4.B).
func (r *Resolver) Iter(s, p string) []rdfvalue.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.data[s][p]
	out := make([]rdfvalue.Value, len(values))
	copy(out, values)
	return out
}

// Del drops predicate p for subject s. If p is "", every predicate for s
// is dropped.
func (r *Resolver) Del(s, p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == "" {
		delete(r.data, s)
		return
	}
	if m, ok := r.data[s]; ok {
		delete(m, p)
	}
}

// Subjects returns a snapshot of every subject URN the resolver currently
// holds triples for. Order is unspecified.
func (r *Resolver) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.data))
	for s := range r.data {
		out = append(out, s)
	}
	return out
}

// Predicates returns a snapshot of every predicate set for subject s.
func (r *Resolver) Predicates(s string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.data[s]
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// SetDirty is shorthand for marking a volume modified - the mechanism
// close_volume uses to decide whether the central directory needs a
// rewrite (spec §4.B).
func (r *Resolver) SetDirty(volume string, dirty bool) {
	v := int64(0)
	if dirty {
		v = 1
	}
	r.Set(volume, PredicateDirty, rdfvalue.Int(v))
}

// IsDirty reports whether volume has been marked dirty.
func (r *Resolver) IsDirty(volume string) bool {
	v, ok := r.Resolve(volume, PredicateDirty)
	return ok && v.Integer != 0
}

// Merge copies triples produced by an external RDF parser into the
// resolver via Add, the merge strategy spec §6 requires of parse(bytes,
// base_urn).
func (r *Resolver) Merge(triples []Triple) {
	for _, t := range triples {
		r.Add(t.Subject, t.Predicate, t.Value)
	}
}

// Triple is a single (subject, predicate, value) event, the unit the
// external RDF parser emits and the unit Serialise walks when projecting
// the resolver into manifest bytes.
type Triple struct {
	Subject   string
	Predicate string
	Value     rdfvalue.Value
}

// NonVolatileTriples returns every non-volatile triple whose subject is
// in urns: subjects in the order given and each predicate's values in
// list order. The order of predicates within a subject is not defined
// (they come from a map). This
// is the projection the manifest serialiser (an external collaborator
// per spec §6) walks to produce bytes.
func (r *Resolver) NonVolatileTriples(urns []string) []Triple {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Triple
	for _, s := range urns {
		m := r.data[s]
		for p, values := range m {
			if IsVolatile(p) {
				continue
			}
			for _, v := range values {
				out = append(out, Triple{Subject: s, Predicate: p, Value: v})
			}
		}
	}
	return out
}
