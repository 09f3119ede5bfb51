package resolver

import (
	"testing"

	"github.com/aff4/aff4/rdfvalue"
)

func TestSetReplacesAddAppends(t *testing.T) {
	r := New()
	r.Set("s", "p", rdfvalue.Int(1))
	r.Add("s", "p", rdfvalue.Int(2))
	got := r.Iter("s", "p")
	if len(got) != 2 || got[0].Integer != 1 || got[1].Integer != 2 {
		t.Fatalf("unexpected values: %v", got)
	}

	r.Set("s", "p", rdfvalue.Int(3))
	got = r.Iter("s", "p")
	if len(got) != 1 || got[0].Integer != 3 {
		t.Fatalf("Set should replace the whole list, got %v", got)
	}
}

func TestResolveFirstValue(t *testing.T) {
	r := New()
	if _, ok := r.Resolve("missing", "p"); ok {
		t.Fatal("expected no value for unknown subject")
	}
	r.Add("s", "p", rdfvalue.String("a"))
	r.Add("s", "p", rdfvalue.String("b"))
	v, ok := r.Resolve("s", "p")
	if !ok || v.Text != "a" {
		t.Fatalf("Resolve should return the first value, got %v", v)
	}
}

func TestIterIsSnapshot(t *testing.T) {
	r := New()
	r.Add("s", "p", rdfvalue.Int(1))
	snap := r.Iter("s", "p")
	r.Add("s", "p", rdfvalue.Int(2))
	if len(snap) != 1 {
		t.Fatalf("snapshot should not observe later Add, got %v", snap)
	}
}

func TestDelSpecificAndAll(t *testing.T) {
	r := New()
	r.Add("s", "p1", rdfvalue.Int(1))
	r.Add("s", "p2", rdfvalue.Int(2))

	r.Del("s", "p1")
	if _, ok := r.Resolve("s", "p1"); ok {
		t.Fatal("p1 should be gone")
	}
	if _, ok := r.Resolve("s", "p2"); !ok {
		t.Fatal("p2 should survive a targeted delete")
	}

	r.Del("s", "")
	if _, ok := r.Resolve("s", "p2"); ok {
		t.Fatal("Del with empty predicate should drop every predicate")
	}
}

func TestDirty(t *testing.T) {
	r := New()
	if r.IsDirty("v") {
		t.Fatal("fresh resolver should not report dirty")
	}
	r.SetDirty("v", true)
	if !r.IsDirty("v") {
		t.Fatal("expected dirty after SetDirty(true)")
	}
	r.SetDirty("v", false)
	if r.IsDirty("v") {
		t.Fatal("expected not dirty after SetDirty(false)")
	}
}

func TestNonVolatileTriplesFiltersVolatile(t *testing.T) {
	r := New()
	r.Set("s", PredicateSize, rdfvalue.Int(10))
	r.Set("s", PredicateCRC, rdfvalue.Int(0xdeadbeef)) // volatile

	triples := r.NonVolatileTriples([]string{"s"})
	if len(triples) != 1 || triples[0].Predicate != PredicateSize {
		t.Fatalf("expected only the non-volatile triple, got %v", triples)
	}
}

func TestMerge(t *testing.T) {
	r := New()
	r.Merge([]Triple{
		{Subject: "s", Predicate: "p", Value: rdfvalue.Int(1)},
		{Subject: "s", Predicate: "p", Value: rdfvalue.Int(2)},
	})
	got := r.Iter("s", "p")
	if len(got) != 2 {
		t.Fatalf("expected merge to Add both triples, got %v", got)
	}
}
