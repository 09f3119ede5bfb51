package urn

import "testing"

func TestAddNormalisesSlashes(t *testing.T) {
	u := New("aff4://volume")
	got := u.Add("hello").Value()
	want := "aff4://volume/hello"
	if got != want {
		t.Fatalf("Add() = %q, want %q", got, want)
	}

	got = u.Add("/hello").Value()
	if got != want {
		t.Fatalf("Add(%q) = %q, want %q", "/hello", got, want)
	}
}

func TestRelativeName(t *testing.T) {
	base := New("aff4://volume")
	child := New("aff4://volume/hello/world")

	if got := child.RelativeName(base); got != "hello/world" {
		t.Fatalf("RelativeName = %q, want %q", got, "hello/world")
	}

	other := New("aff4://other/hello")
	if got := other.RelativeName(base); got != other.Value() {
		t.Fatalf("RelativeName on non-prefixed urn = %q, want verbatim %q", got, other.Value())
	}

	// "aff4://volumeX" must not be treated as a child of "aff4://volume"
	notABoundary := New("aff4://volumeX/hello")
	if got := notABoundary.RelativeName(base); got != notABoundary.Value() {
		t.Fatalf("RelativeName crossed a non-separator boundary: got %q", got)
	}
}

func TestEqual(t *testing.T) {
	a := New("aff4://x")
	b := New("aff4://x")
	c := New("aff4://y")
	if !a.Equal(b) {
		t.Fatal("expected equal URNs to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected different URNs to compare unequal")
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"hello world.txt",
		"a/b/c",
		"100%",
		"unicode-é-name",
		"control\x01char",
	}
	for _, c := range cases {
		escaped := EscapeSegmentName(c)
		got := UnescapeSegmentName(escaped)
		if got != c {
			t.Fatalf("round trip failed: %q -> %q -> %q", c, escaped, got)
		}
	}
}

func TestEscapeIsPathSafe(t *testing.T) {
	escaped := EscapeSegmentName("a/b")
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '/' {
			t.Fatalf("escaped name still contains a slash: %q", escaped)
		}
	}
}
