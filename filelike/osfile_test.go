package filelike

import (
	"path/filepath"
	"testing"

	"github.com/aff4/aff4/resolver"
)

func TestOSFileWriteReadSeekTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bin")
	r := resolver.New()

	f, err := OpenOSFile(r, path, "w")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 11 {
		t.Fatalf("size = %d, want 11", f.Size())
	}

	if _, err := f.Seek(0, SeekSet); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want %q", buf[:n], "hello")
	}

	if err := f.Truncate(5); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 5 {
		t.Fatalf("size after truncate = %d, want 5", f.Size())
	}
	if f.Tell() != 5 {
		t.Fatalf("position should clamp to new size, got %d", f.Tell())
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	v, ok := r.Resolve("file://"+path, resolver.PredicateSize)
	if !ok || v.Integer != 5 {
		t.Fatalf("resolver size = %v, want 5", v)
	}
}

func TestOSFileSeekClampsToSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bin")
	r := resolver.New()
	f, err := OpenOSFile(r, path, "w")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	pos, err := f.Seek(1000, SeekSet)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 3 {
		t.Fatalf("seek past end should clamp to size, got %d", pos)
	}
	pos, err = f.Seek(-1000, SeekCur)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Fatalf("seek before start should clamp to 0, got %d", pos)
	}
}
