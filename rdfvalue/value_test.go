package rdfvalue

import "testing"

func TestEncodeRoundTrip(t *testing.T) {
	v := Int(12345)
	encoded := v.Encode()
	got, err := ParseInt(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, v)
	}
}

func TestEqualAcrossKinds(t *testing.T) {
	if Int(1).Equal(String("1")) {
		t.Fatal("values of different kinds must never compare equal")
	}
}

func TestRawCopiesInput(t *testing.T) {
	buf := []byte{1, 2, 3}
	v := Raw(buf)
	buf[0] = 0xff
	if v.Bytes[0] == 0xff {
		t.Fatal("Raw must copy its input, not alias it")
	}
}

func TestURNKindEncode(t *testing.T) {
	v := URN("aff4://x/y")
	if v.Encode() != "aff4://x/y" {
		t.Fatalf("unexpected encoding: %q", v.Encode())
	}
}
