package b64

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte{0xFF}, 32),
		{},
	}
	for _, want := range cases {
		for _, enc := range []func([]byte) string{Encode, EncodeURL, EncodeURLUnpadded} {
			s := enc(want)
			got, err := Decode(s)
			if err != nil {
				t.Fatalf("decode %q: %v", s, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("round-trip mismatch for %q: got %x want %x", s, got, want)
			}
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not valid base64!!"); err == nil {
		t.Fatalf("expected error decoding invalid input")
	}
}

func TestMustDecodeFixedEnforcesLength(t *testing.T) {
	b := make([]byte, 32)
	s := Encode(b)

	if _, err := MustDecodeFixed(s, 32); err != nil {
		t.Fatalf("unexpected error for matching length: %v", err)
	}
	if _, err := MustDecodeFixed(s, 16); err == nil {
		t.Fatalf("expected error for mismatched length")
	}
}
