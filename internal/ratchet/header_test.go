package ratchet

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		RatchetPub:  []byte{1, 2, 3, 4},
		Counter:     7,
		PrevCounter: 3,
	}

	s, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeHeader(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Counter != h.Counter || got.PrevCounter != h.PrevCounter {
		t.Fatalf("counter mismatch: got %+v want %+v", got, h)
	}
	if len(got.RatchetPub) != len(h.RatchetPub) {
		t.Fatalf("ratchetPub length mismatch: got %d want %d", len(got.RatchetPub), len(h.RatchetPub))
	}
	for i := range h.RatchetPub {
		if got.RatchetPub[i] != h.RatchetPub[i] {
			t.Fatalf("ratchetPub byte %d mismatch: got %d want %d", i, got.RatchetPub[i], h.RatchetPub[i])
		}
	}
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	if _, err := DecodeHeader("not-valid-base64!!"); err == nil {
		t.Fatalf("expected error decoding invalid header")
	}
}

func TestEncodeBodyDecodeBodyRoundTrip(t *testing.T) {
	ct := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	s := EncodeBody(ct)
	got, err := DecodeBody(s)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != len(ct) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(ct))
	}
	for i := range ct {
		if got[i] != ct[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}
