package framecipher

import (
	"bytes"
	"testing"

	"github.com/sentry-msgr/core/internal/callkeys"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	nonceBase := make([]byte, 12)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonceBase {
		nonceBase[i] = byte(i + 1)
	}

	tx, err := New(key, nonceBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rx, err := New(key, nonceBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		ct, counter := tx.Seal([]byte("frame payload"))
		pt, err := rx.Open(ct, counter)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if !bytes.Equal(pt, []byte("frame payload")) {
			t.Fatalf("frame %d: roundtrip mismatch", i)
		}
	}
}

func TestOpenFailsOnTamperedFrame(t *testing.T) {
	key := make([]byte, 32)
	nonceBase := make([]byte, 12)

	tx, _ := New(key, nonceBase)
	rx, _ := New(key, nonceBase)

	ct, counter := tx.Seal([]byte("frame payload"))
	ct[0] ^= 0xFF

	if _, err := rx.Open(ct, counter); err == nil {
		t.Fatalf("expected decrypt failure on tampered frame")
	}
}

func TestSenderGateBlocksUntilReceiverConfirmed(t *testing.T) {
	key := make([]byte, 32)
	nonceBase := make([]byte, 12)
	tx, _ := New(key, nonceBase)

	var gate SenderGate
	if _, _, err := gate.Seal(tx, []byte("frame")); err == nil {
		t.Fatalf("expected seal to be blocked before receiver confirmation")
	}

	gate.ConfirmReceiver()
	if _, _, err := gate.Seal(tx, []byte("frame")); err != nil {
		t.Fatalf("expected seal to succeed after receiver confirmation: %v", err)
	}
}

func TestStatusOnMissingKey(t *testing.T) {
	status, err := StatusOnMissingKey(callkeys.Capabilities{InsertableStreams: true})
	if status != CallStatusFailed {
		t.Fatalf("expected call to fail when peer supports insertable streams but key is absent")
	}
	if !sentryerr.Is(err, sentryerr.CodeCallFailed) {
		t.Fatalf("expected CodeCallFailed, got %v", err)
	}

	status, err = StatusOnMissingKey(callkeys.Capabilities{InsertableStreams: false})
	if status != CallStatusSkipped {
		t.Fatalf("expected call to continue unencrypted when peer lacks insertable-streams support")
	}
	if !sentryerr.Is(err, sentryerr.CodeE2EESkipped) {
		t.Fatalf("expected CodeE2EESkipped, got %v", err)
	}
}
