package ratchet

import (
	"testing"

	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

func bootstrapPair(t *testing.T) (a, b *State) {
	t.Helper()
	aDevice, _, err := prekeys.GenerateInitialBundle(1, 5)
	if err != nil {
		t.Fatalf("generate A bundle: %v", err)
	}
	bDevice, bBundle, err := prekeys.GenerateInitialBundle(1, 5)
	if err != nil {
		t.Fatalf("generate B bundle: %v", err)
	}

	aState, opkID, err := InitiatorBootstrap(aDevice, bBundle)
	if err != nil {
		t.Fatalf("initiator bootstrap: %v", err)
	}
	h, ct, aState, err := Send(aState, []byte("m1"))
	if err != nil {
		t.Fatalf("A first send: %v", err)
	}

	var consumedPriv []byte
	if opkID != 0 {
		consumedPriv = bDevice.ConsumeOPK(opkID)
	}
	bState, err := GuestBootstrap(bDevice, consumedPriv, aDevice.IdentityKeyPub, h)
	if err != nil {
		t.Fatalf("guest bootstrap: %v", err)
	}

	pt, bState, err := Receive(bState, h, ct)
	if err != nil {
		t.Fatalf("B decrypt m1: %v", err)
	}
	if string(pt) != "m1" {
		t.Fatalf("unexpected plaintext: %q", pt)
	}
	return aState, bState
}

func TestInitiatorBootstrapRejectsBadSignedPreKeySignature(t *testing.T) {
	aDevice, _, err := prekeys.GenerateInitialBundle(1, 1)
	if err != nil {
		t.Fatalf("generate A bundle: %v", err)
	}
	_, bBundle, err := prekeys.GenerateInitialBundle(1, 1)
	if err != nil {
		t.Fatalf("generate B bundle: %v", err)
	}
	bBundle.SignedPreKeySig[0] ^= 0xFF

	if _, _, err := InitiatorBootstrap(aDevice, bBundle); err == nil {
		t.Fatalf("expected signature validation failure")
	} else if !sentryerr.Is(err, sentryerr.CodeBadEnvelope) {
		t.Fatalf("expected BAD_ENVELOPE, got %v", err)
	}
}

func TestReceiveRejectsCounterBehindCurrentChain(t *testing.T) {
	aState, bState := bootstrapPair(t)

	h2, ct2, aState, err := Send(aState, []byte("m2"))
	if err != nil {
		t.Fatalf("send m2: %v", err)
	}
	if _, bState, err = Receive(bState, h2, ct2); err != nil {
		t.Fatalf("receive m2: %v", err)
	}

	// Replaying the already-consumed header must fail as COUNTER_TOO_LOW,
	// not be silently accepted a second time.
	if _, _, err := Receive(bState, h2, ct2); err == nil {
		t.Fatalf("expected error replaying an already-consumed header")
	} else if !sentryerr.Is(err, sentryerr.CodeCounterTooLow) {
		t.Fatalf("expected COUNTER_TOO_LOW, got %v", err)
	}
}

func TestReceiveRejectsTamperedCiphertext(t *testing.T) {
	aState, bState := bootstrapPair(t)

	h2, ct2, _, err := Send(aState, []byte("m2"))
	if err != nil {
		t.Fatalf("send m2: %v", err)
	}
	ct2[0] ^= 0xFF

	if _, _, err := Receive(bState, h2, ct2); err == nil {
		t.Fatalf("expected decrypt failure on tampered ciphertext")
	} else if !sentryerr.Is(err, sentryerr.CodeDecryptFailed) {
		t.Fatalf("expected DECRYPT_FAILED, got %v", err)
	}
}

func TestSendNeverMutatesInputState(t *testing.T) {
	aState, _ := bootstrapPair(t)
	counterBefore := aState.SendCounter

	if _, _, _, err := Send(aState, []byte("m2")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if aState.SendCounter != counterBefore {
		t.Fatalf("expected Send to leave the input state's counter untouched, got %d want %d", aState.SendCounter, counterBefore)
	}
}
