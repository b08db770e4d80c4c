package prekeys

import (
	"bytes"
	"testing"
)

func TestGenerateInitialBundleShape(t *testing.T) {
	priv, bundle, err := GenerateInitialBundle(1, 5)
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}
	if len(bundle.OneTimePreKeys) != 5 {
		t.Fatalf("expected 5 one-time prekeys, got %d", len(bundle.OneTimePreKeys))
	}
	if !bytes.Equal(bundle.IdentityKeyPub, priv.IdentityKeyPub) {
		t.Fatalf("bundle identity key must match device identity key")
	}
	if priv.NextOPKID != 6 {
		t.Fatalf("expected NextOPKID to advance to 6, got %d", priv.NextOPKID)
	}
	for i, opk := range bundle.OneTimePreKeys {
		if opk.ID != uint32(1+i) {
			t.Fatalf("expected sequential opk ids starting at 1, got %d at index %d", opk.ID, i)
		}
	}
}

func TestConsumeOPKRemovesEntry(t *testing.T) {
	priv, bundle, err := GenerateInitialBundle(1, 2)
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}
	targetID := bundle.OneTimePreKeys[0].ID

	got := priv.ConsumeOPK(targetID)
	if got == nil {
		t.Fatalf("expected non-nil private key for a known opk id")
	}
	if priv.ConsumeOPK(targetID) != nil {
		t.Fatalf("expected nil on re-consuming an already-consumed opk id")
	}
	if priv.ConsumeOPK(9999) != nil {
		t.Fatalf("expected nil for an unknown opk id")
	}
}

func TestNeedsReplenishment(t *testing.T) {
	priv, _, err := GenerateInitialBundle(1, 3)
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}
	if priv.NeedsReplenishment(2) {
		t.Fatalf("expected no replenishment needed with 3 opks and low water 2")
	}
	priv.ConsumeOPK(1)
	priv.ConsumeOPK(2)
	if !priv.NeedsReplenishment(2) {
		t.Fatalf("expected replenishment needed once down to 1 opk with low water 2")
	}
}

func TestGenerateOPKsAppendsWithoutReset(t *testing.T) {
	priv, _, err := GenerateInitialBundle(1, 2)
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}
	more, err := priv.GenerateOPKs(3)
	if err != nil {
		t.Fatalf("generate more opks: %v", err)
	}
	if len(more) != 3 {
		t.Fatalf("expected 3 new opks, got %d", len(more))
	}
	if more[0].ID != 3 {
		t.Fatalf("expected new opk batch to continue from NextOPKID, got first id %d", more[0].ID)
	}
}
