package invite

import (
	"testing"
	"time"

	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/ratchet"
)

func TestCreateInviteAndConversationDerivation(t *testing.T) {
	inv, err := CreateInvite("OWNER-DIGEST", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.InviteID == "" || len(inv.Secret) != secretLen {
		t.Fatalf("malformed invite: %+v", inv)
	}

	ctx1, err := InitiatorConversation(inv, "device-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx2, err := InitiatorConversation(inv, "device-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ctx1.Token) != string(ctx2.Token) || ctx1.ID != ctx2.ID {
		t.Fatalf("expected deterministic conversation derivation for same device")
	}
}

func TestAcceptRejectsExpiredInvite(t *testing.T) {
	inv, err := CreateInvite("OWNER-DIGEST", -time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = Accept(inv, nil, nil, "device-B", nil, nil, ratchet.Header{}, time.Now())
	if err == nil {
		t.Fatalf("expected expired-invite error")
	}
}

func TestAcceptWiresDRBootstrap(t *testing.T) {
	inv, err := CreateInvite("OWNER-DIGEST", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ownerMK := []byte("owner-master-key-32-bytes-long!!")
	ownerDevice, _, err := prekeys.GenerateInitialBundle(1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, err := AttachContact(ContactPayload{OwnerIdentityKeyPub: ownerDevice.IdentityKeyPub, OwnerDisplayName: "Owner"}, ownerMK)
	if err != nil {
		t.Fatalf("attach contact failed: %v", err)
	}

	guestDevice, _, err := prekeys.GenerateInitialBundle(1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstHeader := ratchet.Header{RatchetPub: ownerDevice.SignedPreKeyPub, Counter: 0, PrevCounter: 0}
	res, err := Accept(inv, env, ownerMK, "device-B", guestDevice, nil, firstHeader, time.Now())
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if res.Owner.OwnerDisplayName != "Owner" {
		t.Fatalf("expected decrypted owner payload, got %+v", res.Owner)
	}
	if res.DR == nil || !res.DR.X3DHDone {
		t.Fatalf("expected completed DR bootstrap")
	}
}
