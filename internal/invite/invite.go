// Package invite implements the friend-invite flow (spec §3 Invite,
// §4.9/table row C9): an owner-issued, single-acceptor invite that
// carries the contact-share envelope the guest needs to resolve the
// owner's identity, and that bootstraps the Double Ratchet session on
// accept.
package invite

import (
	"crypto/ed25519"
	"crypto/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sentry-msgr/core/internal/conversation"
	"github.com/sentry-msgr/core/internal/envelope"
	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/ratchet"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

const secretLen = 32

// Invite is the server-issued, single-acceptor invite (spec §3).
type Invite struct {
	InviteID          string               `json:"inviteId"`
	Secret            []byte               `json:"-"`
	OwnerAccountDigest string              `json:"ownerAccountDigest"`
	ExpiresAt         time.Time            `json:"expiresAt"`
	PrekeyBundle      *prekeys.PublicBundle `json:"prekeyBundle,omitempty"`
}

// ContactPayload is the plaintext the owner MK-wraps into an
// attach-invite-contact envelope for the guest to decrypt on accept:
// enough to resolve the owner's identity and greet them by name.
type ContactPayload struct {
	OwnerIdentityKeyPub []byte `json:"ownerIdentityKeyPub"`
	OwnerDisplayName    string `json:"ownerDisplayName,omitempty"`
}

// CreateInvite mints a fresh invite (spec §6 createInvite).
func CreateInvite(ownerAccountDigest string, ttl time.Duration, bundle *prekeys.PublicBundle) (*Invite, error) {
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "generate invite secret", err)
	}
	return &Invite{
		InviteID:           uuid.NewString(),
		Secret:             secret,
		OwnerAccountDigest: ownerAccountDigest,
		ExpiresAt:          time.Now().UTC().Add(ttl),
		PrekeyBundle:       bundle,
	}, nil
}

// AttachContact MK-wraps a ContactPayload for the guest to open on
// accept (spec §6 attachInviteContact).
func AttachContact(payload ContactPayload, ownerMK []byte) (*envelope.Envelope, error) {
	return envelope.Wrap(payload, ownerMK, envelope.InfoContact)
}

// AcceptResult is everything the guest needs after accepting.
type AcceptResult struct {
	Context *conversation.Context
	Owner   ContactPayload
	DR      *ratchet.State
}

// Accept validates the invite TTL, decrypts the owner's contact
// envelope, derives the conversation context, and bootstraps the DR
// state as the guest (spec §6 acceptInvite + §4.7 "Session bootstrap
// (guest)"). deviceID must be the same device id the owner passed to
// InitiatorConversation, so both sides derive the same conversation
// token and id. The guest's own
// identity/prekey material is myIdentity; consumedOPKPriv is the
// private half of whichever one-time prekey the owner's bundle
// consumed, if any.
func Accept(inv *Invite, contactEnv *envelope.Envelope, guestMK []byte, deviceID string, myIdentity *prekeys.DevicePriv, consumedOPKPriv []byte, firstHeader ratchet.Header, now time.Time) (*AcceptResult, error) {
	if now.After(inv.ExpiresAt) {
		return nil, sentryerr.New(sentryerr.CodeInviteExpired, "invite expired at accept time")
	}

	var owner ContactPayload
	if err := envelope.Unwrap(contactEnv, guestMK, &owner); err != nil {
		return nil, err
	}
	if len(owner.OwnerIdentityKeyPub) != ed25519.PublicKeySize {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "owner identity key malformed", "ownerIdentityKeyPub")
	}

	ctx, err := conversation.Derive(inv.Secret, deviceID)
	if err != nil {
		return nil, err
	}

	drState, err := ratchet.GuestBootstrap(myIdentity, consumedOPKPriv, ed25519.PublicKey(owner.OwnerIdentityKeyPub), firstHeader)
	if err != nil {
		return nil, err
	}

	return &AcceptResult{Context: ctx, Owner: owner, DR: drState}, nil
}

// InitiatorConversation derives the owner's own conversation context
// once they've issued an invite, for the same (secret, deviceId) pair
// the guest will later derive on accept.
func InitiatorConversation(inv *Invite, deviceID string) (*conversation.Context, error) {
	return conversation.Derive(inv.Secret, deviceID)
}
