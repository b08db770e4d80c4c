// Command sentrycli drives the core end to end, on a single process:
// two in-memory devices bootstrap prekey bundles, exchange an invite,
// bootstrap a Double Ratchet session, ping-pong a few messages through
// the pipeline, and negotiate a call key. There is no network and no
// server here — every "send" is just handing bytes to the other side's
// function call — so it exercises every wire format without needing a
// transport.
package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/hkdf"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentry-msgr/core/internal/callkeys"
	"github.com/sentry-msgr/core/internal/config"
	"github.com/sentry-msgr/core/internal/conversation"
	"github.com/sentry-msgr/core/internal/framecipher"
	"github.com/sentry-msgr/core/internal/invite"
	"github.com/sentry-msgr/core/internal/metrics"
	"github.com/sentry-msgr/core/internal/pipeline"
	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/ratchet"
)

var logger = log.New(os.Stdout, "[sentrycli] ", log.Ldate|log.Ltime|log.LUTC)

func main() {
	if err := run(); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run() error {
	if os.Getenv("SENTRY_DEVICE_ID") == "" {
		os.Setenv("SENTRY_DEVICE_ID", "sentrycli-demo-device")
	}
	cfg := config.Load()
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	logger.Printf("generating device bundles for owner and guest")
	ownerDevice, _, err := prekeys.GenerateInitialBundle(1, cfg.InitialOPKCount)
	if err != nil {
		return fmt.Errorf("owner bundle: %w", err)
	}
	guestDevice, guestBundle, err := prekeys.GenerateInitialBundle(1, cfg.InitialOPKCount)
	if err != nil {
		return fmt.Errorf("guest bundle: %w", err)
	}
	reg.SetPrekeysRemaining(cfg.InitialOPKCount)

	inv, err := invite.CreateInvite("owner-account-digest", cfg.InviteDefaultTTL, nil)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	logger.Printf("invite %s minted, expires %s", inv.InviteID, inv.ExpiresAt.Format(time.RFC3339))

	// A real deployment carries the contact-share envelope key over an
	// authenticated channel (the account MK, once both sides complete
	// OPAQUE bootstrap). Here it's derived straight from the invite
	// secret so the demo needs no server round trip.
	inviteMK, err := deriveInviteMK(inv.Secret)
	if err != nil {
		return fmt.Errorf("derive invite MK: %w", err)
	}

	contactEnv, err := invite.AttachContact(invite.ContactPayload{
		OwnerIdentityKeyPub: ownerDevice.IdentityKeyPub,
		OwnerDisplayName:    "Alice",
	}, inviteMK)
	if err != nil {
		return fmt.Errorf("attach contact: %w", err)
	}

	// The invite's conversation thread is anchored to one canonical
	// device id shared by both sides (carried in the invite link), not
	// to either party's own device.
	const threadDeviceID = "thread-device-1"
	ownerCtx, err := invite.InitiatorConversation(inv, threadDeviceID)
	if err != nil {
		return fmt.Errorf("owner conversation derivation: %w", err)
	}

	logger.Printf("owner running X3DH against guest's published bundle")
	ownerDR, opkID, err := ratchet.InitiatorBootstrap(ownerDevice, guestBundle)
	if err != nil {
		return fmt.Errorf("initiator bootstrap: %w", err)
	}
	firstHeader, firstCiphertext, ownerDR, err := ratchet.Send(ownerDR, []byte("hey, it's Alice"))
	if err != nil {
		return fmt.Errorf("owner first send: %w", err)
	}

	var consumedOPKPriv []byte
	if opkID != 0 {
		consumedOPKPriv = guestDevice.ConsumeOPK(opkID)
	}

	logger.Printf("guest accepting invite and bootstrapping as DR guest")
	acceptRes, err := invite.Accept(inv, contactEnv, inviteMK, threadDeviceID, guestDevice, consumedOPKPriv, firstHeader, time.Now())
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	logger.Printf("guest resolved owner identity as %q, conversationId=%s", acceptRes.Owner.OwnerDisplayName, acceptRes.Context.ID)
	if acceptRes.Context.ID != ownerCtx.ID {
		return fmt.Errorf("conversation id mismatch between owner and guest derivations")
	}

	guestDR := acceptRes.DR
	firstPlaintext, guestDR, err := ratchet.Receive(guestDR, firstHeader, firstCiphertext)
	if err != nil {
		reg.RecordEnvelopeFailure("dr-first-message")
		return fmt.Errorf("guest decrypt first message: %w", err)
	}
	reg.RecordRatchetDHTurn("guest")
	logger.Printf("guest decrypted first message: %q", firstPlaintext)

	logger.Printf("fingerprint for manual verification: %s", conversation.FormatFingerprint(conversation.Fingerprint(ownerCtx.Token, "owner-account-digest")))

	ownerTimeline := pipeline.NewTimeline(1000)
	guestTimeline := pipeline.NewTimeline(1000)
	pre := pipeline.ComposerPrecondition{
		PeerKey:            "guest",
		ConversationToken:  ownerCtx.Token,
		ConversationID:     ownerCtx.ID,
		SubscriptionActive: true,
		SecureStatusReady:  true,
	}

	for i, text := range []string{"how's the migration going?", "almost done, pushing now"} {
		msgID, env, nextOwnerDR, err := ownerTimeline.SendText(pre, ownerDR, []byte(text))
		if err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
		ownerDR = nextOwnerDR

		body, plaintext, nextGuestDR, duplicate, err := guestTimeline.Receive(pipeline.InboundEnvelope{
			ConversationID: ownerCtx.ID,
			Envelope:       env,
			MessageID:      msgID,
			Ts:             time.Now(),
		}, ownerCtx.Token, guestDR)
		if err != nil {
			return fmt.Errorf("receive %d: %w", i, err)
		}
		guestDR = nextGuestDR
		ownerTimeline.MarkSent(msgID)
		logger.Printf("round %d: guest received msgType=%s duplicate=%v text=%q", i, body.MsgType, duplicate, plaintext)
	}

	logger.Printf("negotiating call keys for a follow-up call")
	callID := "call-1"
	media := callkeys.MediaOffer{Audio: true, Video: false}
	caps := callkeys.Capabilities{InsertableStreams: true}
	masterKey, env, err := callkeys.StartCall(ownerCtx.Token, callID, 0, media, caps, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	calleeMasterKey, err := callkeys.AcceptCall(acceptRes.Context.Token, env)
	if err != nil {
		return fmt.Errorf("accept call: %w", err)
	}
	if !bytes.Equal(masterKey, calleeMasterKey) {
		return fmt.Errorf("caller and callee derived different call master keys")
	}

	callerSet, err := callkeys.DeriveKeyset(masterKey, callkeys.RoleCaller)
	if err != nil {
		return fmt.Errorf("derive caller keyset: %w", err)
	}
	calleeSet, err := callkeys.DeriveKeyset(masterKey, callkeys.RoleCallee)
	if err != nil {
		return fmt.Errorf("derive callee keyset: %w", err)
	}

	callerAudio, err := framecipher.New(callerSet.AudioTx.Key, callerSet.AudioTx.NonceBase)
	if err != nil {
		return fmt.Errorf("build caller frame cipher: %w", err)
	}
	calleeAudio, err := framecipher.New(calleeSet.AudioRx.Key, calleeSet.AudioRx.NonceBase)
	if err != nil {
		return fmt.Errorf("build callee frame cipher: %w", err)
	}

	var gate framecipher.SenderGate
	if _, _, err := gate.Seal(callerAudio, []byte("20ms of opus")); err == nil {
		return fmt.Errorf("expected sender gate to block before receiver confirmation")
	}
	gate.ConfirmReceiver()
	frame, counter, err := gate.Seal(callerAudio, []byte("20ms of opus"))
	if err != nil {
		return fmt.Errorf("seal media frame: %w", err)
	}
	decoded, err := calleeAudio.Open(frame, counter)
	if err != nil {
		return fmt.Errorf("callee failed to open media frame: %w", err)
	}
	reg.RecordCallKeyRotation()
	logger.Printf("call established, decoded frame %d: %q", counter, decoded)

	logger.Printf("done")
	return nil
}

func deriveInviteMK(secret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte("sentry/invite-contact-mk"))
	mk := make([]byte, 32)
	if _, err := io.ReadFull(h, mk); err != nil {
		return nil, err
	}
	return mk, nil
}
