package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/sentry-msgr/core/internal/conversation"
	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/ratchet"
)

func bootstrapPair(t *testing.T) (*ratchet.State, *ratchet.State) {
	t.Helper()
	initiatorDevice, _, err := prekeys.GenerateInitialBundle(1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	guestDevice, guestBundle, err := prekeys.GenerateInitialBundle(1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	initState, opkID, err := ratchet.InitiatorBootstrap(initiatorDevice, guestBundle)
	if err != nil {
		t.Fatalf("initiator bootstrap failed: %v", err)
	}

	h, ct, sendState, err := ratchet.Send(initState, []byte("hello"))
	if err != nil {
		t.Fatalf("initiator first send failed: %v", err)
	}
	_ = ct

	var consumedPriv []byte
	if opkID != 0 {
		consumedPriv = guestDevice.ConsumeOPK(opkID)
	}
	guestState, err := ratchet.GuestBootstrap(guestDevice, consumedPriv, initiatorDevice.IdentityKeyPub, h)
	if err != nil {
		t.Fatalf("guest bootstrap failed: %v", err)
	}

	return sendState, guestState
}

func TestSendTextAndReceiveRoundTrip(t *testing.T) {
	initState, guestState := bootstrapPair(t)

	token := []byte("conversation-token-32-bytes-long")
	convID := conversation.ConversationID(token)

	tl := NewTimeline(100)
	pre := ComposerPrecondition{
		PeerKey:            "peer-1",
		ConversationToken:  token,
		ConversationID:     convID,
		SubscriptionActive: true,
		SecureStatusReady:  true,
	}

	msgID, env, nextInit, err := tl.SendText(pre, initState, []byte(`{"text":"hi there"}`))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if tl.Entry(msgID).Status != StatusSending {
		t.Fatalf("expected sending status, got %v", tl.Entry(msgID).Status)
	}

	rtl := NewTimeline(100)
	in := InboundEnvelope{ConversationID: convID, Envelope: env, MessageID: msgID, Ts: time.Now()}
	body, plaintext, nextGuest, dup, err := rtl.Receive(in, token, guestState)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if dup {
		t.Fatalf("first receive must not be a duplicate")
	}
	if body.MsgType != MsgText {
		t.Fatalf("expected text msgType, got %v", body.MsgType)
	}
	if !bytes.Equal(plaintext, []byte(`{"text":"hi there"}`)) {
		t.Fatalf("plaintext mismatch: %s", plaintext)
	}
	_ = nextInit
	_ = nextGuest

	tl.MarkSent(msgID)
	if tl.Entry(msgID).Status != StatusSent {
		t.Fatalf("expected sent status after ack")
	}

	_, _, _, dup2, err := rtl.Receive(in, token, nextGuest)
	if err != nil {
		t.Fatalf("unexpected error on duplicate receive: %v", err)
	}
	if !dup2 {
		t.Fatalf("expected duplicate on re-delivery of the same messageId")
	}
}

func TestSendRejectsIncompletePrecondition(t *testing.T) {
	tl := NewTimeline(10)
	_, _, _, err := tl.SendText(ComposerPrecondition{}, &ratchet.State{}, []byte("x"))
	if err == nil {
		t.Fatalf("expected precondition error")
	}
}

func TestMarkCounterTooLowReplaced(t *testing.T) {
	tl := NewTimeline(10)
	tl.entries["orig-1"] = &Entry{MessageID: "orig-1", Status: StatusSending}

	replacement := tl.MarkCounterTooLowReplaced("orig-1")
	if tl.Entry("orig-1").Status != StatusFailedCounterTooLowRepl {
		t.Fatalf("expected original marked failed(COUNTER_TOO_LOW_REPLACED)")
	}
	repl := tl.Entry(replacement)
	if repl == nil || repl.ReplacesMessageID != "orig-1" || repl.Status != StatusSending {
		t.Fatalf("expected replacement entry in sending state, got %+v", repl)
	}
}

func TestReceiveLateMessageDecryptsFromSkippedCache(t *testing.T) {
	initState, guestState := bootstrapPair(t)
	token := []byte("conversation-token-32-bytes-long")
	convID := conversation.ConversationID(token)

	tl := NewTimeline(10)
	pre := ComposerPrecondition{PeerKey: "p", ConversationToken: token, ConversationID: convID, SubscriptionActive: true, SecureStatusReady: true}

	_, env1, next1, err := tl.SendText(pre, initState, []byte("one"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, env2, _, err := tl.SendText(pre, next1, []byte("two"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rtl := NewTimeline(10)
	_, _, nextGuest, _, err := rtl.Receive(InboundEnvelope{ConversationID: convID, Envelope: env2, MessageID: "m2"}, token, guestState)
	if err != nil {
		t.Fatalf("unexpected error receiving ahead: %v", err)
	}

	// The skipped counter (0) was cached by the jump to counter 1, so
	// the late-arriving first message still decrypts successfully.
	_, _, _, _, err = rtl.Receive(InboundEnvelope{ConversationID: convID, Envelope: env1, MessageID: "m1-replayed-late"}, token, nextGuest)
	if err != nil {
		t.Fatalf("expected skipped-cache hit to succeed for the earlier counter, got %v", err)
	}
}
