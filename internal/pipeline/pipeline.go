// Package pipeline implements the outbound/inbound message pipeline
// (spec §4.8): composing, sending, and receiving DR-ratcheted messages
// over the conversation envelope, with an idempotent local timeline
// and the counter-too-low replacement path.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentry-msgr/core/internal/conversation"
	"github.com/sentry-msgr/core/internal/ratchet"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// MsgType classifies an inbound/outbound message body (spec §4.8).
type MsgType string

const (
	MsgText        MsgType = "text"
	MsgMedia       MsgType = "media"
	MsgContactShare MsgType = "contact-share"
	MsgCallLog     MsgType = "call-log"
	MsgControl     MsgType = "control"
)

// Status is the lifecycle of one outbound timeline entry.
type Status string

const (
	StatusSending                Status = "sending"
	StatusSent                   Status = "sent"
	StatusFailed                 Status = "failed"
	StatusFailedCounterTooLowRepl Status = "failed(COUNTER_TOO_LOW_REPLACED)"
)

// Body is the DR plaintext payload carried inside the conversation
// envelope: the ratchet header plus the encrypted message body.
type Body struct {
	MsgType   MsgType `json:"msgType"`
	HeaderB64 string  `json:"header"`
	CipherB64 string  `json:"cipher"`
	ObjectKey string  `json:"objectKey,omitempty"` // outbound media: opaque object key
	UnwrapKey string  `json:"unwrapKey,omitempty"` // outbound media: b64 AEAD unwrap key for the object
}

// Entry is one row of the local optimistic timeline.
type Entry struct {
	MessageID        string
	ConversationID    string
	Status           Status
	FailureReason    sentryerr.Code
	ReplacesMessageID string
}

// Timeline is the idempotent, messageId-keyed local send/receive log
// (spec §4.8 "Updates are idempotent (keyed by messageId)").
type Timeline struct {
	entries        map[string]*Entry
	sendOrder      []string
	processed      map[string]bool // keyed by conversationId+"::"+messageId, eviction-bounded
	processedOrder []string
	maxProcessed   int
}

// NewTimeline returns a timeline whose processed-message de-dup set
// evicts oldest entries past maxProcessed (spec §4.8 "eviction-bounded").
func NewTimeline(maxProcessed int) *Timeline {
	if maxProcessed <= 0 {
		maxProcessed = 10000
	}
	return &Timeline{
		entries:      make(map[string]*Entry),
		processed:    make(map[string]bool),
		maxProcessed: maxProcessed,
	}
}

// ComposerPrecondition is the set of facts the outbound path requires
// before it will attempt a send (spec §4.8 "validate composer
// precondition").
type ComposerPrecondition struct {
	PeerKey            string
	ConversationToken  []byte
	ConversationID     string
	SubscriptionActive bool
	SecureStatusReady  bool
}

func (p ComposerPrecondition) validate() error {
	if p.PeerKey == "" || len(p.ConversationToken) == 0 || p.ConversationID == "" {
		return sentryerr.New(sentryerr.CodeBadEnvelope, "composer precondition missing peerKey/conversationToken/conversationId")
	}
	if !p.SubscriptionActive {
		return sentryerr.New(sentryerr.CodeBadEnvelope, "subscription not active")
	}
	if !p.SecureStatusReady {
		return sentryerr.New(sentryerr.CodeRatchetInvariant, "secure-conversation status not ready")
	}
	return nil
}

// SendText runs the full outbound text path: precondition check, DR
// send, conversation-envelope wrap, optimistic timeline append (spec
// §4.8 "Outbound text").
func (t *Timeline) SendText(pre ComposerPrecondition, dr *ratchet.State, plaintext []byte) (messageID string, env *conversation.Envelope, next *ratchet.State, err error) {
	return t.sendBody(pre, dr, MsgText, plaintext, "", "")
}

// SendMedia is identical to SendText except the DR plaintext body
// references an opaque object key and an unwrap key for an
// out-of-band AEAD-encrypted object (spec §4.8 "Outbound media").
// Progress callbacks for the upload are observational only and have
// no effect here.
func (t *Timeline) SendMedia(pre ComposerPrecondition, dr *ratchet.State, objectKey, unwrapKeyB64 string) (messageID string, env *conversation.Envelope, next *ratchet.State, err error) {
	return t.sendBody(pre, dr, MsgMedia, nil, objectKey, unwrapKeyB64)
}

func (t *Timeline) sendBody(pre ComposerPrecondition, dr *ratchet.State, msgType MsgType, plaintext []byte, objectKey, unwrapKeyB64 string) (string, *conversation.Envelope, *ratchet.State, error) {
	if err := pre.validate(); err != nil {
		return "", nil, nil, err
	}

	messageID := uuid.NewString()

	header, ciphertext, next, err := ratchet.Send(dr, plaintext)
	if err != nil {
		t.markFailed(messageID, pre.ConversationID, err)
		return "", nil, nil, err
	}
	headerB64, err := header.Encode()
	if err != nil {
		t.markFailed(messageID, pre.ConversationID, err)
		return "", nil, nil, err
	}

	body := Body{
		MsgType:   msgType,
		HeaderB64: headerB64,
		CipherB64: ratchet.EncodeBody(ciphertext),
		ObjectKey: objectKey,
		UnwrapKey: unwrapKeyB64,
	}

	env, err := conversation.Wrap(pre.ConversationToken, body)
	if err != nil {
		t.markFailed(messageID, pre.ConversationID, err)
		return "", nil, nil, err
	}

	t.entries[messageID] = &Entry{MessageID: messageID, ConversationID: pre.ConversationID, Status: StatusSending}
	t.sendOrder = append(t.sendOrder, messageID)

	return messageID, env, next, nil
}

// MarkSent implements "on server ack, mark sent".
func (t *Timeline) MarkSent(messageID string) {
	if e, ok := t.entries[messageID]; ok {
		e.Status = StatusSent
	}
}

// MarkCounterTooLowReplaced implements the explicit replacement path
// (spec §4.7 "Send failure on COUNTER_TOO_LOW"): the original entry is
// marked failed, and a fresh messageId begins the replacement.
func (t *Timeline) MarkCounterTooLowReplaced(originalMessageID string) (replacementID string) {
	if e, ok := t.entries[originalMessageID]; ok {
		e.Status = StatusFailedCounterTooLowRepl
	}
	replacementID = uuid.NewString()
	t.entries[replacementID] = &Entry{MessageID: replacementID, ReplacesMessageID: originalMessageID, Status: StatusSending}
	t.sendOrder = append(t.sendOrder, replacementID)
	return replacementID
}

func (t *Timeline) markFailed(messageID, conversationID string, err error) {
	code := sentryerr.Code("")
	if se, ok := err.(*sentryerr.Error); ok {
		code = se.Code
	}
	t.entries[messageID] = &Entry{MessageID: messageID, ConversationID: conversationID, Status: StatusFailed, FailureReason: code}
	t.sendOrder = append(t.sendOrder, messageID)
}

// Entry returns the stored entry for messageID, or nil.
func (t *Timeline) Entry(messageID string) *Entry {
	return t.entries[messageID]
}

// InboundEnvelope is what the transport hands the pipeline for one
// inbound message (spec §4.8 "Inbound").
type InboundEnvelope struct {
	ConversationID string
	Envelope       *conversation.Envelope
	Ts             time.Time
	MessageID      string
}

// Receive decrypts the outer conversation envelope, runs the DR
// receive step, de-dups against the processed-message set, and
// classifies the result by msgType.
func (t *Timeline) Receive(in InboundEnvelope, conversationToken []byte, dr *ratchet.State) (body *Body, plaintext []byte, next *ratchet.State, duplicate bool, err error) {
	key := in.ConversationID + "::" + in.MessageID
	if t.processed[key] {
		return nil, nil, nil, true, nil
	}

	var b Body
	if err := conversation.Unwrap(conversationToken, in.Envelope, &b); err != nil {
		return nil, nil, nil, false, err
	}

	header, err := ratchet.DecodeHeader(b.HeaderB64)
	if err != nil {
		return nil, nil, nil, false, err
	}
	ciphertext, err := ratchet.DecodeBody(b.CipherB64)
	if err != nil {
		return nil, nil, nil, false, err
	}

	pt, nextState, err := ratchet.Receive(dr, header, ciphertext)
	if err != nil {
		return nil, nil, nil, false, err
	}

	t.markProcessed(key)
	return &b, pt, nextState, false, nil
}

func (t *Timeline) markProcessed(key string) {
	if t.processed[key] {
		return
	}
	t.processed[key] = true
	t.processedOrder = append(t.processedOrder, key)
	if len(t.processed) > t.maxProcessed {
		t.evictOldestProcessed()
	}
}

func (t *Timeline) evictOldestProcessed() {
	for len(t.processedOrder) > 0 {
		oldest := t.processedOrder[0]
		t.processedOrder = t.processedOrder[1:]
		if t.processed[oldest] {
			delete(t.processed, oldest)
			return
		}
	}
}
