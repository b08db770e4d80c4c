// Package framecipher encrypts and decrypts individual encoded media
// frames for a call (spec §4.11): AES-256-GCM keyed by a directional
// call sub-key, with a per-direction monotonic frame counter folded
// into the nonce instead of a random IV.
package framecipher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync/atomic"

	"github.com/sentry-msgr/core/internal/callkeys"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Cipher encrypts or decrypts the frames of one leg of a call's media
// path (e.g. audio-tx).
type Cipher struct {
	gcm       cipher.AEAD
	nonceBase []byte
	counter   uint64
}

// New builds a frame cipher for one directional sub-key. key and
// nonceBase come from callkeys.DirectionalKeys.
func New(key, nonceBase []byte) (*Cipher, error) {
	if len(nonceBase) != 12 {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "nonce base must be 12 bytes", "nonceBase")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeCallFailed, "build frame cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeCallFailed, "build frame aead", err)
	}
	return &Cipher{gcm: gcm, nonceBase: append([]byte(nil), nonceBase...)}, nil
}

// Seal encrypts one outbound frame, incrementing the sender's
// counter. The returned counter is the one used for this frame — the
// caller must transmit it alongside the ciphertext if the transport
// doesn't already guarantee in-order, gapless delivery.
func (c *Cipher) Seal(plaintext []byte) (ciphertext []byte, counter uint64) {
	n := atomic.AddUint64(&c.counter, 1) - 1
	iv := c.ivFor(n)
	return c.gcm.Seal(nil, iv, plaintext, nil), n
}

// Open decrypts one inbound frame at the given counter. Per spec
// §4.11, a decrypt failure means the caller must drop the frame and
// must NOT advance any counter — Open never mutates c's state, so the
// caller is free to retry the next frame regardless of this one's
// outcome.
func (c *Cipher) Open(ciphertext []byte, counter uint64) ([]byte, error) {
	iv := c.ivFor(counter)
	pt, err := c.gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeDecryptFailed, "open media frame", err)
	}
	return pt, nil
}

func (c *Cipher) ivFor(counter uint64) []byte {
	var counterBytes [12]byte
	binary.BigEndian.PutUint32(counterBytes[8:], uint32(counter))
	iv := make([]byte, 12)
	for i := range iv {
		iv[i] = c.nonceBase[i] ^ counterBytes[i]
	}
	return iv
}

// CallStatus mirrors the call-level outcome when a directional key is
// absent (spec §4.11 "On key absence").
type CallStatus string

const (
	CallStatusSkipped CallStatus = "skipped"
	CallStatusFailed  CallStatus = "failed"
)

// StatusOnMissingKey reports whether the call should continue
// unencrypted (skipped) or fail outright, based on whether the peer
// advertised insertable-streams support (spec §4.11 "On key absence"),
// and returns the diagnostic error carrying the matching code: the
// peer-lacks-support case surfaces as CodeE2EESkipped (spec §4.11,
// §7 "Capability mismatch ... surfaces to UI as E2E_SKIPPED"), the
// peer-has-support case as CodeCallFailed.
func StatusOnMissingKey(peerCaps callkeys.Capabilities) (CallStatus, error) {
	if peerCaps.InsertableStreams {
		return CallStatusFailed, sentryerr.New(sentryerr.CodeCallFailed, "directional call key missing despite peer insertable-streams support")
	}
	return CallStatusSkipped, sentryerr.New(sentryerr.CodeE2EESkipped, "directional call key missing: peer lacks insertable-streams support, media proceeds unencrypted")
}

// SenderGate enforces that a call's outbound encoded-stream transform
// is never installed before the receiver side has confirmed its own
// transform attached successfully (spec §9 Open Question ii): unlike
// an ordinary AEAD key swap, WebRTC-style encoded-streams transforms
// cannot be attached late, so a sender that encrypts before the
// receiver is ready produces frames the receiver can never decode.
type SenderGate struct {
	receiverConfirmed bool
}

// ConfirmReceiver records that the receiver-side transform attached
// successfully. Idempotent.
func (g *SenderGate) ConfirmReceiver() {
	g.receiverConfirmed = true
}

// Seal encrypts plaintext via cipher, refusing if the receiver
// transform has not yet been confirmed.
func (g *SenderGate) Seal(cipher *Cipher, plaintext []byte) (ciphertext []byte, counter uint64, err error) {
	if !g.receiverConfirmed {
		return nil, 0, sentryerr.New(sentryerr.CodeCallFailed, "sender transform blocked: receiver transform not yet confirmed")
	}
	ct, n := cipher.Seal(plaintext)
	return ct, n, nil
}
