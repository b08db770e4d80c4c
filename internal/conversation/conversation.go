// Package conversation derives the conversation context from an
// invite secret (spec §4.6): the conversationToken, conversationId,
// and access fingerprint, plus the conversationToken-keyed wire
// envelope used to carry Double Ratchet messages.
package conversation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/sentry-msgr/core/internal/b64"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

const (
	tokenLen = 32
	ivLen    = 12
)

// Context holds the derived, mostly-not-persisted conversation values
// for one (invite secret, deviceId) pair.
type Context struct {
	Token             []byte // conversationToken, 32 bytes
	ID                string // conversationId, base64url(SHA256(token))[:44]
	AccessFingerprint []byte // HMAC-SHA256(token, uppercase(accountDigest))
}

// Derive computes the conversation context for inviteSecret and
// deviceID. deviceID must be non-empty: it binds the token to the
// requesting device so the same invite secret shared across devices
// never collides on a single conversationToken.
func Derive(inviteSecret []byte, deviceID string) (*Context, error) {
	if deviceID == "" {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "deviceId required to derive conversation token", "deviceId")
	}
	info := "sentry/conv-token/" + deviceID
	salt := make([]byte, 32)

	h := hkdf.New(sha256.New, inviteSecret, salt, []byte(info))
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(h, token); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "derive conversation token", err)
	}

	return &Context{Token: token, ID: ConversationID(token)}, nil
}

// ConversationID computes base64url(SHA256(token))[:44] — the
// truncated digest identifying the conversation (spec §3, invariant 3
// of §8). The [:44] truncation only makes sense on the padded
// encoding (a 32-byte digest is exactly 44 chars padded, 43 unpadded),
// so this uses the padded base64url alphabet, not the unpadded one
// used elsewhere for tokens and secrets.
func ConversationID(token []byte) string {
	sum := sha256.Sum256(token)
	id := b64.EncodeURL(sum[:])
	if len(id) > 44 {
		id = id[:44]
	}
	return id
}

// Fingerprint computes HMAC-SHA256(key=token, data=uppercase(accountDigest)),
// used as a low-stakes liveness check and as the basis of a
// human-readable safety-number-style verification string.
func Fingerprint(token []byte, accountDigest string) []byte {
	mac := hmac.New(sha256.New, token)
	mac.Write([]byte(strings.ToUpper(accountDigest)))
	return mac.Sum(nil)
}

// FormatFingerprint renders a fingerprint as 12 groups of 5 digits for
// display and manual comparison, grouped the way a safety-number
// verification string is normally laid out for side-by-side reading.
func FormatFingerprint(fp []byte) string {
	digits := make([]byte, 0, 60)
	for i := 0; i < 12 && len(digits) < 60; i++ {
		offset := (i * 5) / 2
		if offset+2 >= len(fp) {
			break
		}
		var value uint32
		if i%2 == 0 {
			value = uint32(fp[offset])<<12 | uint32(fp[offset+1])<<4 | uint32(fp[offset+2])>>4
		} else {
			value = uint32(fp[offset]&0x0F)<<16 | uint32(fp[offset+1])<<8 | uint32(fp[offset+2])
		}
		value %= 100000
		digits = append(digits,
			'0'+byte((value/10000)%10),
			'0'+byte((value/1000)%10),
			'0'+byte((value/100)%10),
			'0'+byte((value/10)%10),
			'0'+byte(value%10),
		)
	}
	groups := make([]string, 0, len(digits)/5)
	for i := 0; i+5 <= len(digits); i += 5 {
		groups = append(groups, string(digits[i:i+5]))
	}
	return strings.Join(groups, " ")
}

// Envelope is the wire format carrying Double Ratchet traffic
// (spec §6, bit-exact): {v, iv_b64, payload_b64}.
type Envelope struct {
	V       int    `json:"v"`
	IV      string `json:"iv_b64"`
	Payload string `json:"payload_b64"`
}

// Wrap encrypts plaintext (already-serialized DR message JSON) with
// raw AES-256-GCM keyed directly by the conversation token — no HKDF,
// no salt (spec §4.6). A fresh random 12-byte IV is generated every
// call; callers MUST NOT reuse IVs, since (key, iv) uniqueness is the
// only integrity defence here.
func Wrap(token []byte, plaintext any) (*Envelope, error) {
	if len(token) != tokenLen {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "conversation token must be 32 bytes", "token")
	}
	payload, err := json.Marshal(plaintext)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "marshal plaintext", err)
	}

	gcm, err := gcmFor(token)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "generate iv", err)
	}
	ct := gcm.Seal(nil, iv, payload, nil)

	return &Envelope{
		V:       1,
		IV:      b64.EncodeURL(iv),
		Payload: b64.EncodeURL(ct),
	}, nil
}

// Unwrap decrypts env under token and unmarshals the plaintext into out.
func Unwrap(token []byte, env *Envelope, out any) error {
	if len(token) != tokenLen {
		return sentryerr.WithField(sentryerr.CodeBadEnvelope, "conversation token must be 32 bytes", "token")
	}
	if env == nil || env.V != 1 {
		return sentryerr.WithField(sentryerr.CodeBadEnvelope, "unsupported envelope version", "v")
	}
	iv, err := b64.MustDecodeFixed(env.IV, ivLen)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode iv", err)
	}
	ct, err := b64.Decode(env.Payload)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode payload", err)
	}

	gcm, err := gcmFor(token)
	if err != nil {
		return err
	}
	plaintext, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeDecryptFailed, "aead open", err)
	}
	if out != nil {
		if err := json.Unmarshal(plaintext, out); err != nil {
			return sentryerr.Wrap(sentryerr.CodeDecryptFailed, "unmarshal plaintext", err)
		}
	}
	return nil
}

func gcmFor(token []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(token)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "build cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "build aead", err)
	}
	return gcm, nil
}
