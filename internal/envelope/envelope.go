// Package envelope implements the MK-wrapped AEAD envelope format used
// for every piece of at-rest state (spec §3, §4.2): an info-tagged,
// HKDF-derived AES-256-GCM box around a JSON payload.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sentry-msgr/core/internal/b64"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

const (
	saltLen = 16
	ivLen   = 12
	mkLen   = 32
)

// InfoTag is an allow-listed HKDF info string. wrap/unwrap reject any
// tag not in this list (spec §3).
type InfoTag string

const (
	InfoBlob               InfoTag = "blob/v1"
	InfoMedia              InfoTag = "media/v1"
	InfoProfile            InfoTag = "profile/v1"
	InfoSettings           InfoTag = "settings/v1"
	InfoSnapshot           InfoTag = "snapshot/v1"
	InfoContactSecretsBkp  InfoTag = "contact-secrets/backup/v1"
	InfoDevKeys            InfoTag = "devkeys/v1"
	InfoContact            InfoTag = "contact/v1"
)

var allowListed = map[InfoTag]bool{
	InfoBlob:              true,
	InfoMedia:             true,
	InfoProfile:           true,
	InfoSettings:          true,
	InfoSnapshot:          true,
	InfoContactSecretsBkp: true,
	InfoDevKeys:           true,
	InfoContact:           true,
}

// Envelope is the wire/at-rest representation: {v, aead, info, salt_b64, iv_b64, ct_b64}.
type Envelope struct {
	V    int     `json:"v"`
	AEAD string  `json:"aead"`
	Info InfoTag `json:"info"`
	Salt string  `json:"salt_b64"`
	IV   string  `json:"iv_b64"`
	CT   string  `json:"ct_b64"`
}

// Wrap marshals plaintext to JSON and encrypts it under a key derived
// from mk with a freshly generated salt and IV, tagged with info. Any
// Go value is accepted; a []byte is marshaled like any other value
// (as a base64 JSON string), not passed through as raw JSON.
func Wrap(plaintext any, mk []byte, info InfoTag) (*Envelope, error) {
	if !allowListed[info] {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "unknown info tag", "info")
	}
	if len(mk) != mkLen {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "mk must be 32 bytes", "mk")
	}

	payload, err := json.Marshal(plaintext)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "marshal plaintext", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "generate salt", err)
	}
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "generate iv", err)
	}

	key, err := deriveKey(mk, salt, info)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "build aead", err)
	}

	ct := gcm.Seal(nil, iv, payload, nil)

	return &Envelope{
		V:    1,
		AEAD: "aes-256-gcm",
		Info: info,
		Salt: b64.Encode(salt),
		IV:   b64.Encode(iv),
		CT:   b64.Encode(ct),
	}, nil
}

// Unwrap decrypts env under mk and unmarshals the plaintext JSON into out.
// Any failure — unknown tag, malformed fields, AEAD tag mismatch —
// surfaces as ENVELOPE_DECRYPT_FAILED with no retry.
func Unwrap(env *Envelope, mk []byte, out any) error {
	if env == nil {
		return sentryerr.New(sentryerr.CodeEnvelopeDecryptFailed, "nil envelope")
	}
	if env.V != 1 || env.AEAD != "aes-256-gcm" {
		return sentryerr.WithField(sentryerr.CodeEnvelopeDecryptFailed, "unsupported envelope version/aead", "aead")
	}
	if !allowListed[env.Info] {
		return sentryerr.WithField(sentryerr.CodeEnvelopeDecryptFailed, "unknown info tag", "info")
	}
	if env.Salt == "" || env.IV == "" || env.CT == "" {
		return sentryerr.WithField(sentryerr.CodeEnvelopeDecryptFailed, "empty envelope field", "salt_b64/iv_b64/ct_b64")
	}

	salt, err := b64.MustDecodeFixed(env.Salt, saltLen)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "decode salt", err)
	}
	iv, err := b64.MustDecodeFixed(env.IV, ivLen)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "decode iv", err)
	}
	ct, err := b64.Decode(env.CT)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "decode ciphertext", err)
	}

	key, err := deriveKey(mk, salt, env.Info)
	if err != nil {
		return err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "build aead", err)
	}

	plaintext, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "aead open", err)
	}

	if out != nil {
		if err := json.Unmarshal(plaintext, out); err != nil {
			return sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "unmarshal plaintext", err)
		}
	}
	return nil
}

func deriveKey(mk, salt []byte, info InfoTag) ([]byte, error) {
	h := hkdf.New(sha256.New, mk, salt, []byte(info))
	key := make([]byte, mkLen)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeEnvelopeDecryptFailed, "hkdf derive", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
