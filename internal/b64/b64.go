// Package b64 provides strict byte/base64 conversions shared by every
// wire and at-rest format in the core. Unsupported alphabets or
// padding are rejected rather than silently tolerated.
package b64

import (
	"encoding/base64"

	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Encode returns the standard base64 (with padding) encoding of b.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// EncodeURL returns the base64url (with padding) encoding of b.
func EncodeURL(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// EncodeURLUnpadded returns the base64url (no padding) encoding of b,
// used for invite secrets and other tokens that don't need a
// bit-exact padded length.
func EncodeURLUnpadded(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode accepts the alphabet `[0-9A-Za-z+/=_-]` (spec §6): it tries
// standard, URL, and their unpadded variants in turn, failing only
// when none of them parse.
func Decode(s string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, d := range decoders {
		if b, err := d.DecodeString(s); err == nil {
			return b, nil
		} else {
			lastErr = err
		}
	}
	return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "unsupported base64 input", lastErr)
}

// MustDecodeFixed decodes s and requires the result to be exactly n
// bytes, as required by every fixed-size field (salts, IVs, keys).
func MustDecodeFixed(s string, n int) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, sentryerr.New(sentryerr.CodeBadEnvelope, "unexpected decoded length")
	}
	return b, nil
}
