package ratchet

import (
	"encoding/json"

	"github.com/sentry-msgr/core/internal/b64"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Header accompanies every ratcheted message (spec §4.7 step 1).
type Header struct {
	RatchetPub  []byte `json:"ratchetPub"`
	Counter     uint32 `json:"counter"`
	PrevCounter uint32 `json:"prevCounter"`
}

type wireHeader struct {
	RatchetPub  string `json:"ratchetPub"`
	Counter     uint32 `json:"counter"`
	PrevCounter uint32 `json:"prevCounter"`
}

// Encode serializes the header as JSON and base64url-encodes it,
// matching spec §4.7 step 1 ("serialized as JSON, base64url").
func (h Header) Encode() (string, error) {
	w := wireHeader{RatchetPub: b64.EncodeURL(h.RatchetPub), Counter: h.Counter, PrevCounter: h.PrevCounter}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", sentryerr.Wrap(sentryerr.CodeBadEnvelope, "marshal header", err)
	}
	return b64.EncodeURL(raw), nil
}

// DecodeHeader is the inverse of Encode.
func DecodeHeader(s string) (Header, error) {
	raw, err := b64.Decode(s)
	if err != nil {
		return Header{}, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode header", err)
	}
	var w wireHeader
	if err := json.Unmarshal(raw, &w); err != nil {
		return Header{}, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "unmarshal header", err)
	}
	pub, err := b64.Decode(w.RatchetPub)
	if err != nil {
		return Header{}, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode header ratchetPub", err)
	}
	return Header{RatchetPub: pub, Counter: w.Counter, PrevCounter: w.PrevCounter}, nil
}
