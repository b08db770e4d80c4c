// Package callkeys derives the per-call media key hierarchy (spec
// §4.10): a call master key bound to the conversation token, callId,
// and epoch, proved to the callee via an HMAC, and four directional
// sub-keys (audio/video, tx/rx) per role.
package callkeys

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/sentry-msgr/core/internal/b64"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Role identifies which side of the call derived a given sub-key set.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

func (r Role) opposite() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// MinRotationInterval bounds how often an epoch may rotate implicitly
// (spec §4.10: "at most every 10 min or on explicit request").
const MinRotationInterval = 10 * time.Minute

const (
	saltLen      = 32
	masterKeyLen = 64
)

var zeroSalt = make([]byte, saltLen)

// EnvelopeType and EnvelopeVersion are the bit-exact discriminator
// values for the call-key-envelope signal (spec §6, §4.10).
const (
	EnvelopeType    = "call-key-envelope"
	EnvelopeVersion = 1
)

// MediaOffer describes which media kinds a call invite carries.
type MediaOffer struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Capabilities carries the caller/callee's negotiated call features.
// InsertableStreams gates whether a missing directional key fails the
// call outright or only surfaces E2E_SKIPPED (spec §4.11).
type Capabilities struct {
	InsertableStreams bool `json:"insertableStreams"`
}

// Envelope is the call-key-envelope signal payload, sent as part of
// the call-invite signal (spec §6 `startCall → {callId, envelope}`,
// bit-exact: {type, version, callId, epoch, cmkSalt, cmkProof, media,
// capabilities, createdAt}).
type Envelope struct {
	Type         string       `json:"type"`
	Version      int          `json:"version"`
	CallID       string       `json:"callId"`
	Epoch        int          `json:"epoch"`
	CMKSalt      string       `json:"cmkSalt"`
	CMKProof     string       `json:"cmkProof"`
	Media        MediaOffer   `json:"media"`
	Capabilities Capabilities `json:"capabilities"`
	CreatedAt    string       `json:"createdAt"`
}

// DeriveMasterKey computes masterKey and cmkProof for a fresh epoch
// (spec §4.10 "On outgoing call").
func DeriveMasterKey(conversationToken, cmkSalt []byte, callID string, epoch int) (masterKey, cmkProof []byte, err error) {
	if len(cmkSalt) != saltLen {
		return nil, nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "cmkSalt must be 32 bytes", "cmkSalt")
	}
	info := "call-master-key:" + callID + ":" + strconv.Itoa(epoch)
	h := hkdf.New(sha256.New, conversationToken, cmkSalt, []byte(info))
	mk := make([]byte, masterKeyLen)
	if _, err := io.ReadFull(h, mk); err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeCallFailed, "derive call master key", err)
	}
	mac := hmac.New(sha256.New, mk)
	mac.Write([]byte(callID + ":" + strconv.Itoa(epoch)))
	return mk, mac.Sum(nil), nil
}

// VerifyProof recomputes cmkProof from masterKey and compares it in
// constant time against the envelope's proof (spec §4.10 "callee
// repeats the derivation and rejects on proof mismatch").
func VerifyProof(masterKey []byte, callID string, epoch int, proof []byte) bool {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(callID + ":" + strconv.Itoa(epoch)))
	return hmac.Equal(mac.Sum(nil), proof)
}

// BuildEnvelope fills the bit-exact call-key-envelope struct from
// already-derived cmkSalt/cmkProof (spec §6, §4.10).
func BuildEnvelope(callID string, epoch int, cmkSalt, cmkProof []byte, media MediaOffer, caps Capabilities, createdAt string) *Envelope {
	return &Envelope{
		Type:         EnvelopeType,
		Version:      EnvelopeVersion,
		CallID:       callID,
		Epoch:        epoch,
		CMKSalt:      b64.EncodeURL(cmkSalt),
		CMKProof:     b64.EncodeURL(cmkProof),
		Media:        media,
		Capabilities: caps,
		CreatedAt:    createdAt,
	}
}

// StartCall is the caller-side entry point for an outgoing call (spec
// §4.10 "On outgoing call"): it generates a fresh 32-byte cmkSalt,
// derives the master key and proof, and returns both the master key
// (for immediate keyset derivation) and the envelope to send as part
// of the call-invite signal.
func StartCall(conversationToken []byte, callID string, epoch int, media MediaOffer, caps Capabilities, createdAt string) (masterKey []byte, env *Envelope, err error) {
	cmkSalt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, cmkSalt); err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeCallFailed, "generate cmkSalt", err)
	}
	masterKey, cmkProof, err := DeriveMasterKey(conversationToken, cmkSalt, callID, epoch)
	if err != nil {
		return nil, nil, err
	}
	return masterKey, BuildEnvelope(callID, epoch, cmkSalt, cmkProof, media, caps, createdAt), nil
}

// AcceptCall is the callee-side entry point (spec §4.10 "On incoming
// call: callee repeats the derivation and rejects on proof
// mismatch"). It re-derives the master key from the envelope's own
// cmkSalt and verifies the envelope's own cmkProof against it — never
// a freshly-recomputed proof, which would verify trivially.
func AcceptCall(conversationToken []byte, env *Envelope) (masterKey []byte, err error) {
	if env == nil || env.Type != EnvelopeType {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "unsupported call-key-envelope type", "type")
	}
	if env.Version != EnvelopeVersion {
		return nil, sentryerr.WithField(sentryerr.CodeBadEnvelope, "unsupported call-key-envelope version", "version")
	}
	cmkSalt, err := b64.MustDecodeFixed(env.CMKSalt, saltLen)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode cmkSalt", err)
	}
	cmkProof, err := b64.Decode(env.CMKProof)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "decode cmkProof", err)
	}

	masterKey, _, err = DeriveMasterKey(conversationToken, cmkSalt, env.CallID, env.Epoch)
	if err != nil {
		return nil, err
	}
	if !VerifyProof(masterKey, env.CallID, env.Epoch, cmkProof) {
		return nil, sentryerr.New(sentryerr.CodeCallFailed, "call key proof mismatch")
	}
	return masterKey, nil
}

// DirectionalKeys holds one tx or rx key/nonce-base pair.
type DirectionalKeys struct {
	Key       []byte
	NonceBase []byte
}

// Keyset is the full set of directional sub-keys for one call side.
type Keyset struct {
	AudioTx DirectionalKeys
	AudioRx DirectionalKeys
	VideoTx DirectionalKeys
	VideoRx DirectionalKeys
}

// DeriveKeyset expands masterKey into the four directional sub-keys
// for role (spec §4.10: "Caller's audioTx label === callee's audioRx
// label — both sides use the same four labels with role swapped").
func DeriveKeyset(masterKey []byte, role Role) (*Keyset, error) {
	audioTx, err := derivePair(masterKey, "call-audio-tx:"+string(role), "call-audio-nonce:"+string(role))
	if err != nil {
		return nil, err
	}
	audioRx, err := derivePair(masterKey, "call-audio-tx:"+string(role.opposite()), "call-audio-nonce:"+string(role.opposite()))
	if err != nil {
		return nil, err
	}
	videoTx, err := derivePair(masterKey, "call-video-tx:"+string(role), "call-video-nonce:"+string(role))
	if err != nil {
		return nil, err
	}
	videoRx, err := derivePair(masterKey, "call-video-tx:"+string(role.opposite()), "call-video-nonce:"+string(role.opposite()))
	if err != nil {
		return nil, err
	}
	return &Keyset{AudioTx: audioTx, AudioRx: audioRx, VideoTx: videoTx, VideoRx: videoRx}, nil
}

func derivePair(masterKey []byte, keyInfo, nonceInfo string) (DirectionalKeys, error) {
	key, err := expand(masterKey, keyInfo, 32)
	if err != nil {
		return DirectionalKeys{}, err
	}
	nonceBase, err := expand(masterKey, nonceInfo, 12)
	if err != nil {
		return DirectionalKeys{}, err
	}
	return DirectionalKeys{Key: key, NonceBase: nonceBase}, nil
}

func expand(masterKey []byte, info string, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, masterKey, zeroSalt, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeCallFailed, "derive call sub-key", err)
	}
	return out, nil
}

// EpochStatus tracks the ready/rotating/ready status transition on
// rotation (spec §4.10).
type EpochStatus string

const (
	StatusReady    EpochStatus = "ready"
	StatusRotating EpochStatus = "rotating"
	StatusKeyPending EpochStatus = "key_pending"
)

// Rotation tracks a call's current epoch and enforces the minimum
// rotation interval unless a rotation is explicitly requested.
type Rotation struct {
	mu         sync.Mutex
	epoch      int
	lastRotate time.Time
	status     EpochStatus
}

// NewRotation starts a call at epoch 0, status key_pending until the
// first envelope is derived.
func NewRotation() *Rotation {
	return &Rotation{status: StatusKeyPending}
}

// Ready marks the current epoch as usable.
func (r *Rotation) Ready(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusReady
	r.lastRotate = at
}

// RequestRotation advances the epoch if explicit is true or the
// minimum rotation interval has elapsed since the last rotation;
// returns the new epoch and whether a rotation actually happened.
func (r *Rotation) RequestRotation(explicit bool, now time.Time) (epoch int, rotated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !explicit && now.Sub(r.lastRotate) < MinRotationInterval {
		return r.epoch, false
	}
	r.status = StatusRotating
	r.epoch++
	r.lastRotate = now
	return r.epoch, true
}

// Status returns the rotation's current status.
func (r *Rotation) Status() EpochStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Epoch returns the rotation's current epoch.
func (r *Rotation) Epoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}
