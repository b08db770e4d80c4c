package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/hkdf"
	"io"
)

// Role records which side of the X3DH handshake a peer played. The
// "ready to send" gate (Ready) checks X3DHDone, not Role.
type Role int

const (
	RoleInitiator Role = iota
	RoleGuest
)

// MaxSkip bounds the skipped-message cache per peer (spec §3).
const MaxSkip = 1000

type skippedKey struct {
	peerPub string
	counter uint32
}

// State is the full per-peer-device Double Ratchet state (spec §3).
type State struct {
	Role Role

	RootKey        []byte
	SendChainKey   []byte
	RecvChainKey   []byte
	SendCounter    uint32
	RecvCounter    uint32
	PrevSendCounter uint32

	MyRatchetPriv []byte
	MyRatchetPub  []byte
	PeerRatchetPub []byte

	Skipped map[skippedKey][]byte

	X3DHDone bool
}

// skippedEntry is the JSON-serializable form of one skippedKey/mk pair,
// used because skippedKey (a struct) cannot be a JSON map key directly.
type skippedEntry struct {
	PeerPub string `json:"peerPub"`
	Counter uint32 `json:"counter"`
	MK      []byte `json:"mk"`
}

type stateJSON struct {
	Role            Role           `json:"role"`
	RootKey         []byte         `json:"rootKey"`
	SendChainKey    []byte         `json:"sendChainKey"`
	RecvChainKey    []byte         `json:"recvChainKey"`
	SendCounter     uint32         `json:"sendCounter"`
	RecvCounter     uint32         `json:"recvCounter"`
	PrevSendCounter uint32         `json:"prevSendCounter"`
	MyRatchetPriv   []byte         `json:"myRatchetPriv"`
	MyRatchetPub    []byte         `json:"myRatchetPub"`
	PeerRatchetPub  []byte         `json:"peerRatchetPub"`
	Skipped         []skippedEntry `json:"skipped"`
	X3DHDone        bool           `json:"x3dhDone"`
}

// MarshalJSON flattens Skipped into an ordered slice so the state can
// travel through the contact-secret vault's JSON snapshot format.
func (s *State) MarshalJSON() ([]byte, error) {
	sj := stateJSON{
		Role:            s.Role,
		RootKey:         s.RootKey,
		SendChainKey:    s.SendChainKey,
		RecvChainKey:    s.RecvChainKey,
		SendCounter:     s.SendCounter,
		RecvCounter:     s.RecvCounter,
		PrevSendCounter: s.PrevSendCounter,
		MyRatchetPriv:   s.MyRatchetPriv,
		MyRatchetPub:    s.MyRatchetPub,
		PeerRatchetPub:  s.PeerRatchetPub,
		X3DHDone:        s.X3DHDone,
		Skipped:         make([]skippedEntry, 0, len(s.Skipped)),
	}
	for k, mk := range s.Skipped {
		sj.Skipped = append(sj.Skipped, skippedEntry{PeerPub: k.peerPub, Counter: k.counter, MK: mk})
	}
	sort.Slice(sj.Skipped, func(i, j int) bool {
		if sj.Skipped[i].PeerPub != sj.Skipped[j].PeerPub {
			return sj.Skipped[i].PeerPub < sj.Skipped[j].PeerPub
		}
		return sj.Skipped[i].Counter < sj.Skipped[j].Counter
	})
	return json.Marshal(sj)
}

// UnmarshalJSON is MarshalJSON's inverse.
func (s *State) UnmarshalJSON(data []byte) error {
	var sj stateJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	s.Role = sj.Role
	s.RootKey = sj.RootKey
	s.SendChainKey = sj.SendChainKey
	s.RecvChainKey = sj.RecvChainKey
	s.SendCounter = sj.SendCounter
	s.RecvCounter = sj.RecvCounter
	s.PrevSendCounter = sj.PrevSendCounter
	s.MyRatchetPriv = sj.MyRatchetPriv
	s.MyRatchetPub = sj.MyRatchetPub
	s.PeerRatchetPub = sj.PeerRatchetPub
	s.X3DHDone = sj.X3DHDone
	s.Skipped = make(map[skippedKey][]byte, len(sj.Skipped))
	for _, e := range sj.Skipped {
		s.Skipped[skippedKey{peerPub: e.PeerPub, counter: e.Counter}] = e.MK
	}
	return nil
}

// Clone performs a deep copy so that mutations can be computed in a
// local value and committed only on success (spec §5 atomic
// replace-state rule).
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := &State{
		Role:            s.Role,
		RootKey:         dup(s.RootKey),
		SendChainKey:    dup(s.SendChainKey),
		RecvChainKey:    dup(s.RecvChainKey),
		SendCounter:     s.SendCounter,
		RecvCounter:     s.RecvCounter,
		PrevSendCounter: s.PrevSendCounter,
		MyRatchetPriv:   dup(s.MyRatchetPriv),
		MyRatchetPub:    dup(s.MyRatchetPub),
		PeerRatchetPub:  dup(s.PeerRatchetPub),
		Skipped:         make(map[skippedKey][]byte, len(s.Skipped)),
		X3DHDone:        s.X3DHDone,
	}
	for k, v := range s.Skipped {
		c.Skipped[k] = dup(v)
	}
	return c
}

// Ready reports whether the state may originate a new message (spec
// §4.7 role gating): rootKey and sendChainKey present, and either a
// non-empty recvChainKey or a completed X3DH handshake.
func (s *State) Ready() bool {
	if s == nil {
		return false
	}
	if len(s.RootKey) == 0 || len(s.SendChainKey) == 0 {
		return false
	}
	return len(s.RecvChainKey) > 0 || s.X3DHDone
}

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// kdfRK implements KDF_RK(rk, dh) = HKDF-SHA256(IKM=dh, salt=rk, info="sentry/dr/rk", L=64)
// split into a new 32-byte root key and a 32-byte chain key (spec §4.7).
func kdfRK(rk, dh []byte) (newRK, chainKey []byte, err error) {
	h := hkdf.New(sha256.New, dh, rk, []byte("sentry/dr/rk"))
	out := make([]byte, 64)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, nil, fmt.Errorf("kdf_rk: %w", err)
	}
	return out[:32], out[32:], nil
}

// kdfCK implements KDF_CK(ck) = (HMAC(ck,0x02), HMAC(ck,0x01)) (spec §4.7 step 2).
func kdfCK(ck []byte) (nextChainKey, messageKey []byte) {
	nextChainKey = hmacOnce(ck, 0x02)
	messageKey = hmacOnce(ck, 0x01)
	return
}

func hmacOnce(key []byte, tag byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{tag})
	return mac.Sum(nil)
}
