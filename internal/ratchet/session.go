package ratchet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"github.com/sentry-msgr/core/internal/b64"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

var zeroIV = make([]byte, 12)

// Send performs one ratchet step (spec §4.7 "Ratchet step (per
// message)") and returns the header and ciphertext for the message
// body. state is never mutated in place: the caller gets back the
// next state and must commit it only after the send itself succeeds
// (spec §5 atomic replace-state rule).
func Send(state *State, plaintext []byte) (Header, []byte, *State, error) {
	next := state.Clone()

	if len(next.SendChainKey) == 0 {
		if len(next.PeerRatchetPub) == 0 || len(next.RootKey) == 0 {
			return Header{}, nil, nil, sentryerr.New(sentryerr.CodeRatchetInvariant, "no send chain and no peer ratchet key to bootstrap one")
		}
		if err := turnSendRatchet(next); err != nil {
			return Header{}, nil, nil, err
		}
	}

	ck, mk := kdfCK(next.SendChainKey)
	h := Header{
		RatchetPub:  dup(next.MyRatchetPub),
		Counter:     next.SendCounter,
		PrevCounter: next.PrevSendCounter,
	}

	ct, err := sealBody(mk, plaintext)
	if err != nil {
		return Header{}, nil, nil, err
	}

	next.SendChainKey = ck
	next.SendCounter++

	return h, ct, next, nil
}

// Receive processes one inbound message (spec §4.7 "Receive"). It
// never mutates state in place — see Send.
func Receive(state *State, h Header, ciphertext []byte) ([]byte, *State, error) {
	next := state.Clone()

	if mk, ok := lookupSkipped(next, h); ok {
		pt, err := openBody(mk, ciphertext)
		if err != nil {
			return nil, nil, sentryerr.Wrap(sentryerr.CodeDecryptFailed, "decrypt skipped message", err)
		}
		removeSkipped(next, h)
		return pt, next, nil
	}

	switch {
	case len(next.PeerRatchetPub) > 0 && bytesEqual(h.RatchetPub, next.PeerRatchetPub):
		if h.Counter < next.RecvCounter {
			return nil, nil, sentryerr.New(sentryerr.CodeCounterTooLow, "counter behind current receive chain and not in skipped cache")
		}
		if h.Counter > next.RecvCounter {
			if err := skipUpTo(next, next.PeerRatchetPub, h.Counter); err != nil {
				return nil, nil, err
			}
		}
		if len(next.RecvChainKey) == 0 {
			return nil, nil, sentryerr.New(sentryerr.CodeRatchetInvariant, "recvChainKey empty on same-ratchet-pub receive")
		}
		ck, mk := kdfCK(next.RecvChainKey)
		pt, err := openBody(mk, ciphertext)
		if err != nil {
			return nil, nil, sentryerr.Wrap(sentryerr.CodeDecryptFailed, "decrypt message", err)
		}
		next.RecvChainKey = ck
		next.RecvCounter++
		return pt, next, nil

	default:
		if !next.X3DHDone {
			return nil, nil, sentryerr.New(sentryerr.CodeRatchetInvariant, "unknown ratchet pub before completing x3dh")
		}
		if len(next.PeerRatchetPub) > 0 {
			if err := skipUpTo(next, next.PeerRatchetPub, h.PrevCounter); err != nil {
				return nil, nil, err
			}
		}
		if err := dhRatchetTurn(next, h.RatchetPub); err != nil {
			return nil, nil, err
		}
		ck, mk := kdfCK(next.RecvChainKey)
		pt, err := openBody(mk, ciphertext)
		if err != nil {
			return nil, nil, sentryerr.Wrap(sentryerr.CodeDecryptFailed, "decrypt message after dh ratchet turn", err)
		}
		next.RecvChainKey = ck
		next.RecvCounter++
		return pt, next, nil
	}
}

// turnSendRatchet is invoked the first time a side needs to send but
// has no send chain yet: it generates a fresh ratchet keypair and
// advances the root chain against the current peer ratchet pub,
// without disturbing the receive chain.
func turnSendRatchet(s *State) error {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "generate new ratchet key", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "derive new ratchet public key", err)
	}
	dhOut, err := curve25519.X25519(priv, s.PeerRatchetPub)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "dh with peer ratchet key", err)
	}
	rk, ck, err := kdfRK(s.RootKey, dhOut)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "kdf_rk", err)
	}
	s.RootKey = rk
	s.SendChainKey = ck
	s.MyRatchetPriv = priv
	s.MyRatchetPub = pub
	s.PrevSendCounter = s.SendCounter
	s.SendCounter = 0
	return nil
}

// dhRatchetTurn implements spec §4.7's full DH ratchet turn on
// receiving a new peer ratchet public key.
func dhRatchetTurn(s *State, peerPub []byte) error {
	s.PrevSendCounter = s.SendCounter
	s.PeerRatchetPub = dup(peerPub)

	if len(s.MyRatchetPriv) > 0 {
		dhOut, err := curve25519.X25519(s.MyRatchetPriv, s.PeerRatchetPub)
		if err != nil {
			return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "dh for recv chain", err)
		}
		rk, ck, err := kdfRK(s.RootKey, dhOut)
		if err != nil {
			return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "kdf_rk for recv chain", err)
		}
		s.RootKey = rk
		s.RecvChainKey = ck
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "generate new ratchet key", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "derive new ratchet public key", err)
	}
	dhOut, err := curve25519.X25519(priv, s.PeerRatchetPub)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "dh for send chain", err)
	}
	rk, ck, err := kdfRK(s.RootKey, dhOut)
	if err != nil {
		return sentryerr.Wrap(sentryerr.CodeRatchetInvariant, "kdf_rk for send chain", err)
	}
	s.RootKey = rk
	s.SendChainKey = ck
	s.MyRatchetPriv = priv
	s.MyRatchetPub = pub
	s.SendCounter = 0
	s.RecvCounter = 0
	return nil
}

// skipUpTo derives and caches message keys for [recvCounter, until)
// on the current receive chain (spec §4.7 "skip then catch-up", §3
// gap cap 1000).
func skipUpTo(s *State, peerPub []byte, until uint32) error {
	if len(s.RecvChainKey) == 0 {
		return nil
	}
	if until < s.RecvCounter {
		return nil
	}
	if until-s.RecvCounter > MaxSkip || len(s.Skipped)+int(until-s.RecvCounter) > MaxSkip {
		return sentryerr.New(sentryerr.CodeRatchetInvariant, "skipped-message gap exceeds bound")
	}
	for s.RecvCounter < until {
		ck, mk := kdfCK(s.RecvChainKey)
		s.Skipped[skippedKey{peerPub: string(peerPub), counter: s.RecvCounter}] = mk
		s.RecvChainKey = ck
		s.RecvCounter++
	}
	return nil
}

func lookupSkipped(s *State, h Header) ([]byte, bool) {
	mk, ok := s.Skipped[skippedKey{peerPub: string(h.RatchetPub), counter: h.Counter}]
	return mk, ok
}

func removeSkipped(s *State, h Header) {
	delete(s.Skipped, skippedKey{peerPub: string(h.RatchetPub), counter: h.Counter})
}

// sealBody encrypts the message body with AES-256-GCM keyed by the
// per-message key; the IV is fixed to zero because the combination of
// a fresh DH ratchet turn and a monotonic chain counter already makes
// every message key unique (spec §4.7 step 3).
func sealBody(mk, plaintext []byte) ([]byte, error) {
	gcm, err := gcmFor(mk)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, zeroIV, plaintext, nil), nil
}

func openBody(mk, ciphertext []byte) ([]byte, error) {
	gcm, err := gcmFor(mk)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, zeroIV, ciphertext, nil)
}

func gcmFor(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeDecryptFailed, "build cipher", err)
	}
	return cipher.NewGCM(block)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EncodeBody/DecodeBody are exported b64 helpers used by the message
// pipeline to carry ciphertext inside the DR plaintext JSON (spec §6).
func EncodeBody(ct []byte) string { return b64.EncodeURL(ct) }
func DecodeBody(s string) ([]byte, error) { return b64.Decode(s) }
