package ratchet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

const x3dhInfo = "sentry/x3dh/root"

// InitiatorBootstrap performs X3DH against the peer's published
// prekey bundle and derives the initial ratchet state (spec §4.7,
// "Session bootstrap (initiator)"). myIdentity is the initiator's own
// DevicePriv (IK_A); bundle is the guest's PublicBundle. If the bundle
// carries a one-time prekey, the first one is consumed and the returned
// ID identifies it; the ID is 0 when the bundle has none (the caller is
// responsible for reporting consumption to the server).
func InitiatorBootstrap(myIdentity *prekeys.DevicePriv, bundle *prekeys.PublicBundle) (*State, uint32, error) {
	if !ed25519.Verify(bundle.IdentityKeyPub, bundle.SignedPreKey, bundle.SignedPreKeySig) {
		return nil, 0, sentryerr.New(sentryerr.CodeBadEnvelope, "signed prekey signature invalid")
	}

	myIKPriv := prekeys.IdentityX25519Priv(myIdentity.IdentityKeyPriv)

	peerIKX25519Pub, err := prekeys.IdentityX25519Pub(bundle.IdentityKeyPub)
	if err != nil {
		return nil, 0, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "convert peer identity key", err)
	}

	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, 0, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "generate ephemeral key", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, 0, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "derive ephemeral public key", err)
	}

	dh1, err := dh(myIKPriv, bundle.SignedPreKey)
	if err != nil {
		return nil, 0, err
	}
	dh2, err := dh(ephPriv, peerIKX25519Pub)
	if err != nil {
		return nil, 0, err
	}
	dh3, err := dh(ephPriv, bundle.SignedPreKey)
	if err != nil {
		return nil, 0, err
	}

	ikm := concat(dh1, dh2, dh3)
	var opkID uint32
	if len(bundle.OneTimePreKeys) > 0 {
		otp := bundle.OneTimePreKeys[0]
		dh4, err := dh(ephPriv, otp.Pub)
		if err != nil {
			return nil, 0, err
		}
		ikm = concat(ikm, dh4)
		opkID = otp.ID
	}

	rk0, err := deriveRootSecret(ikm)
	if err != nil {
		return nil, 0, err
	}

	// Spec §4.7: initiator's first send chain key is derived
	// immediately, treating the peer's signed prekey as the initial
	// DHr and the X3DH ephemeral as the initial DHs.
	rk1, cks, err := kdfRK(rk0, mustDH(ephPriv, bundle.SignedPreKey))
	if err != nil {
		return nil, 0, err
	}

	return &State{
		Role:           RoleInitiator,
		RootKey:        rk1,
		SendChainKey:   cks,
		MyRatchetPriv:  ephPriv,
		MyRatchetPub:   ephPub,
		PeerRatchetPub: dup(bundle.SignedPreKey),
		Skipped:        make(map[skippedKey][]byte),
		X3DHDone:       true,
	}, opkID, nil
}

// GuestBootstrap mirrors InitiatorBootstrap from the acceptor's side
// once the first inbound header reveals the initiator's ephemeral key
// (spec §4.7, "Session bootstrap (guest)"). myIdentity is the guest's
// own DevicePriv; consumedOPKPriv is the private half of whichever
// one-time prekey the initiator's bundle advertised (nil if none was
// available); peerIdentityPub is the initiator's IK, learned out of
// band via the invite/contact-share exchange (spec §4.9).
func GuestBootstrap(myIdentity *prekeys.DevicePriv, consumedOPKPriv []byte, peerIdentityPub ed25519.PublicKey, firstHeader Header) (*State, error) {
	myIKPriv := prekeys.IdentityX25519Priv(myIdentity.IdentityKeyPriv)
	peerIKX25519Pub, err := prekeys.IdentityX25519Pub(peerIdentityPub)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "convert peer identity key", err)
	}

	dh1, err := dh(myIdentity.SignedPreKeyPriv, peerIKX25519Pub)
	if err != nil {
		return nil, err
	}
	dh2, err := dh(myIKPriv, firstHeader.RatchetPub)
	if err != nil {
		return nil, err
	}
	dh3, err := dh(myIdentity.SignedPreKeyPriv, firstHeader.RatchetPub)
	if err != nil {
		return nil, err
	}
	ikm := concat(dh1, dh2, dh3)
	if consumedOPKPriv != nil {
		dh4, err := dh(consumedOPKPriv, firstHeader.RatchetPub)
		if err != nil {
			return nil, err
		}
		ikm = concat(ikm, dh4)
	}

	rk0, err := deriveRootSecret(ikm)
	if err != nil {
		return nil, err
	}

	// Mirror the initiator's send-chain derivation: the guest's
	// current ratchet keypair is its own signed prekey, matching the
	// DHr the initiator used, so the DH outputs (and the derived
	// recvChainKey) are byte-identical on both sides.
	rk1, ckr, err := kdfRK(rk0, mustDH(myIdentity.SignedPreKeyPriv, firstHeader.RatchetPub))
	if err != nil {
		return nil, err
	}

	return &State{
		Role:           RoleGuest,
		RootKey:        rk1,
		RecvChainKey:   ckr,
		MyRatchetPriv:  dup(myIdentity.SignedPreKeyPriv),
		MyRatchetPub:   dup(myIdentity.SignedPreKeyPub),
		PeerRatchetPub: dup(firstHeader.RatchetPub),
		Skipped:        make(map[skippedKey][]byte),
		X3DHDone:       true,
	}, nil
}

func dh(priv, pub []byte) ([]byte, error) {
	out, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "x25519 dh", err)
	}
	return out, nil
}

func mustDH(priv, pub []byte) []byte {
	out, err := curve25519.X25519(priv, pub)
	if err != nil {
		// priv/pub are always validated curve25519 scalars/points by
		// the time we reach here; a failure means a caller passed a
		// malformed key, which is a programmer error.
		panic("ratchet: invalid x25519 inputs: " + err.Error())
	}
	return out
}

func deriveRootSecret(ikm []byte) ([]byte, error) {
	salt := make([]byte, 32)
	h := hkdf.New(sha256.New, ikm, salt, []byte(x3dhInfo))
	rk := make([]byte, 32)
	if _, err := io.ReadFull(h, rk); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "derive x3dh root key", err)
	}
	return rk, nil
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
