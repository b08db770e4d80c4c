// Package prekeys generates and replenishes the per-device prekey
// bundle used for asynchronous X3DH session establishment (spec §4.3).
package prekeys

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"github.com/sentry-msgr/core/internal/sentryerr"
)

// OneTimePreKey is a single X25519 one-time prekey with its counter ID.
type OneTimePreKey struct {
	ID  uint32 `json:"id"`
	Pub []byte `json:"pub"`
}

// oneTimePreKeyPriv keeps the private half alongside the public one;
// never serialized on the wire, only inside the MK-wrapped DevicePriv.
type oneTimePreKeyPriv struct {
	ID   uint32
	Priv []byte
	Pub  []byte
}

// PublicBundle is the published prekey bundle (spec §3 PrekeyBundle).
type PublicBundle struct {
	IdentityKeyPub []byte          `json:"ik_pub"`
	SignedPreKey   []byte          `json:"spk_pub"`
	SignedPreKeySig []byte         `json:"spk_sig"`
	OneTimePreKeys []OneTimePreKey `json:"opks"`
}

// DevicePriv is the MK-wrapped private device key material (spec §3).
type DevicePriv struct {
	IdentityKeyPriv ed25519.PrivateKey  `json:"ik_priv"`
	IdentityKeyPub  ed25519.PublicKey   `json:"ik_pub"`
	SignedPreKeyPriv []byte            `json:"spk_priv"`
	SignedPreKeyPub  []byte            `json:"spk_pub"`
	SignedPreKeySig  []byte            `json:"spk_sig"`
	NextOPKID        uint32            `json:"next_opk_id"`
	oneTimeByID      map[uint32]*oneTimePreKeyPriv
}

// GenerateInitialBundle creates a fresh identity key, signed prekey,
// and a batch of `count` one-time prekeys starting at `startID`.
func GenerateInitialBundle(startID uint32, count int) (*DevicePriv, *PublicBundle, error) {
	ikPub, ikPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeDeviceRegisterFailed, "generate identity key", err)
	}

	spkPriv, spkPub, err := generateX25519()
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeDeviceRegisterFailed, "generate signed prekey", err)
	}
	spkSig := ed25519.Sign(ikPriv, spkPub)

	devicePriv := &DevicePriv{
		IdentityKeyPriv:  ikPriv,
		IdentityKeyPub:   ikPub,
		SignedPreKeyPriv: spkPriv,
		SignedPreKeyPub:  spkPub,
		SignedPreKeySig:  spkSig,
		NextOPKID:        startID,
		oneTimeByID:      make(map[uint32]*oneTimePreKeyPriv),
	}

	opks, err := devicePriv.GenerateOPKs(count)
	if err != nil {
		return nil, nil, err
	}

	bundle := &PublicBundle{
		IdentityKeyPub:  append([]byte(nil), ikPub...),
		SignedPreKey:    append([]byte(nil), spkPub...),
		SignedPreKeySig: append([]byte(nil), spkSig...),
		OneTimePreKeys:  opks,
	}
	return devicePriv, bundle, nil
}

// GenerateOPKs mints `count` new one-time prekeys, advancing
// NextOPKID atomically with the returned public batch.
func (d *DevicePriv) GenerateOPKs(count int) ([]OneTimePreKey, error) {
	if d.oneTimeByID == nil {
		d.oneTimeByID = make(map[uint32]*oneTimePreKeyPriv)
	}
	out := make([]OneTimePreKey, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := generateX25519()
		if err != nil {
			return nil, sentryerr.Wrap(sentryerr.CodeDeviceRegisterFailed, "generate one-time prekey", err)
		}
		id := d.NextOPKID
		d.NextOPKID++
		d.oneTimeByID[id] = &oneTimePreKeyPriv{ID: id, Priv: priv, Pub: pub}
		out = append(out, OneTimePreKey{ID: id, Pub: append([]byte(nil), pub...)})
	}
	return out, nil
}

// ConsumeOPK removes and returns the private half of the one-time
// prekey with the given ID, as happens when an initiator's X3DH
// consumes it server-side and the device later reconciles its local
// batch. Returns nil if the ID is not locally known (already consumed).
func (d *DevicePriv) ConsumeOPK(id uint32) []byte {
	otp, ok := d.oneTimeByID[id]
	if !ok {
		return nil
	}
	delete(d.oneTimeByID, id)
	return otp.Priv
}

// NeedsReplenishment reports whether the device's remaining one-time
// prekey count has dropped to or below lowWater — a supplemented
// hygiene check beyond the distilled spec (SPEC_FULL.md §4).
func (d *DevicePriv) NeedsReplenishment(lowWater int) bool {
	return len(d.oneTimeByID) <= lowWater
}

func generateX25519() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pubKey, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pubKey, nil
}
