package prekeys

import (
	"crypto/ed25519"
	"crypto/sha512"
	"math/big"

	"github.com/sentry-msgr/core/internal/sentryerr"
)

// X3DH needs Diffie-Hellman-capable keys, but the published identity
// key is Ed25519 (so it can also sign the prekey, spec §4.3). These
// helpers implement the standard birational map between edwards25519
// and curve25519 (the same technique as libsodium's
// crypto_sign_ed25519_{sk,pk}_to_curve25519) so the same identity key
// pair serves both roles, matching spec §4.7's DH1/DH2 use of IK.

var curveP, _ = new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819949", 10) // 2^255-19

// IdentityX25519Priv derives the X25519 scalar for DH from an Ed25519
// private key: SHA-512 of the 32-byte seed, clamped the same way
// ed25519 clamps its signing scalar.
func IdentityX25519Priv(priv ed25519.PrivateKey) []byte {
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}

// IdentityX25519Pub converts an Ed25519 public key (the edwards
// y-coordinate with a sign bit) to its Montgomery u-coordinate:
// u = (1+y) / (1-y) mod p.
func IdentityX25519Pub(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != 32 {
		return nil, sentryerr.New(sentryerr.CodeBadEnvelope, "ed25519 public key must be 32 bytes")
	}
	yBytes := append([]byte(nil), pub...)
	yBytes[31] &= 0x7F // drop the sign bit; unused by the Montgomery map
	y := new(big.Int).SetBytes(reverse(yBytes))

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, curveP)
	den := new(big.Int).Sub(one, y)
	den.Mod(den, curveP)
	denInv := new(big.Int).ModInverse(den, curveP)
	if denInv == nil {
		return nil, sentryerr.New(sentryerr.CodeBadEnvelope, "identity key has no valid montgomery mapping")
	}
	u := new(big.Int).Mul(num, denInv)
	u.Mod(u, curveP)

	out := make([]byte, 32)
	uBytes := u.Bytes()
	copy(out[32-len(uBytes):], uBytes)
	return reverse(out), nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
