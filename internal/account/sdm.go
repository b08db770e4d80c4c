// Package account implements account bootstrap (spec §4.4): the
// NFC-tag SDM challenge exchange that yields an account digest and
// token, followed by client-side OPAQUE registration/login that
// produces the master key (MK).
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sentry-msgr/core/internal/sentryerr"
)

// SDMParams is the opaque NFC-tag challenge payload (spec §9 Open
// Question iii: its cryptographic properties are inherited from the
// tag hardware and are not re-verified here).
type SDMParams struct {
	UID        string
	SDMMAC     string
	SDMCounter string
	Nonce      string
}

// BootstrapResult is returned by ExchangeFromSDM.
type BootstrapResult struct {
	AccountDigest   string
	AccountToken    string
	OpaqueServerID  string
}

var uidHexPattern = regexp.MustCompile(`^[0-9A-Fa-f]{14,64}$`)

// ExchangeFromSDM validates the SDM challenge shape and derives the
// account digest deterministically from the tag UID and MAC. The
// actual SDM MAC verification is performed server-side; this client
// step only builds the (accountDigest, accountToken) pair from the
// values the server returns alongside a verified exchange. A
// malformed UID is rejected locally before any network round trip.
func ExchangeFromSDM(p SDMParams, serverAccountToken, serverOpaqueServerID string) (*BootstrapResult, error) {
	uid := strings.ToUpper(p.UID)
	if !uidHexPattern.MatchString(uid) {
		return nil, sentryerr.New(sentryerr.CodeSDMBadMAC, "uid must be 14-64 uppercase hex characters")
	}
	if p.SDMMAC == "" || p.SDMCounter == "" {
		return nil, sentryerr.New(sentryerr.CodeSDMBadMAC, "missing sdm mac or counter")
	}
	if serverAccountToken == "" {
		return nil, sentryerr.New(sentryerr.CodeSDMBadMAC, "server returned no account token")
	}

	digest := sha256.Sum256([]byte(uid + ":" + p.SDMMAC + ":" + p.SDMCounter))

	return &BootstrapResult{
		AccountDigest:  strings.ToUpper(hex.EncodeToString(digest[:])),
		AccountToken:   serverAccountToken,
		OpaqueServerID: serverOpaqueServerID,
	}, nil
}
