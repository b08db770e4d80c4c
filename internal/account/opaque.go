package account

import (
	"crypto/sha256"
	"io"

	"github.com/bytemare/opaque"
	"golang.org/x/crypto/hkdf"

	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Client drives the client side of OPAQUE registration and login
// (spec §4.4), grounded on github.com/bytemare/opaque the way
// other_examples/30fb380d_eagraf-opaque and
// other_examples/86687032_brave-experiments-opaque wire the library's
// Configuration/Client types.
type Client struct {
	cfg  *opaque.Configuration
	cl   *opaque.Client
	deser *opaque.Deserializer
}

// NewClient builds a client using OPAQUE's recommended default
// parameters (Ristretto255/SHA-512, Argon2id KSF).
func NewClient() (*Client, error) {
	cfg := opaque.DefaultConfiguration()
	cl, err := cfg.Client()
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "build opaque client", err)
	}
	deser, err := cfg.Deserializer()
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "build opaque deserializer", err)
	}
	return &Client{cfg: cfg, cl: cl, deser: deser}, nil
}

// RegisterInit begins OPAQUE registration for password, returning the
// opaque registration request to send to the server.
func (c *Client) RegisterInit(password []byte) ([]byte, error) {
	req := c.cl.RegistrationStart(password)
	out, err := req.Serialize()
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "serialize registration request", err)
	}
	return out, nil
}

// RegisterFinish completes registration given the server's response,
// returning the registration record to upload and the export key used
// to derive MK.
func (c *Client) RegisterFinish(serverResponse []byte, clientIdentity, serverIdentity []byte) (record []byte, exportKey []byte, err error) {
	resp, err := c.deser.RegistrationResponse(serverResponse)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "deserialize registration response", err)
	}
	upload, exp, err := c.cl.RegistrationFinalize(clientIdentity, resp)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "finalize registration", err)
	}
	rec, err := upload.Serialize()
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "serialize registration record", err)
	}
	return rec, exp, nil
}

// AuthInit begins an OPAQUE login, returning KE1 to send to the server.
func (c *Client) AuthInit(password []byte) ([]byte, error) {
	ke1 := c.cl.AuthenticationStart(password, nil)
	out, err := ke1.Serialize()
	if err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "serialize ke1", err)
	}
	return out, nil
}

// AuthFinish completes the login given the server's KE2, returning
// KE3 to send back and the derived master key MK.
func (c *Client) AuthFinish(ke2Bytes []byte, clientIdentity, serverIdentity []byte) (ke3 []byte, mk []byte, err error) {
	ke2, err := c.deser.KE2(ke2Bytes)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "deserialize ke2", err)
	}
	ke3msg, sessionKey, exportKey, err := c.cl.AuthenticationFinalize(clientIdentity, serverIdentity, ke2)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "finalize authentication", err)
	}
	_ = sessionKey

	ke3Bytes, err := ke3msg.Serialize()
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "serialize ke3", err)
	}

	derived, err := deriveMK(exportKey)
	if err != nil {
		return nil, nil, err
	}
	return ke3Bytes, derived, nil
}

// deriveMK turns the OPAQUE export key into the 32-byte master key
// that seeds every envelope in the core (spec §3 mk, §4.2).
func deriveMK(exportKey []byte) ([]byte, error) {
	salt := make([]byte, 32)
	h := hkdf.New(sha256.New, exportKey, salt, []byte("sentry/mk"))
	mk := make([]byte, 32)
	if _, err := io.ReadFull(h, mk); err != nil {
		return nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "derive mk", err)
	}
	return mk, nil
}
