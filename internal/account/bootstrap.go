package account

import (
	"github.com/sentry-msgr/core/internal/prekeys"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Bootstrap ties the SDM exchange and OPAQUE register/login together
// into a single attempt (spec §4.4). A Bootstrap value only exists
// once login succeeds: there is no partial-state constructor, since
// failures are terminal for the bootstrap attempt and no partial state
// may leak.
type Bootstrap struct {
	Result *BootstrapResult
	MK     []byte
	Device *prekeys.DevicePriv
	Bundle *prekeys.PublicBundle
}

// Login runs ExchangeFromSDM, then a full OPAQUE login
// (AuthInit/AuthFinish) against an already-established account,
// returning the derived MK. The caller is responsible for sending
// authInit's output to the server and feeding the server's KE2 back in.
func Login(sdm SDMParams, serverAccountToken, serverOpaqueServerID string, password []byte, clientIdentity, serverIdentity []byte, doAuth func(ke1 []byte) (ke2 []byte, err error)) (*Bootstrap, []byte, error) {
	res, err := ExchangeFromSDM(sdm, serverAccountToken, serverOpaqueServerID)
	if err != nil {
		return nil, nil, err
	}

	cl, err := NewClient()
	if err != nil {
		return nil, nil, err
	}

	ke1, err := cl.AuthInit(password)
	if err != nil {
		return nil, nil, err
	}

	ke2, err := doAuth(ke1)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueLoginFailed, "auth round trip failed", err)
	}

	ke3, mk, err := cl.AuthFinish(ke2, clientIdentity, serverIdentity)
	if err != nil {
		return nil, nil, err
	}

	return &Bootstrap{Result: res, MK: mk}, ke3, nil
}

// Register runs ExchangeFromSDM followed by a full OPAQUE registration
// (RegisterInit/RegisterFinish), then generates the device's initial
// prekey bundle (spec §4.3, §4.4: "On successful login ... devicePriv
// is generated or fetched, public prekey bundle is published").
func Register(sdm SDMParams, serverAccountToken, serverOpaqueServerID string, password []byte, clientIdentity, serverIdentity []byte, doRegister func(req []byte) (resp []byte, err error)) (*Bootstrap, []byte, error) {
	res, err := ExchangeFromSDM(sdm, serverAccountToken, serverOpaqueServerID)
	if err != nil {
		return nil, nil, err
	}

	cl, err := NewClient()
	if err != nil {
		return nil, nil, err
	}

	req, err := cl.RegisterInit(password)
	if err != nil {
		return nil, nil, err
	}

	resp, err := doRegister(req)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeOpaqueRegisterFailed, "register round trip failed", err)
	}

	record, exportKey, err := cl.RegisterFinish(resp, clientIdentity, serverIdentity)
	if err != nil {
		return nil, nil, err
	}
	mk, err := deriveMK(exportKey)
	if err != nil {
		return nil, nil, err
	}

	device, bundle, err := prekeys.GenerateInitialBundle(1, 100)
	if err != nil {
		return nil, nil, err
	}

	return &Bootstrap{Result: res, MK: mk, Device: device, Bundle: bundle}, record, nil
}
