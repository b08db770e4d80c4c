package conversation

import (
	"bytes"
	"testing"
)

func TestDeriveRejectsEmptyDeviceID(t *testing.T) {
	if _, err := Derive(make([]byte, 32), ""); err == nil {
		t.Fatalf("expected error for empty deviceId")
	}
}

func TestDeriveDiffersByDeviceID(t *testing.T) {
	secret := bytes.Repeat([]byte{0x01}, 32)

	ctxA, err := Derive(secret, "device-A")
	if err != nil {
		t.Fatalf("derive device-A: %v", err)
	}
	ctxB, err := Derive(secret, "device-B")
	if err != nil {
		t.Fatalf("derive device-B: %v", err)
	}

	if bytes.Equal(ctxA.Token, ctxB.Token) {
		t.Fatalf("expected distinct tokens for distinct device ids")
	}
	if ctxA.ID == ctxB.ID {
		t.Fatalf("expected distinct conversation ids for distinct device ids")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	token := bytes.Repeat([]byte{0x02}, 32)
	type payload struct {
		Text string `json:"text"`
	}

	env, err := Wrap(token, payload{Text: "hi"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	var out payload
	if err := Unwrap(token, env, &out); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if out.Text != "hi" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestUnwrapRejectsWrongToken(t *testing.T) {
	token := bytes.Repeat([]byte{0x03}, 32)
	wrongToken := bytes.Repeat([]byte{0x04}, 32)

	env, err := Wrap(token, map[string]string{"text": "secret"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := Unwrap(wrongToken, env, nil); err == nil {
		t.Fatalf("expected decrypt failure under the wrong token")
	}
}

func TestUnwrapRejectsUnsupportedVersion(t *testing.T) {
	token := bytes.Repeat([]byte{0x05}, 32)
	env, err := Wrap(token, map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	env.V = 2
	if err := Unwrap(token, env, nil); err == nil {
		t.Fatalf("expected error for unsupported envelope version")
	}
}

func TestFormatFingerprintGroupsDigits(t *testing.T) {
	token := bytes.Repeat([]byte{0x06}, 32)
	fp := Fingerprint(token, "account-digest")
	formatted := FormatFingerprint(fp)

	if formatted == "" {
		t.Fatalf("expected non-empty formatted fingerprint")
	}
	for _, r := range formatted {
		if r != ' ' && (r < '0' || r > '9') {
			t.Fatalf("expected only digits and spaces, got %q in %q", r, formatted)
		}
	}
}
