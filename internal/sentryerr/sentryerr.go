// Package sentryerr defines the core's error taxonomy.
//
// Every fallible operation in the core returns a *Error carrying one
// of the codes below instead of an ad-hoc string. Callers match on
// Code (or errors.As) rather than parsing messages.
package sentryerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure from spec §7's error taxonomy.
type Code string

const (
	// SDM / OPAQUE bootstrap, terminal for the attempt.
	CodeSDMBadMAC             Code = "SDM_BAD_MAC"
	CodeOpaqueLoginFailed     Code = "OPAQUE_LOGIN_FAILED"
	CodeOpaqueRegisterFailed  Code = "OPAQUE_REGISTER_FAILED"
	CodeDeviceRegisterFailed  Code = "DEVICE_REGISTER_FAILED"

	// Envelope / crypto.
	CodeEnvelopeDecryptFailed Code = "ENVELOPE_DECRYPT_FAILED"
	CodeBadEnvelope           Code = "BAD_ENVELOPE"
	CodeDecryptFailed         Code = "DECRYPT_FAILED"

	// Ratchet / pipeline.
	CodeCounterTooLow        Code = "COUNTER_TOO_LOW"
	CodeCounterTooLowReplace Code = "COUNTER_TOO_LOW_REPLACED"
	CodeRatchetInvariant     Code = "RATCHET_INVARIANT_VIOLATION"
	CodeContactCorrupt      Code = "CONTACT_CORRUPT"

	// Invite.
	CodeInviteExpired Code = "INVITE_EXPIRED"

	// Transport (never retried internally; surfaced for the caller).
	CodeTransient Code = "TRANSIENT"

	// Calls.
	CodeE2EESkipped Code = "E2E_SKIPPED"
	CodeCallFailed  Code = "CALL_FAILED"
)

// Error is the core's uniform error type.
type Error struct {
	Code    Code
	Message string
	Field   string // set for BAD_ENVELOPE: the failed field
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap builds an *Error wrapping cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// WithField builds a BAD_ENVELOPE-style error naming the failed field.
func WithField(code Code, msg, field string) *Error {
	return &Error{Code: code, Message: msg, Field: field}
}

// Is reports whether err carries the given code, following wrapped
// causes in the errors.Is sense.
func Is(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
