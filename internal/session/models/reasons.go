package models

import (
	"errors"

	dErrors "aegis/pkg/domain-errors"
)

// Reason is the stable code a denied session operation reports.
type Reason string

const (
	ReasonNotFound       Reason = "session_not_found"
	ReasonInactive       Reason = "session_inactive"
	ReasonExpired        Reason = "session_expired"
	ReasonInvalidToken   Reason = "invalid_token"
	ReasonDeviceMismatch Reason = "device_fingerprint_mismatch"
	ReasonCapacity       Reason = "device_session_limit"
	// ReasonValidationError marks a validation that could not complete.
	ReasonValidationError Reason = "validation_error"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:        "session not found",
	ReasonInactive:        "session inactive",
	ReasonExpired:         "expired",
	ReasonInvalidToken:    "invalid token",
	ReasonDeviceMismatch:  "device fingerprint mismatch",
	ReasonCapacity:        "device session limit reached",
	ReasonValidationError: "validation error",
}

func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

func (r Reason) Code() dErrors.Code {
	switch r {
	case ReasonCapacity:
		return dErrors.CodeCapacity
	case ReasonValidationError:
		return dErrors.CodeDegraded
	default:
		return dErrors.CodeInvalidated
	}
}

// DenialError carries the reason a session operation was refused, as
// opposed to failing.
type DenialError struct {
	Reason Reason
}

func (e *DenialError) Error() string {
	return e.Reason.Message()
}

// Deny returns a domain error for reason.
func Deny(reason Reason) error {
	return dErrors.Wrap(&DenialError{Reason: reason}, reason.Code(), reason.Message())
}

// ReasonOf extracts the denial reason from err.
func ReasonOf(err error) (Reason, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}
