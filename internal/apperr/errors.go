// Package apperr defines the error taxonomy shared by the dispatch components.
// Callers branch on Kind; the HTTP layer renders it as a problem object.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindUnprocessable Kind = "unprocessable_input"
	KindUnavailable   Kind = "unavailable"
	KindInternal      Kind = "internal"
)

// Codes surfaced in problem extensions.
const (
	CodeEmergencyLimitReached = "emergency_limit_reached"
	CodePaymentWindowExpired  = "payment_window_expired"
	CodeAlreadyAccepted       = "emergency_already_accepted"
	CodeAcceptInProgress      = "acceptance_in_progress"
	CodeInvalidTransition     = "invalid_status_transition"
	CodeIdempotencyKeyReused  = "idempotency_key_reused"
	CodePaymentRequired       = "payment_required"
	CodeDoctorUnreachable     = "doctor_unreachable"
	CodeDuplicateEmergency    = "emergency_already_open"
	CodeNotOnline             = "doctor_not_online"
	CodePaymentProviderFailed = "payment_provider_unavailable"
	CodeValidation            = "validation_failed"
	CodeRadiusExceedsPlan     = "radius_exceeds_plan"
	CodeAppointmentMismatch   = "appointment_mismatch"
	CodeNotParty              = "not_a_party"
	CodeQueueItemNotFound     = "queue_item_not_found"
	CodeDoctorNotFound        = "doctor_not_found"
	CodeAppointmentNotFound   = "appointment_not_found"
	CodePaymentNotFound       = "payment_not_found"
	CodeLocationRequired      = "location_required"
)

// Error is an application error with a kind, a machine-readable code and
// optional problem extensions.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Extensions map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// With returns a copy of e carrying an extra extension field.
func (e *Error) With(key string, value any) *Error {
	out := *e
	out.Extensions = make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		out.Extensions[k] = v
	}
	out.Extensions[key] = value
	return &out
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Unprocessable(code, message string) *Error {
	return &Error{Kind: KindUnprocessable, Code: code, Message: message}
}

// Unavailable wraps a retryable upstream failure.
func Unavailable(code, message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
