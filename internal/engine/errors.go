package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/knock/internal/market"
)

// ErrorCode categorizes market errors.
type ErrorCode string

const (
	// Validation errors: rejected before any state mutation.
	ErrCodeNoProfile       ErrorCode = "NO_PROFILE"
	ErrCodeSelfTarget      ErrorCode = "SELF_TARGET"
	ErrCodeBidTooLow       ErrorCode = "BID_TOO_LOW"
	ErrCodeInvalidSlots    ErrorCode = "INVALID_SLOTS"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// State-precondition errors: non-mutating.
	ErrCodeTooManyPending ErrorCode = "TOO_MANY_PENDING"
	ErrCodeAlreadySettled ErrorCode = "ALREADY_SETTLED"
	ErrCodeDayNotClosed   ErrorCode = "DAY_NOT_CLOSED"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeWrongStatus    ErrorCode = "WRONG_STATUS"
	ErrCodeNotAuthorized  ErrorCode = "NOT_AUTHORIZED"
	ErrCodeNotExpired     ErrorCode = "NOT_EXPIRED"

	// ErrCodeTransferFailed indicates a payment out of escrow failed and the
	// enclosing operation was rolled back.
	ErrCodeTransferFailed ErrorCode = "TRANSFER_FAILED"
)

// Error is a market error with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// KnockID identifies the affected knock, if any.
	KnockID int64

	// Participant identifies the affected sender, receiver or caller, if any.
	Participant string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.KnockID != 0 {
		msg += fmt.Sprintf(" (knock=%d)", e.KnockID)
	}
	if e.Participant != "" {
		msg += fmt.Sprintf(" (participant=%s)", e.Participant)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether err carries code. Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND market error.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsAlreadySettled reports whether err is an ALREADY_SETTLED market error.
func IsAlreadySettled(err error) bool { return HasCode(err, ErrCodeAlreadySettled) }

// IsTransferFailed reports whether err is a TRANSFER_FAILED market error.
func IsTransferFailed(err error) bool { return HasCode(err, ErrCodeTransferFailed) }

// IsValidation reports whether err was rejected on its inputs alone.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNoProfile, ErrCodeSelfTarget, ErrCodeBidTooLow, ErrCodeInvalidSlots, ErrCodeInvalidArgument:
		return true
	}
	return false
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(id int64) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "knock does not exist", KnockID: id}
}

func errWrongStatus(id int64, have, want market.Status) *Error {
	return &Error{
		Code:    ErrCodeWrongStatus,
		Message: fmt.Sprintf("knock is %s, need %s", have, want),
		KnockID: id,
	}
}

func errNotAuthorized(id int64, caller string) *Error {
	return &Error{
		Code:        ErrCodeNotAuthorized,
		Message:     "caller is not the knock's receiver",
		KnockID:     id,
		Participant: caller,
	}
}

func errTransferFailed(id int64, payee string, cause error) *Error {
	return &Error{
		Code:        ErrCodeTransferFailed,
		Message:     "transfer out of escrow failed",
		KnockID:     id,
		Participant: payee,
		Err:         cause,
	}
}

// checkParticipant rejects ids in the market's reserved account namespace.
func checkParticipant(id string) error {
	if market.IsReserved(id) {
		return &Error{
			Code:        ErrCodeInvalidArgument,
			Message:     fmt.Sprintf("participant ids may not start with %q", market.ReservedPrefix),
			Participant: id,
		}
	}
	return nil
}
