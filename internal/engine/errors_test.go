package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/roach88/knock/internal/market"
	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := errWrongStatus(7, market.StatusPending, market.StatusSettled)
	assert.Equal(t, "WRONG_STATUS: knock is pending, need settled (knock=7)", err.Error())

	err = errNotAuthorized(3, "mallory")
	assert.Equal(t, "NOT_AUTHORIZED: caller is not the knock's receiver (knock=3) (participant=mallory)", err.Error())
}

func TestError_WrappedMatch(t *testing.T) {
	cause := errors.New("payee rejected")
	err := fmt.Errorf("op: %w", errTransferFailed(9, "bob", cause))

	assert.Equal(t, ErrCodeTransferFailed, CodeOf(err))
	assert.True(t, IsTransferFailed(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsNotFound(err))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("disk full")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(newError(ErrCodeBidTooLow, "low")))
	assert.True(t, IsValidation(newError(ErrCodeInvalidSlots, "bad")))
	assert.False(t, IsValidation(newError(ErrCodeAlreadySettled, "again")))
}
