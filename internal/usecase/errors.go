package usecase

import (
	"errors"
	"fmt"

	"negotiation-chat/internal/repository"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorPersistence       ErrorCode = "PERSISTENCE"
	ErrorAlreadyClaimed    ErrorCode = "ALREADY_CLAIMED"
	ErrorInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrorPartialQuoteWrite ErrorCode = "PARTIAL_QUOTE_WRITE"
	ErrorBlocked           ErrorCode = "CONVERSATION_BLOCKED"
	ErrorNotParticipant    ErrorCode = "NOT_PARTICIPANT"
	// ErrorRelayUnavailable is logged, never returned to callers.
	ErrorRelayUnavailable ErrorCode = "RELAY_UNAVAILABLE"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Code == code
}

// storeError maps a repository error to NOT_FOUND or PERSISTENCE.
func storeError(err error, reason string) *Error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrorNotFound, reason+"_not_found", err)
	}
	return newError(ErrorPersistence, reason+"_error", err)
}
