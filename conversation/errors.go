package conversation

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/linesmerrill/marketplace-chat-api/models"
)

// Code classifies a router failure. Codes are sent to clients verbatim.
type Code string

// error codes
const (
	CodeInvalidRequest        Code = "InvalidRequest"
	CodeTransactionNotFound   Code = "TransactionNotFound"
	CodeNotAuthorized         Code = "NotAuthorized"
	CodeParticipationNotFound Code = "ParticipationNotFound"
	CodePersistenceFailure    Code = "PersistenceFailure"
)

// Error is returned by every Router and Store operation that fails
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func invalidRequest(err error) *Error {
	return newError(CodeInvalidRequest, "malformed request", err)
}

func transactionNotFound(id string) *Error {
	return newError(CodeTransactionNotFound, fmt.Sprintf("transaction %s does not exist", id), nil)
}

func notAuthorized(reason string) *Error {
	return newError(CodeNotAuthorized, reason, nil)
}

func participationNotFound(participantID string) *Error {
	return newError(CodeParticipationNotFound, fmt.Sprintf("no participation for user %s", participantID), nil)
}

func persistenceFailure(err error) *Error {
	return newError(CodePersistenceFailure, "internal server error", err)
}

// CodeOf extracts the Code from err. Errors that did not come from this
// package are treated as persistence failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodePersistenceFailure
}

// ErrorEvent converts err into the payload sent back to the requester. The
// wrapped cause is never exposed.
func ErrorEvent(err error) models.ErrorEvent {
	var e *Error
	if errors.As(err, &e) {
		return models.ErrorEvent{Code: string(e.Code), Reason: e.Reason}
	}
	return models.ErrorEvent{Code: string(CodePersistenceFailure), Reason: "internal server error"}
}
