package cqrs

import (
	"errors"
	"fmt"
)

// ErrAggregateConflict signals that another writer committed to the same
// aggregate stream first. Callers typically reload and retry the command.
var ErrAggregateConflict = errors.New("aggregate conflict")

// UserError is a domain rejection produced by command handlers. It never
// indicates an infrastructure problem and is passed through to the caller
// unchanged.
type UserError struct {
	Code    string
	Message string
	Params  map[string]string
}

func (e *UserError) Error() string {
	if e == nil || e.Message == "" {
		return "unknown error"
	}
	return e.Message
}

func NewUserError(msg string) *UserError {
	return &UserError{Message: msg}
}

func NewUserErrorWithCode(code, msg string) *UserError {
	return &UserError{Code: code, Message: msg}
}

// TechnicalError wraps infrastructure failures (serialization, storage,
// transport). The cause is preserved for errors.Is / errors.As.
type TechnicalError struct {
	msg   string
	cause error
}

func (e *TechnicalError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *TechnicalError) Unwrap() error { return e.cause }

func NewTechnicalError(msg string) *TechnicalError {
	return &TechnicalError{msg: msg}
}

func WrapTechnical(msg string, cause error) *TechnicalError {
	return &TechnicalError{msg: msg, cause: cause}
}

// IsUserError reports whether err is a domain rejection.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAggregateConflict)
}

// IsTechnical reports whether err is an infrastructure failure.
func IsTechnical(err error) bool {
	var te *TechnicalError
	return errors.As(err, &te)
}
