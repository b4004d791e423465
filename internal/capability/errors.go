package capability

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnavailable  Kind = "unavailable"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindTimeout      Kind = "timeout"
)

// Error is the failure of one capability call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of kind for op.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Errors that are not capability errors
// are reported as unavailable, deadline expiry as timeout.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

func IsNotFound(err error) bool     { return err != nil && KindOf(err) == KindNotFound }
func IsInvalidInput(err error) bool { return err != nil && KindOf(err) == KindInvalidInput }
func IsUnavailable(err error) bool  { return err != nil && KindOf(err) == KindUnavailable }
func IsTimeout(err error) bool      { return err != nil && KindOf(err) == KindTimeout }

// ErrorText returns the provider's own error text, without the operation and
// kind prefix added by Error.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}
