package api

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Client is an *Error whose Kind is
// one of these, so callers can branch with errors.Is.
var (
	// ErrNetwork covers transport failures, including cancellation.
	ErrNetwork = errors.New("network failure")

	// ErrTimeout is a request that ran past its deadline. It wraps
	// ErrNetwork.
	ErrTimeout = fmt.Errorf("%w: request timed out", ErrNetwork)

	// ErrDecode is a response body that is not the expected JSON shape.
	ErrDecode = errors.New("decode failure")

	// ErrUnexpectedStatus is a completed exchange with a status outside the
	// operation's success set.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Error describes a failed API call.
type Error struct {
	Op         string // "list", "create" or "delete"
	Kind       error
	StatusCode int // set for ErrUnexpectedStatus
	Err        error
}

func (e *Error) Error() string {
	msg := "api " + e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportError(ctx context.Context, op string, err error) *Error {
	kind := ErrNetwork
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	default:
		return "error"
	}
}
