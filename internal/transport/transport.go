package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAborted marks a transfer stopped through its cancellation handle.
	ErrAborted = errors.New("transport: aborted")
	// ErrPermanent marks a rejection that will not succeed on retry.
	ErrPermanent = errors.New("transport: permanent failure")
	// ErrInvalidPayload is returned when a payload of an unknown shape reaches a transport.
	ErrInvalidPayload = fmt.Errorf("%w: invalid payload", ErrPermanent)
)

// ProgressFunc receives the number of bytes sent so far and the total size.
type ProgressFunc func(sent int64, total int64)

// Request describes one item transfer.
type Request struct {
	Payload  any
	BatchID  string
	Sequence int
}

// Result is the outcome of a successful transfer.
type Result struct {
	Token string
}

// Transport moves the bytes of a single item to a remote destination.
//
// Send must honor ctx: once ctx is cancelled it stops within bounded time and returns
// an error that wraps ErrAborted. Any other failure is returned as is, wrapped with
// ErrPermanent when retrying cannot help.
type Transport interface {
	Send(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error)
}

// Func adapts an ordinary function to the Transport interface.
type Func func(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error)

func (f Func) Send(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	return f(ctx, req, progress)
}

// IsAborted reports whether err is a cooperative cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsPermanent reports whether err should not be retried automatically.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Permanent wraps err so that IsPermanent reports true.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &classifiedError{kind: ErrPermanent, err: err}
}

// Aborted wraps err so that IsAborted reports true.
func Aborted(err error) error {
	if err == nil {
		return ErrAborted
	}
	if IsAborted(err) {
		return err
	}
	return &classifiedError{kind: ErrAborted, err: err}
}

// CheckAborted translates a failed transfer into an aborted one when parent was cancelled.
// Deadlines set by the transport itself stay ordinary failures.
func CheckAborted(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return Aborted(err)
	}
	return err
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}
