package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is the kind reported when every attempt failed without a response.
	ErrNetwork = errors.New("transport: network fault")
	// ErrInterrupted is the kind reported when a backoff wait was cancelled.
	ErrInterrupted = errors.New("transport: retry interrupted")
	// ErrCircuitOpen is the kind reported by Breaker while the circuit is open.
	ErrCircuitOpen = errors.New("transport: circuit open")
	// ErrEmptyBatch is returned when Send is called with no records.
	ErrEmptyBatch = errors.New("transport: empty batch")
)

// DeliveryError describes a send that ended without any usable response.
// errors.Is matches both Kind and the wrapped cause.
type DeliveryError struct {
	Kind     error
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v after %d attempt(s)", e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
