package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/obsidianstack/pulse/pkg/types"
)

// errUndelivered marks an Outcome without a 2xx so gobreaker counts it as a failure.
var errUndelivered = errors.New("transport: batch not delivered")

// BreakerSettings configures Breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a half-open trial request.
	OpenTimeout time.Duration
}

// Breaker short-circuits sends while the collector keeps failing. Every
// failed or undelivered Send counts against the collector; while open, Send
// returns a *DeliveryError with Kind ErrCircuitOpen without any I/O.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Sender, s BreakerSettings) *Breaker {
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "collector",
			MaxRequests: 1,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("transport: circuit state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Send delivers batch through the wrapped Sender unless the circuit is open.
func (b *Breaker) Send(ctx context.Context, batch types.Batch) (Outcome, error) {
	var out Outcome
	_, err := b.cb.Execute(func() (interface{}, error) {
		o, err := b.next.Send(ctx, batch)
		out = o
		if err != nil {
			return nil, err
		}
		if !o.Delivered {
			return nil, fmt.Errorf("%w: HTTP %d", errUndelivered, o.Status)
		}
		return nil, nil
	})

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Outcome{}, &DeliveryError{Kind: ErrCircuitOpen, Err: err}
	case errors.Is(err, errUndelivered):
		return out, nil
	default:
		return out, err
	}
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
