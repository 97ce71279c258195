package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/obsidianstack/pulse/pkg/types"
)

// Default retry policy.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMultiplier   = 2.0
)

// maxDrain caps how much of an unread response body is consumed before
// closing it, so the connection can be reused.
const maxDrain = 64 << 10

// Exchanger performs one HTTP exchange. *http.Client satisfies it.
type Exchanger interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender delivers one batch. Transport and Breaker both implement it.
type Sender interface {
	Send(ctx context.Context, batch types.Batch) (Outcome, error)
}

// Stats receives one call per attempt with the attempt's Fault string.
type Stats interface {
	RecordAttempt(result string)
}

// Outcome is the result of a Send that produced a response.
// Delivered is true only for a 2xx; a terminal or exhausted non-2xx is
// reported with Delivered == false and a nil error.
type Outcome struct {
	Status    int
	Fault     Fault
	Attempts  int
	Delivered bool
}

// RetryPolicy bounds the attempts of a single Send.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns 3 retries waiting 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Delay returns the wait before the given attempt. Attempt 0 has no wait.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// Transport posts batches to a collector URL with bounded exponential backoff.
type Transport struct {
	url    string
	client Exchanger
	policy RetryPolicy
	tokens TokenSource
	stats  Stats

	// sleep and now are injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Transport.
type Option func(*Transport)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(t *Transport) { t.policy = p }
}

// WithTokenSource sets the bearer credential source consulted per attempt.
func WithTokenSource(ts TokenSource) Option {
	return func(t *Transport) { t.tokens = ts }
}

// WithStats registers an attempt observer.
func WithStats(s Stats) Option {
	return func(t *Transport) { t.stats = s }
}

// New creates a Transport that posts to url through client.
func New(url string, client Exchanger, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{
		url:    url,
		client: client,
		policy: DefaultRetryPolicy(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send delivers batch, retrying network faults and retryable statuses.
// See the package documentation for the exact outcome/error contract.
func (t *Transport) Send(ctx context.Context, batch types.Batch) (Outcome, error) {
	if batch.Len() == 0 {
		return Outcome{}, ErrEmptyBatch
	}

	body, err := batch.Encode(t.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("transport: encode batch: %w", err)
	}

	var (
		out     Outcome
		resp    *http.Response
		lastErr error
	)
	defer func() { release(resp) }()

	attempts := t.policy.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := t.policy.Delay(i)
			slog.Debug("transport: backing off",
				"batch", batch.ID, "attempt", i+1, "wait", wait, "last_err", lastErr)
			if err := t.sleep(ctx, wait); err != nil {
				return out, &DeliveryError{
					Kind:     ErrInterrupted,
					Attempts: i,
					Err:      errors.Join(lastErr, err),
				}
			}
		}

		release(resp)
		resp = nil

		req, err := t.newRequest(ctx, batch, body)
		if err != nil {
			return out, fmt.Errorf("transport: build request: %w", err)
		}

		out.Attempts = i + 1
		// A credential that cannot be read right now (a refresher mid-swap)
		// counts as a failed attempt like a network fault.
		if err := t.authorize(ctx, req); err != nil {
			lastErr = err
			out.Status = 0
			out.Fault = FaultNetwork
			t.record(FaultNetwork)
			slog.Warn("transport: credential unavailable",
				"batch", batch.ID, "attempt", i+1, "err", err)
			continue
		}

		resp, err = t.client.Do(req)
		if err != nil {
			resp = nil
			lastErr = err
			out.Status = 0
			out.Fault = FaultNetwork
			t.record(FaultNetwork)
			slog.Warn("transport: send failed",
				"batch", batch.ID, "attempt", i+1, "err", err)
			continue
		}

		out.Status = resp.StatusCode
		out.Fault = Classify(resp.StatusCode)
		t.record(out.Fault)

		if out.Fault == FaultNone {
			out.Delivered = true
			slog.Debug("transport: batch delivered",
				"batch", batch.ID, "records", batch.Len(), "attempts", out.Attempts)
			return out, nil
		}
		if !out.Fault.Retryable() {
			slog.Warn("transport: collector rejected batch",
				"batch", batch.ID, "status", out.Status)
			return out, nil
		}

		lastErr = fmt.Errorf("collector returned HTTP %d", resp.StatusCode)
		slog.Warn("transport: retryable response",
			"batch", batch.ID, "attempt", i+1, "status", out.Status, "fault", out.Fault)
	}

	if out.Fault == FaultNetwork {
		return out, &DeliveryError{Kind: ErrNetwork, Attempts: out.Attempts, Err: lastErr}
	}
	return out, nil
}

func (t *Transport) newRequest(ctx context.Context, batch types.Batch, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-Id", batch.ID.String())
	return req, nil
}

// authorize sets the bearer header from the token source, read fresh for
// every attempt.
func (t *Transport) authorize(ctx context.Context, req *http.Request) error {
	if t.tokens == nil {
		return nil
	}
	tok, err := t.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func (t *Transport) record(f Fault) {
	if t.stats != nil {
		t.stats.RecordAttempt(f.String())
	}
}

// release drains and closes a response body so the connection can be reused.
func release(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain)) //nolint:errcheck
	resp.Body.Close()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
