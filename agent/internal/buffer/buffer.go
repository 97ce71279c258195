package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/pulse/agent/internal/transport"
	"github.com/obsidianstack/pulse/pkg/types"
)

// Default thresholds.
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 30 * time.Second
)

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("buffer: closed")
	// ErrUndelivered is wrapped by Flush when a batch was re-buffered.
	ErrUndelivered = errors.New("buffer: batch not delivered")
)

// Sender delivers one batch. *transport.Transport and *transport.Breaker
// satisfy it.
type Sender interface {
	Send(ctx context.Context, batch types.Batch) (transport.Outcome, error)
}

// Stats observes buffer activity. All methods must be safe for concurrent use.
// They may be called with the buffer locked and must not call back into it.
type Stats interface {
	RecordAppended()
	BatchDelivered(records int)
	BatchRebuffered(records int)
	SetPending(n int)
}

// Buffer is an in-memory batching front for a Sender.
// All exported methods are safe for concurrent use.
type Buffer struct {
	sender        Sender
	batchSize     int
	flushInterval time.Duration
	clock         Clock
	stats         Stats

	// mu guards pending, timerArmed, flushQueued and closed. Stats pending
	// updates are made under mu so the gauge follows the slice.
	mu          sync.Mutex
	pending     []types.Record
	timerArmed  bool
	flushQueued bool
	closed      bool

	// flushMu serializes whole flushes; it is never held by Append.
	flushMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithBatchSize sets the pending count that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithFlushInterval sets the period of the background flush timer.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(b *Buffer) { b.clock = c }
}

// WithStats registers an activity observer.
func WithStats(s Stats) Option {
	return func(b *Buffer) { b.stats = s }
}

// New creates a Buffer that delivers through sender.
func New(sender Sender, opts ...Option) *Buffer {
	if sender == nil {
		panic("buffer: nil Sender")
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		sender:        sender,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		clock:         systemClock{},
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds rec to the tail of the pending records. It returns immediately;
// reaching the batch size starts a background flush.
func (b *Buffer) Append(rec types.Record) error {
	return b.AppendAll([]types.Record{rec})
}

// AppendAll adds recs to the tail in order. Either all of them are buffered
// or, after Close, none are and ErrClosed is returned.
func (b *Buffer) AppendAll(recs []types.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if len(recs) == 0 {
		return nil
	}
	b.pending = append(b.pending, recs...)
	n := len(b.pending)

	if b.stats != nil {
		for range recs {
			b.stats.RecordAppended()
		}
		b.stats.SetPending(n)
	}

	if n >= b.batchSize {
		b.queueFlushLocked()
	} else {
		b.armTimerLocked()
	}
	return nil
}

// Flush sends everything pending as one batch. It is a no-op on an empty
// buffer. On failure the records are put back at the front of the buffer and
// an error wrapping ErrUndelivered is returned.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.flushLocked(ctx)
}

// flushLocked does the work of Flush. Caller holds b.flushMu.
func (b *Buffer) flushLocked(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := types.NewBatch(b.pending)
	b.pending = nil
	if b.stats != nil {
		b.stats.SetPending(0)
	}
	b.mu.Unlock()

	out, err := b.sender.Send(ctx, batch)
	if err == nil && out.Delivered {
		if b.stats != nil {
			b.stats.BatchDelivered(batch.Len())
		}
		slog.Debug("buffer: batch delivered",
			"batch", batch.ID, "records", batch.Len(), "attempts", out.Attempts)
		return nil
	}

	n := b.rebuffer(batch.Records)

	if err != nil {
		slog.Warn("buffer: delivery failed, records re-buffered",
			"batch", batch.ID, "records", batch.Len(), "pending", n, "err", err)
		return fmt.Errorf("%w: %w", ErrUndelivered, err)
	}
	slog.Warn("buffer: collector did not accept batch, records re-buffered",
		"batch", batch.ID, "records", batch.Len(), "pending", n,
		"status", out.Status, "fault", out.Fault.String())
	return fmt.Errorf("%w: HTTP %d (%s)", ErrUndelivered, out.Status, out.Fault)
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the flush timer, waits for in-flight flushes, then flushes
// once more with ctx. Append returns ErrClosed afterwards. Records that
// still cannot be delivered remain counted by Len.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	return b.Flush(ctx)
}

// rebuffer puts records back ahead of anything appended since the snapshot.
func (b *Buffer) rebuffer(records []types.Record) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]types.Record, 0, len(records)+len(b.pending))
	merged = append(merged, records...)
	merged = append(merged, b.pending...)
	b.pending = merged
	if b.stats != nil {
		b.stats.BatchRebuffered(len(records))
		b.stats.SetPending(len(merged))
	}
	return len(merged)
}

// queueFlushLocked starts a size-triggered flush unless one is already
// waiting for its turn behind an in-flight flush. Size triggers that arrive
// meanwhile are absorbed by the queued one. Caller holds b.mu.
func (b *Buffer) queueFlushLocked() {
	if b.flushQueued {
		return
	}
	b.flushQueued = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.flushMu.Lock()
		defer b.flushMu.Unlock()

		b.mu.Lock()
		b.flushQueued = false
		b.mu.Unlock()

		if err := b.flushLocked(b.ctx); err != nil {
			slog.Debug("buffer: size-triggered flush failed", "err", err)
		}
	}()
}

// armTimerLocked starts the periodic flush loop once. Caller holds b.mu.
func (b *Buffer) armTimerLocked() {
	if b.timerArmed {
		return
	}
	b.timerArmed = true
	b.wg.Add(1)
	go b.runTimer()
}

// runTimer wakes every flushInterval and flushes pending records. It is
// never disarmed while the buffer is open, even if the buffer stays empty.
func (b *Buffer) runTimer() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.clock.After(b.flushInterval):
		}

		if b.Len() == 0 {
			continue
		}
		if err := b.Flush(b.ctx); err != nil {
			slog.Debug("buffer: timed flush failed", "err", err)
		}
	}
}
