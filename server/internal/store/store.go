package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/pulse/pkg/types"
)

// Entry is a record together with the time the collector received it.
// Seq numbers accepted records from 1 in arrival order.
type Entry struct {
	Seq        uint64
	Record     types.Record
	BatchID    uuid.UUID
	ReceivedAt time.Time
}

// Result is the outcome of storing one batch.
type Result struct {
	Accepted   int
	Duplicates int
}

// Stats is a point-in-time view of the store counters.
type Stats struct {
	Batches     uint64
	Records     uint64
	Duplicates  uint64
	Tracked     int
	LastBatchAt time.Time
}

// Store is a thread-safe in-memory record store. It remembers every received
// record ID for the dedup TTL, keeps the most recent records in a fixed-size
// ring, and counts batches, records and duplicates.
// A background goroutine (Run) periodically forgets IDs older than the TTL.
type Store struct {
	mu   sync.RWMutex
	seen map[uuid.UUID]time.Time // record ID -> first received
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests

	ring []Entry
	next int // ring write position
	full bool
	seq  uint64

	stats Stats
}

// New creates a Store that remembers IDs for ttl and keeps up to recent
// records for listing. recent < 1 is treated as 1.
func New(ttl time.Duration, recent int) *Store {
	if recent < 1 {
		recent = 1
	}
	return &Store{
		seen: make(map[uuid.UUID]time.Time),
		ttl:  ttl,
		now:  time.Now,
		ring: make([]Entry, recent),
	}
}

// Put stores the records of batch, skipping any record ID already seen
// within the TTL (including repeats inside the same batch).
func (s *Store) Put(batch types.Batch) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.ttl)

	var res Result
	for _, rec := range batch.Records {
		if first, ok := s.seen[rec.ID]; ok && first.After(cutoff) {
			res.Duplicates++
			continue
		}
		s.seen[rec.ID] = now
		s.push(Entry{Record: rec, BatchID: batch.ID, ReceivedAt: now})
		res.Accepted++
	}

	s.stats.Batches++
	s.stats.Records += uint64(res.Accepted)
	s.stats.Duplicates += uint64(res.Duplicates)
	s.stats.LastBatchAt = now
	return res
}

// Seen reports whether id was received within the TTL.
func (s *Store) Seen(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	first, ok := s.seen[id]
	return ok && first.After(s.now().Add(-s.ttl))
}

// Recent returns up to limit of the most recently received records, newest
// first. limit <= 0 returns everything the ring holds.
func (s *Store) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// After returns up to limit records with Seq greater than seq, oldest first.
// When more than limit qualify the newest ones are kept. Records already
// pushed out of the ring are not returned.
func (s *Store) After(seq uint64, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.seq <= seq {
		return nil
	}
	n := int(s.seq - seq)
	size := s.next
	if s.full {
		size = len(s.ring)
	}
	if n > size {
		n = size
	}
	if limit > 0 && n > limit {
		n = limit
	}

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		idx := (s.next - n + i + len(s.ring)) % len(s.ring)
		out[i] = s.ring[idx]
	}
	return out
}

// LastSeq returns the Seq of the most recently accepted record, 0 if none.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Stats returns a copy of the current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Tracked = len(s.seen)
	return st
}

// Count returns the number of record IDs currently tracked, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// TTL returns the configured dedup window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Evict forgets IDs first received at or before now minus TTL.
// It returns the number of IDs removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, first := range s.seen {
		if !first.After(cutoff) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so IDs are forgotten promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted record ids", "count", n)
			}
		}
	}
}

// push appends e to the ring. Caller holds mu.
func (s *Store) push(e Entry) {
	s.seq++
	e.Seq = s.seq
	s.ring[s.next] = e
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
}
