// Package buffer accumulates event records in memory and flushes them to the
// collector in batches.
//
// Append adds a record under a mutex and never waits on the network. When the
// pending count reaches BatchSize a flush is started in the background;
// otherwise the periodic flush timer is armed (once per buffer). The timer
// goroutine wakes every FlushInterval and flushes whatever is pending.
//
// Flush snapshots and clears the whole pending slice, sends it through the
// Sender outside the lock, and on any failure (transport error, terminal 4xx,
// exhausted 5xx) puts the records back at the front of the pending slice, in
// their original order and ahead of anything appended during the send.
// Flushes are serialized so re-buffered records never overtake newer ones.
// Delivery is at-least-once; records are only dropped when the process exits.
//
// Close stops the timer goroutine, waits for in-flight flushes and performs a
// final flush so buffered records are not lost to timer latency at shutdown.
package buffer
