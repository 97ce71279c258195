// Package store holds what the collector has received: a TTL-bounded set of
// record IDs for dedup, a ring of the most recent records, and counters.
package store
