// Package types defines the wire types shared by the agent and the collector.
// These are the canonical in-memory representations of event records and the
// batches that carry them, together with their JSON encoding.
package types
