// Package receiver implements the collector's batch intake endpoint.
//
// Receiver is an http.Handler for POST /v1/batches. It decodes a batch,
// rejects malformed or empty ones with 400, drops records whose IDs were
// already received within the dedup window, and answers 200 with
// {"accepted": n, "duplicates": m}. Agents deliver at least once, so a
// redelivered batch is normal and still answered with 200.
package receiver
