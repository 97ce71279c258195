// Package ingest is the agent's local HTTP API for producers.
//
// Routes (chi router):
//
//	POST /v1/events   one {"type","fields"} object or an array of them;
//	                  202 {"accepted": n}, 400 on malformed input
//	POST /v1/flush    flush the buffer now (shutdown/suspend hook);
//	                  204 on delivery, 503 when the batch was re-buffered
//	GET  /healthz     {"status": "ok", "pending": n}
//	GET  /metrics     Prometheus text exposition
//
// Appending never waits on the collector; POST /v1/events returns as soon as
// the records are buffered.
package ingest
