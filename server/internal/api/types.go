package api

import "github.com/obsidianstack/pulse/server/internal/alerts"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	TrackedIDs  int    `json:"tracked_ids"`
	AlertCount  int    `json:"alert_count"`
	LastBatchAt string `json:"last_batch_at,omitempty"` // RFC3339
}

// StatsResponse is the payload for GET /api/v1/stats and the data of every
// WebSocket broadcast.
type StatsResponse struct {
	Batches      uint64  `json:"batches"`
	Records      uint64  `json:"records"`
	Duplicates   uint64  `json:"duplicates"`
	DuplicatePct float64 `json:"duplicate_pct"`
	TrackedIDs   int     `json:"tracked_ids"`
	DedupTTL     string  `json:"dedup_ttl"`
	LastBatchAt  string  `json:"last_batch_at,omitempty"` // RFC3339
	GeneratedAt  string  `json:"generated_at"`            // RFC3339
}

// RecordResponse is one entry in GET /api/v1/records and in the WebSocket
// records event.
type RecordResponse struct {
	Seq        uint64         `json:"seq"`
	ID         string         `json:"id"`
	BatchID    string         `json:"batch_id"`
	Type       string         `json:"type"`
	Fields     map[string]any `json:"fields,omitempty"`
	CreatedAt  string         `json:"created_at"`  // RFC3339Nano
	ReceivedAt string         `json:"received_at"` // RFC3339Nano
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
