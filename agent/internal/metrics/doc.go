// Package metrics keeps the agent's delivery counters and exposes them in the
// Prometheus text exposition format.
//
// Registry implements both buffer.Stats and transport.Stats. Families are
// built as client_model dto.MetricFamily values and encoded with
// prometheus/common/expfmt, so any Prometheus-compatible scraper can read
// GET /metrics from the agent's ingest listener.
package metrics
