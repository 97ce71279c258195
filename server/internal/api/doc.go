// Package api implements the collector's read-only REST API.
//
// New(store, alerts) returns an http.Handler (a chi router) that serves:
//
//	GET /api/v1/health           status, tracked record IDs, alert count
//	GET /api/v1/stats            batch/record/duplicate counters
//	GET /api/v1/records?limit=N  most recent records, newest first (default 50, max 1000)
//	GET /api/v1/alerts           firing alerts plus those resolved in the last hour
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. JSON types are defined in types.go.
package api
