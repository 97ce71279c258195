package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/obsidianstack/pulse/pkg/types"
	"github.com/obsidianstack/pulse/server/internal/alerts"
	"github.com/obsidianstack/pulse/server/internal/api"
	"github.com/obsidianstack/pulse/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newStore(batches ...types.Batch) *store.Store {
	st := store.New(5*time.Minute, 100)
	for _, b := range batches {
		st.Put(b)
	}
	return st
}

func batchOf(typs ...string) types.Batch {
	recs := make([]types.Record, 0, len(typs))
	for _, typ := range typs {
		recs = append(recs, types.NewRecord(typ, map[string]any{"src": "test"}))
	}
	return types.NewBatch(recs)
}

type fixedAlerts []*alerts.Alert

func (f fixedAlerts) Active() []*alerts.Alert { return f }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.TrackedIDs != 0 || resp.LastBatchAt != "" {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_CountsAlerts(t *testing.T) {
	as := fixedAlerts{{RuleName: "r1", State: "firing"}}
	rr := get(t, api.New(newStore(batchOf("a")), as), "/api/v1/health")
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.AlertCount != 1 || resp.TrackedIDs != 1 || resp.LastBatchAt == "" {
		t.Errorf("health: got %+v", resp)
	}
}

// --- /api/v1/stats ----------------------------------------------------------

func TestStats(t *testing.T) {
	b := batchOf("a", "b", "c")
	st := newStore(b)
	st.Put(types.NewBatch(b.Records)) // full redelivery

	rr := get(t, api.New(st, nil), "/api/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp api.StatsResponse
	decode(t, rr, &resp)

	if resp.Batches != 2 || resp.Records != 3 || resp.Duplicates != 3 {
		t.Errorf("counters: got %+v", resp)
	}
	if resp.DuplicatePct != 50 {
		t.Errorf("duplicate_pct: got %v, want 50", resp.DuplicatePct)
	}
	if resp.DedupTTL != "5m0s" {
		t.Errorf("dedup_ttl: got %q, want 5m0s", resp.DedupTTL)
	}
	if resp.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
}

// --- /api/v1/records --------------------------------------------------------

func TestRecords_NewestFirstWithLimit(t *testing.T) {
	st := newStore(batchOf("first", "second", "third"))
	rr := get(t, api.New(st, nil), "/api/v1/records?limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []api.RecordResponse
	decode(t, rr, &resp)

	if len(resp) != 2 {
		t.Fatalf("records: got %d, want 2", len(resp))
	}
	if resp[0].Type != "third" || resp[1].Type != "second" {
		t.Errorf("order: got %q, %q", resp[0].Type, resp[1].Type)
	}
	if resp[0].Seq != 3 || resp[1].Seq != 2 {
		t.Errorf("seq: got %d, %d", resp[0].Seq, resp[1].Seq)
	}
	if resp[0].Fields["src"] != "test" || resp[0].ID == "" || resp[0].BatchID == "" {
		t.Errorf("record: got %+v", resp[0])
	}
}

func TestRecords_DefaultLimit(t *testing.T) {
	rr := get(t, api.New(newStore(batchOf("a", "b")), nil), "/api/v1/records")
	var resp []api.RecordResponse
	decode(t, rr, &resp)
	if len(resp) != 2 {
		t.Errorf("records: got %d, want 2", len(resp))
	}
}

func TestRecords_EmptyStoreReturnsEmptyArray(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/records")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestRecords_BadLimit(t *testing.T) {
	h := api.New(newStore(), nil)
	for _, q := range []string{"limit=0", "limit=-3", "limit=abc"} {
		if rr := get(t, h, "/api/v1/records?"+q); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rr.Code)
		}
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts(t *testing.T) {
	as := fixedAlerts{{RuleName: "high-duplicates", Severity: "warning", State: "firing"}}
	rr := get(t, api.New(newStore(), as), "/api/v1/alerts")

	var resp struct {
		Alerts []map[string]interface{} `json:"alerts"`
	}
	decode(t, rr, &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0]["rule_name"] != "high-duplicates" {
		t.Errorf("alerts: got %+v", resp.Alerts)
	}
}

func TestAlerts_NilSource(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/alerts")
	var resp struct {
		Alerts []interface{} `json:"alerts"`
	}
	decode(t, rr, &resp)
	if resp.Alerts == nil || len(resp.Alerts) != 0 {
		t.Errorf("alerts: got %v, want empty array", resp.Alerts)
	}
}

// --- routing ----------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/stats", "/api/v1/records", "/api/v1/alerts"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}

func TestUnknownPath(t *testing.T) {
	if rr := get(t, api.New(newStore(), nil), "/api/v1/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}
