package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/obsidianstack/pulse/server/internal/alerts"
	"github.com/obsidianstack/pulse/server/internal/store"
)

const (
	defaultRecordsLimit = 50
	maxRecordsLimit     = 1000
)

// AlertSource lists active and recently resolved alerts. *alerts.Engine satisfies it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads collector state from the record store and returns JSON responses.
type Handler struct {
	store  *store.Store
	alerts AlertSource
	router chi.Router
}

// New creates a Handler wired to the given store and registers all routes.
// as may be nil, in which case /api/v1/alerts returns an empty list.
func New(st *store.Store, as AlertSource) *Handler {
	h := &Handler{store: st, alerts: as}

	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/stats", h.stats)
		r.Get("/records", h.records)
		r.Get("/alerts", h.listAlerts)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	s := h.store.Stats()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		TrackedIDs:  s.Tracked,
		AlertCount:  len(h.activeAlerts()),
		LastBatchAt: formatTime(s.LastBatchAt, time.RFC3339),
	})
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildStats(h.store))
}

// records returns GET /api/v1/records?limit=N, newest first.
func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecordsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxRecordsLimit {
		limit = maxRecordsLimit
	}

	jsonResp(w, http.StatusOK, BuildRecords(h.store.Recent(limit)))
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: h.activeAlerts()})
}

// --- helpers ----------------------------------------------------------------

// BuildStats assembles the stats payload shared by the REST API and the
// WebSocket hub.
func BuildStats(st *store.Store) StatsResponse {
	s := st.Stats()
	resp := StatsResponse{
		Batches:     s.Batches,
		Records:     s.Records,
		Duplicates:  s.Duplicates,
		TrackedIDs:  s.Tracked,
		DedupTTL:    st.TTL().String(),
		LastBatchAt: formatTime(s.LastBatchAt, time.RFC3339),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if total := s.Records + s.Duplicates; total > 0 {
		resp.DuplicatePct = float64(s.Duplicates) / float64(total) * 100
	}
	return resp
}

// BuildRecords converts store entries to their API form, keeping order.
func BuildRecords(entries []store.Entry) []RecordResponse {
	out := make([]RecordResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, RecordResponse{
			Seq:        e.Seq,
			ID:         e.Record.ID.String(),
			BatchID:    e.BatchID.String(),
			Type:       e.Record.Type,
			Fields:     e.Record.Fields,
			CreatedAt:  formatTime(e.Record.CreatedAt, time.RFC3339Nano),
			ReceivedAt: formatTime(e.ReceivedAt, time.RFC3339Nano),
		})
	}
	return out
}

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.alerts == nil {
		return []*alerts.Alert{}
	}
	return h.alerts.Active()
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
