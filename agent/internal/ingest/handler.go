package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/obsidianstack/pulse/agent/internal/buffer"
	"github.com/obsidianstack/pulse/pkg/types"
)

const (
	// maxBodyBytes caps a single POST /v1/events request.
	maxBodyBytes = 1 << 20

	// maxEventsPerRequest caps the array form of POST /v1/events.
	maxEventsPerRequest = 1000

	// flushTimeout bounds a manual flush, which may wait out a full retry cycle.
	flushTimeout = 30 * time.Second
)

// Buffer is the subset of *buffer.Buffer the API needs.
type Buffer interface {
	AppendAll(recs []types.Record) error
	Flush(ctx context.Context) error
	Len() int
}

// EventRequest is one event in a POST /v1/events body.
type EventRequest struct {
	Type   string         `json:"type" validate:"required,max=128"`
	Fields map[string]any `json:"fields"`
}

type acceptedResponse struct {
	Accepted int `json:"accepted"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the ingest API.
type Handler struct {
	buf      Buffer
	metrics  http.Handler
	validate *validator.Validate
	router   chi.Router
}

// New builds the router. metrics may be nil, in which case /metrics is not mounted.
func New(buf Buffer, metrics http.Handler) *Handler {
	h := &Handler{
		buf:      buf,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/events", h.postEvents)
	r.Post("/v1/flush", h.postFlush)
	r.Get("/healthz", h.health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// postEvents handles POST /v1/events.
func (h *Handler) postEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.decodeEvents(w, r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	recs := make([]types.Record, len(events))
	for i, ev := range events {
		recs[i] = types.NewRecord(ev.Type, ev.Fields)
	}
	// A request is buffered whole or not at all, so a client retrying a
	// rejected request cannot duplicate part of it.
	if err := h.buf.AppendAll(recs); err != nil {
		if errors.Is(err, buffer.ErrClosed) {
			jsonErr(w, http.StatusServiceUnavailable, "agent is shutting down")
			return
		}
		slog.Error("ingest: append failed", "count", len(recs), "err", err)
		jsonErr(w, http.StatusInternalServerError, "append failed")
		return
	}

	slog.Debug("ingest: events buffered",
		"count", len(events), "request_id", middleware.GetReqID(r.Context()))
	jsonResp(w, http.StatusAccepted, acceptedResponse{Accepted: len(events)})
}

// postFlush handles POST /v1/flush.
func (h *Handler) postFlush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), flushTimeout)
	defer cancel()

	if err := h.buf.Flush(ctx); err != nil {
		slog.Warn("ingest: manual flush did not deliver", "err", err)
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// health handles GET /healthz.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, healthResponse{Status: "ok", Pending: h.buf.Len()})
}

// decodeEvents accepts either a single object or an array of objects.
func (h *Handler) decodeEvents(w http.ResponseWriter, r *http.Request) ([]EventRequest, error) {
	var raw json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	var events []EventRequest
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("invalid event array: %w", err)
		}
	} else {
		var ev EventRequest
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, fmt.Errorf("invalid event: %w", err)
		}
		events = []EventRequest{ev}
	}

	if len(events) == 0 {
		return nil, errors.New("no events in request")
	}
	if len(events) > maxEventsPerRequest {
		return nil, fmt.Errorf("too many events: %d > %d", len(events), maxEventsPerRequest)
	}
	for i := range events {
		if err := h.validate.Struct(events[i]); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
