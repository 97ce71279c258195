package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/pulse/agent/internal/buffer"
	"github.com/obsidianstack/pulse/agent/internal/metrics"
	"github.com/obsidianstack/pulse/agent/internal/transport"
	"github.com/obsidianstack/pulse/pkg/types"
)

// fakeBuffer records appended records and returns scripted errors.
type fakeBuffer struct {
	mu        sync.Mutex
	records   []types.Record
	appendErr error
	flushErr  error
	flushes   int
}

func (f *fakeBuffer) AppendAll(recs []types.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeBuffer) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func (f *fakeBuffer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostEvents_Single(t *testing.T) {
	buf := &fakeBuffer{}
	h := New(buf, nil)

	rec := do(t, h, http.MethodPost, "/v1/events", `{"type":"impression","fields":{"ad":"a-17","slot":2}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp acceptedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Accepted)

	require.Len(t, buf.records, 1)
	assert.Equal(t, "impression", buf.records[0].Type)
	assert.Equal(t, "a-17", buf.records[0].Fields["ad"])
}

func TestPostEvents_ArrayPreservesOrder(t *testing.T) {
	buf := &fakeBuffer{}
	h := New(buf, nil)

	rec := do(t, h, http.MethodPost, "/v1/events",
		`[{"type":"impression","fields":{"n":1}},{"type":"click","fields":{"n":2}},{"type":"impression","fields":{"n":3}}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, buf.records, 3)
	assert.Equal(t, []string{"impression", "click", "impression"},
		[]string{buf.records[0].Type, buf.records[1].Type, buf.records[2].Type})
}

func TestPostEvents_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"fields":{"a":1}}`},
		{"empty array", `[]`},
		{"array with invalid member", `[{"type":"ok"},{"type":""}]`},
		{"wrong shape", `"impression"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := &fakeBuffer{}
			rec := do(t, New(buf, nil), http.MethodPost, "/v1/events", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, buf.records)
		})
	}
}

func TestPostEvents_ClosedBuffer(t *testing.T) {
	buf := &fakeBuffer{appendErr: buffer.ErrClosed}
	rec := do(t, New(buf, nil), http.MethodPost, "/v1/events", `{"type":"impression"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// nopSender accepts every batch.
type nopSender struct{}

func (nopSender) Send(context.Context, types.Batch) (transport.Outcome, error) {
	return transport.Outcome{Status: http.StatusOK, Delivered: true, Attempts: 1}, nil
}

func TestPostEvents_ClosedRealBufferTakesNothing(t *testing.T) {
	buf := buffer.New(nopSender{})
	require.NoError(t, buf.Close(context.Background()))

	body := `[{"type":"a"},{"type":"b"},{"type":"c"}]`
	rec := do(t, New(buf, nil), http.MethodPost, "/v1/events", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, buf.Len(), "a rejected request must leave nothing buffered")
}

func TestPostEvents_RealBufferTakesWholeArray(t *testing.T) {
	buf := buffer.New(nopSender{}, buffer.WithBatchSize(100))
	t.Cleanup(func() { buf.Close(context.Background()) }) //nolint:errcheck

	body := `[{"type":"a"},{"type":"b"},{"type":"c"}]`
	rec := do(t, New(buf, nil), http.MethodPost, "/v1/events", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":3}`, rec.Body.String())
	assert.Equal(t, 3, buf.Len())
}

func TestPostFlush(t *testing.T) {
	buf := &fakeBuffer{}
	h := New(buf, nil)

	rec := do(t, h, http.MethodPost, "/v1/flush", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, buf.flushes)

	buf.flushErr = errors.New("buffer: batch not delivered: HTTP 503 (server)")
	rec = do(t, h, http.MethodPost, "/v1/flush", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTP 503")
}

func TestHealth(t *testing.T) {
	buf := &fakeBuffer{records: make([]types.Record, 4)}
	rec := do(t, New(buf, nil), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Pending)
}

func TestMetricsMounted(t *testing.T) {
	reg := metrics.New()
	reg.RecordAppended()

	rec := do(t, New(&fakeBuffer{}, reg.Handler()), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.RecordsAppended+" 1")

	rec = do(t, New(&fakeBuffer{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, New(&fakeBuffer{}, nil), http.MethodGet, "/v1/events", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
