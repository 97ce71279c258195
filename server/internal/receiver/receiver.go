package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/obsidianstack/pulse/pkg/types"
	"github.com/obsidianstack/pulse/server/internal/alerts"
	"github.com/obsidianstack/pulse/server/internal/auth"
	"github.com/obsidianstack/pulse/server/internal/store"
)

// DefaultMaxBodyBytes caps a single batch request unless WithMaxBodyBytes
// overrides it.
const DefaultMaxBodyBytes int64 = 64 << 20

// Evaluator is notified after every stored batch. *alerts.Engine satisfies it.
type Evaluator interface {
	Evaluate(obs alerts.Observation)
}

// Receiver is the HTTP handler for POST /v1/batches.
// It validates each incoming batch, drops records it has already seen and
// stores the rest. Authentication is enforced by middleware before this runs.
type Receiver struct {
	store   *store.Store
	alerts  Evaluator
	maxBody int64
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithMaxBodyBytes sets the largest accepted request body. n <= 0 is ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// New creates a Receiver that writes accepted records to st.
// ev may be nil.
func New(st *store.Store, ev Evaluator, opts ...Option) *Receiver {
	r := &Receiver{store: st, alerts: ev, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ServeHTTP handles POST /v1/batches.
//
// 200 with a BatchResponse when the batch was stored (even if every record
// was a duplicate), 400 for malformed or empty batches, 413 when the body is
// over the size limit, 405 for other methods.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var batch types.Batch
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err := dec.Decode(&batch); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			slog.Warn("receiver: batch over size limit",
				"limit", tooBig.Limit,
				"header_batch_id", req.Header.Get("X-Batch-Id"))
			jsonErr(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("batch exceeds %d bytes", tooBig.Limit))
			return
		}
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid batch: %v", err))
		return
	}
	if err := check(batch); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res := r.store.Put(batch)

	agent, _ := auth.AgentFrom(req.Context())
	slog.Debug("receiver: batch stored",
		"batch_id", batch.ID,
		"agent", agent,
		"header_batch_id", req.Header.Get("X-Batch-Id"),
		"records", batch.Len(),
		"accepted", res.Accepted,
		"duplicates", res.Duplicates,
	)
	if res.Duplicates > 0 {
		slog.Info("receiver: redelivered records skipped",
			"batch_id", batch.ID, "duplicates", res.Duplicates)
	}

	if r.alerts != nil {
		st := r.store.Stats()
		r.alerts.Evaluate(alerts.Observation{
			BatchRecords:    batch.Len(),
			BatchDuplicates: res.Duplicates,
			TotalRecords:    st.Records,
			TotalDuplicates: st.Duplicates,
			TrackedIDs:      st.Tracked,
		})
	}

	jsonResp(w, http.StatusOK, types.BatchResponse{
		Accepted:   res.Accepted,
		Duplicates: res.Duplicates,
	})
}

// check rejects batches the store cannot dedup.
func check(b types.Batch) error {
	if b.Len() == 0 {
		return errors.New("batch has no records")
	}
	for i, rec := range b.Records {
		if rec.ID == uuid.Nil {
			return fmt.Errorf("record %d: id is required", i)
		}
		if rec.Type == "" {
			return fmt.Errorf("record %d: type is required", i)
		}
	}
	return nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}
