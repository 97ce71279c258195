package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric names.
const (
	RecordsAppended   = "pulse_records_appended_total"
	RecordsDelivered  = "pulse_records_delivered_total"
	RecordsRebuffered = "pulse_records_rebuffered_total"
	BatchesDelivered  = "pulse_batches_delivered_total"
	BatchesFailed     = "pulse_batches_failed_total"
	SendAttempts      = "pulse_send_attempts_total"
	PendingRecords    = "pulse_pending_records"
	CertDaysLeft      = "pulse_collector_cert_days_left"
)

// Registry holds the agent's counters. The zero value is not usable; call New.
type Registry struct {
	mu sync.Mutex

	appended   float64
	delivered  float64
	rebuffered float64
	batchesOK  float64
	batchesErr float64
	pending    float64
	certDays   *float64           // nil until the first certificate check
	attempts   map[string]float64 // keyed by result label
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{attempts: make(map[string]float64)}
}

// RecordAppended counts one accepted record.
func (r *Registry) RecordAppended() {
	r.mu.Lock()
	r.appended++
	r.mu.Unlock()
}

// BatchDelivered counts a delivered batch of n records.
func (r *Registry) BatchDelivered(n int) {
	r.mu.Lock()
	r.batchesOK++
	r.delivered += float64(n)
	r.mu.Unlock()
}

// BatchRebuffered counts a failed batch whose n records went back to the buffer.
func (r *Registry) BatchRebuffered(n int) {
	r.mu.Lock()
	r.batchesErr++
	r.rebuffered += float64(n)
	r.mu.Unlock()
}

// SetPending records the current buffer depth.
func (r *Registry) SetPending(n int) {
	r.mu.Lock()
	r.pending = float64(n)
	r.mu.Unlock()
}

// SetCertDaysLeft records the days until the collector certificate expires.
func (r *Registry) SetCertDaysLeft(days float64) {
	r.mu.Lock()
	r.certDays = &days
	r.mu.Unlock()
}

// RecordAttempt counts one exchange with the collector by result.
func (r *Registry) RecordAttempt(result string) {
	r.mu.Lock()
	r.attempts[result]++
	r.mu.Unlock()
}

// Gather returns the current metric families, sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	fams := []*dto.MetricFamily{
		counter(RecordsAppended, "Records accepted into the buffer.", r.appended),
		counter(RecordsDelivered, "Records delivered to the collector.", r.delivered),
		counter(RecordsRebuffered, "Records put back into the buffer after a failed flush.", r.rebuffered),
		counter(BatchesDelivered, "Batches delivered to the collector.", r.batchesOK),
		counter(BatchesFailed, "Batches that were not delivered and were re-buffered.", r.batchesErr),
		gauge(PendingRecords, "Records waiting in the buffer.", r.pending),
	}
	// expfmt refuses families without samples.
	if len(r.attempts) > 0 {
		fams = append(fams, r.attemptFamily())
	}
	if r.certDays != nil {
		fams = append(fams, gauge(CertDaysLeft, "Days until the collector TLS certificate expires.", *r.certDays))
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// WriteText encodes every family in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := r.WriteText(w); err != nil {
			slog.Error("metrics: write failed", "err", err)
		}
	})
}

// attemptFamily builds the labelled attempts counter. Caller holds r.mu.
func (r *Registry) attemptFamily() *dto.MetricFamily {
	results := make([]string, 0, len(r.attempts))
	for k := range r.attempts {
		results = append(results, k)
	}
	sort.Strings(results)

	mf := &dto.MetricFamily{
		Name: proto.String(SendAttempts),
		Help: proto.String("HTTP exchanges with the collector by result."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, res := range results {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String("result"), Value: proto.String(res)}},
			Counter: &dto.Counter{Value: proto.Float64(r.attempts[res])},
		})
	}
	return mf
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}
