package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parse decodes the text exposition the same way a scraper would.
func parse(t *testing.T, data []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	require.NoError(t, err)
	return mfs
}

func value(mf *dto.MetricFamily) float64 {
	m := mf.GetMetric()[0]
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRegistry_WriteText(t *testing.T) {
	r := New()
	for i := 0; i < 12; i++ {
		r.RecordAppended()
	}
	r.BatchDelivered(10)
	r.BatchRebuffered(2)
	r.SetPending(2)
	r.RecordAttempt("server")
	r.RecordAttempt("server")
	r.RecordAttempt("ok")

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	mfs := parse(t, buf.Bytes())

	assert.Equal(t, 12.0, value(mfs[RecordsAppended]))
	assert.Equal(t, 10.0, value(mfs[RecordsDelivered]))
	assert.Equal(t, 2.0, value(mfs[RecordsRebuffered]))
	assert.Equal(t, 1.0, value(mfs[BatchesDelivered]))
	assert.Equal(t, 1.0, value(mfs[BatchesFailed]))
	assert.Equal(t, 2.0, value(mfs[PendingRecords]))
	assert.Equal(t, dto.MetricType_GAUGE, mfs[PendingRecords].GetType())

	attempts := mfs[SendAttempts]
	require.NotNil(t, attempts)
	byResult := map[string]float64{}
	for _, m := range attempts.GetMetric() {
		byResult[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"ok": 1, "server": 2}, byResult)
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.RecordAppended()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	mfs := parse(t, rec.Body.Bytes())
	assert.Equal(t, 1.0, value(mfs[RecordsAppended]))
}

func TestRegistry_GatherSorted(t *testing.T) {
	fams := New().Gather()
	for i := 1; i < len(fams); i++ {
		assert.Less(t, fams[i-1].GetName(), fams[i].GetName())
	}
}

func TestRegistry_CertDaysLeftOnlyAfterCheck(t *testing.T) {
	r := New()
	for _, mf := range r.Gather() {
		assert.NotEqual(t, CertDaysLeft, mf.GetName())
	}

	r.SetCertDaysLeft(42.5)
	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	mfs := parse(t, buf.Bytes())
	assert.Equal(t, 42.5, value(mfs[CertDaysLeft]))
}
