package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tlsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck_TLSEndpoint(t *testing.T) {
	srv := tlsServer(t)
	leaf := srv.Certificate()

	cs, err := Check(context.Background(), srv.URL+"/v1/batches", true)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/v1/batches", cs.Endpoint)
	assert.Equal(t, leaf.NotAfter.UTC(), cs.NotAfter)
	assert.InDelta(t, time.Until(leaf.NotAfter).Hours()/24, cs.DaysLeft, 0.01)
	// The httptest certificate is valid for decades.
	assert.Equal(t, "valid", cs.Status)
}

func TestCheck_VerifyFailsForUntrustedCert(t *testing.T) {
	srv := tlsServer(t)
	_, err := Check(context.Background(), srv.URL, false)
	assert.Error(t, err)
}

func TestCheck_NotTLS(t *testing.T) {
	_, err := Check(context.Background(), "http://localhost:8080/v1/batches", false)
	assert.ErrorIs(t, err, ErrNotTLS)
}

func TestCheck_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Check(ctx, "https://127.0.0.1:1/", true)
	assert.Error(t, err)
}

func TestMonitor_ReportsAndStops(t *testing.T) {
	srv := tlsServer(t)

	var mu sync.Mutex
	var reports []float64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Monitor(ctx, srv.URL, true, 20*time.Millisecond, func(d float64) {
			mu.Lock()
			reports = append(reports, d)
			mu.Unlock()
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(reports)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(reports), 2)
	assert.Positive(t, reports[0])
}

func TestMonitor_ReturnsForPlainHTTP(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Monitor(context.Background(), "http://localhost:8080", false, time.Hour, func(float64) {
			t.Error("report called for a plain http endpoint")
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return for a plain http endpoint")
	}
}
