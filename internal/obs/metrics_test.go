package obs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.WriteDone("create", nil)
	m.EventReconciled("update", true)
	m.Reload(errors.New("down"))
	m.Reconnect()
	m.SetLive(true)
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.WriteDone("create", nil)
	m.WriteDone("create", errors.New("boom"))
	m.EventReconciled("update", false)
	m.Reload(nil)
	m.SetLive(true)

	require.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("create", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("update", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.live))
}

func TestMetrics_Instrument(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := m.Instrument(func(*http.Request) string { return "/v1/reports" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/reports", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/reports", "201")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}
