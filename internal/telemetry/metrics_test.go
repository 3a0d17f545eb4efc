package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(OutcomeOK, 20*time.Millisecond)
	m.ObserveRun(OutcomeOK, 30*time.Millisecond)
	m.ObserveRun(OutcomeRemoteErr, time.Second)
	m.ObserveTempFiles(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeRemoteErr)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.tempFiles))

	n, err := testutil.GatherAndCount(m.Gatherer(), "ijscript_runs_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMetrics_Push(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gw.Close)

	m := NewMetrics()
	m.ObserveRun(OutcomeOK, time.Millisecond)
	require.NoError(t, m.Push(gw.URL, "ijscript"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/metrics/job/ijscript", path)
	require.True(t, strings.Contains(body, "ijscript_runs_total"))
}

func TestMetrics_PushFailure(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(gw.Close)

	require.Error(t, NewMetrics().Push(gw.URL, "ijscript"))
}
