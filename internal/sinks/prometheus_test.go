package sinks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg, PrometheusConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleRun()))
	ok := sampleRun()
	ok.Outcomes = []renew.Outcome{{Status: renew.StatusAlreadyRenewed, ServerID: "def456"}}
	require.NoError(t, sink.Consume(context.Background(), ok))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsTotal.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomesTotal.WithLabelValues("no_button_found")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.serverRenewed.WithLabelValues("abc123")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.serverRenewed.WithLabelValues("def456")))
	require.Equal(t, float64(ok.FinishedAt.Unix()), testutil.ToFloat64(sink.lastRunSeconds))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "weirdhost_run_duration_seconds"))

	require.NoError(t, sink.Close(context.Background()), "no push gateway configured")
}

func TestPrometheusSinkGlobalOutcomeHasNoServerGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry(), PrometheusConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), renew.Run{
		Outcomes: []renew.Outcome{{Status: renew.StatusNoAuth}},
	}))
	require.Equal(t, 0, testutil.CollectAndCount(sink.serverRenewed))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomesTotal.WithLabelValues("no_auth")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg, PrometheusConfig{}, nil)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg, PrometheusConfig{}, nil)
	require.Error(t, err)
}

func TestPrometheusSinkPushesOnClose(t *testing.T) {
	t.Parallel()

	var (
		pushes atomic.Int32
		path   atomic.Value
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	sink, err := NewPrometheusSink(prometheus.NewRegistry(), PrometheusConfig{PushURL: gateway.URL}, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), sampleRun()))
	require.NoError(t, sink.Close(context.Background()))

	require.Equal(t, int32(1), pushes.Load())
	require.True(t, strings.HasSuffix(path.Load().(string), "/job/weirdhost_renewer"))
}

func TestPrometheusSinkPushFailure(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	sink, err := NewPrometheusSink(prometheus.NewRegistry(), PrometheusConfig{PushURL: gateway.URL, Job: "renewer"}, nil)
	require.NoError(t, err)
	require.Error(t, sink.Close(context.Background()))
}
