package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("stock_flags_refresh").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock_flags_refresh").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock_flags_refresh", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock_flags_refresh", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stock_flags_refresh")))
}

func TestFlagGaugesAndPrunedCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetFlagCounts(3, 1)
	m.AddPrunedKeys(5)
	m.AddPrunedKeys(-1)

	require.Equal(t, 3.0, testutil.ToFloat64(m.lowStock))
	require.Equal(t, 1.0, testutil.ToFloat64(m.expired))
	require.Equal(t, 5.0, testutil.ToFloat64(m.pruned))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.SetFlagCounts(1, 1)
	m.AddPrunedKeys(1)
}
