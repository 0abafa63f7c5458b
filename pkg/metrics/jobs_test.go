package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	m.IncSuccess("overdue-sweep")
	m.IncSuccess("overdue-sweep")
	m.IncFailure("overdue-sweep")
	m.IncSkipped("")
	m.AddSweepLoans("flagged", 3)
	m.AddSweepLoans("failed", 0)
	m.ObserveDuration("overdue-sweep", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.success.WithLabelValues("overdue-sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failure.WithLabelValues("overdue-sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.loans.WithLabelValues("flagged")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *JobMetrics
	assert.NotPanics(t, func() {
		m.IncSuccess("job")
		m.IncFailure("job")
		m.IncSkipped("job")
		m.AddSweepLoans("flagged", 1)
		m.ObserveDuration("job", time.Second)
	})

	unregistered := NewJobMetrics(nil)
	assert.NotPanics(t, func() { unregistered.IncSuccess("job") })
}
