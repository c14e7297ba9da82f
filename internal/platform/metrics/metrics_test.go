package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvent("pick")
	m.ObserveEvent("pick")
	m.ObserveRejection("insufficient_stock")
	m.ObserveAppend(3 * time.Millisecond)
	m.ObserveScan("malformed")
	m.AddDiscrepancies(4)
	m.IncrementPublishFailures()
	m.SetOpenAuditSessions(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("pick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("malformed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DiscrepanciesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenAuditSessions))

	n, err := testutil.GatherAndCount(reg, "warehouse_ledger_append_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilRecordsNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent("pick")
		m.ObserveRejection("x")
		m.ObserveAppend(time.Second)
		m.ObserveScan("resolved")
		m.AddDiscrepancies(1)
		m.IncrementPublishFailures()
		m.SetOpenAuditSessions(0)
	})
}
