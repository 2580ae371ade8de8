package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobSubmitted("accepted")
	m.JobSubmitted("accepted")
	m.JobSubmitted("duplicate")
	m.Row(RowProcessed)
	m.Row(RowDuplicate)
	m.Suggestion("rule_exact", true)
	m.ReconciliationAttached("ofx")
	m.Requeued()
	m.Retried()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rows.WithLabelValues(RowProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.suggestions.WithLabelValues("rule_exact", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attachments.WithLabelValues("ofx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reaperRequeued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueRetries))
}

func TestMetrics_JobStarted(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.JobStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))

	done("completed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted("accepted")
		m.JobStarted()("failed")
		m.Row(RowSkipped)
		m.Suggestion("none", false)
		m.ReconciliationAttached("csv")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Row(RowSkipped)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `importer_rows_total{outcome="skipped"} 1`))
}
