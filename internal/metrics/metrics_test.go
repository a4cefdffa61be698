package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCreditCheck(OutcomeAllowed)
		m.RecordBillingRequest("check_credits", "ok", time.Millisecond)
		m.RecordFragment()
		m.RecordStream("ok", time.Second)
		m.SetSessions(3)
	})
}

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCreditCheck(OutcomeAllowed)
	m.RecordCreditCheck(OutcomeDenied)
	m.RecordCreditCheck(OutcomeDenied)
	m.RecordFragment()
	m.SetSessions(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CreditChecksTotal.WithLabelValues(OutcomeAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CreditChecksTotal.WithLabelValues(OutcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionFragmentTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))
}
