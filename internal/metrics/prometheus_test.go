package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Login("success")
	m.Refresh("success")
	m.Registered()
	m.Provision("success")
	m.PortRetry()
	m.Intent("success", 0.1, true, 10)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Login("failure")
	m.Login("failure")
	m.Intent("success", 0.2, true, 42)
	m.PortRetry()

	if got := testutil.ToFloat64(m.LoginsTotal.WithLabelValues("failure")); got != 2 {
		t.Errorf("logins{failure} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IntentLowConfidence); got != 1 {
		t.Errorf("low confidence = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NLUTokensTotal); got != 42 {
		t.Errorf("nlu tokens = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.PortRetriesTotal); got != 1 {
		t.Errorf("port retries = %v, want 1", got)
	}
}

func TestNew_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	New(reg)
}
