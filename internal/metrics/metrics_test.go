package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.SessionCreated()
	r.SessionsPruned(3)
	r.IssueAdded()
	r.IssueDropped()
	r.LoginAttempt("failure")
	r.Lockout()
	r.DegradedRead("auth")
	r.StorageUsage(10, 1)
	r.EnrichQueueDepth(2)
	r.HTTPRequest("/health", 200, time.Millisecond)
}

// gathered returns the summed sample value of each metric family on reg.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.SessionCreated()
	r.SessionCreated()
	r.LoginAttempt("failure")
	r.LoginAttempt("failure")
	r.LoginAttempt("success")
	r.StorageUsage(2048, 12.5)
	r.SessionsPruned(0)

	got := gathered(t, reg)
	if got["fixhero_session_created_total"] != 2 {
		t.Errorf("sessions created = %v, want 2", got["fixhero_session_created_total"])
	}
	if got["fixhero_auth_login_attempts_total"] != 3 {
		t.Errorf("login attempts = %v, want 3", got["fixhero_auth_login_attempts_total"])
	}
	if got["fixhero_storage_used_percent"] != 12.5 {
		t.Errorf("storage percent = %v, want 12.5", got["fixhero_storage_used_percent"])
	}
	if got["fixhero_session_pruned_total"] != 0 {
		t.Errorf("pruned = %v, want 0", got["fixhero_session_pruned_total"])
	}
}
