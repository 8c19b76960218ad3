package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestManagerRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(WithRegistry(reg), WithNamespace("t"))

	m.ObserveCycle(ResultOK, 200*time.Millisecond)
	m.ObserveCycle(ResultUpstream, time.Second)
	m.ObserveCycle(ResultOK, time.Second)
	m.SolveEvent()
	m.NotifyFailure(StageReact)
	m.SetTracked(3, 7)
	m.SetPhase("notifying")

	if v := gatherValue(t, reg, "t_cycles_total", map[string]string{"result": ResultOK}); v != 2 {
		t.Fatalf("ok cycles = %v, want 2", v)
	}
	if v := gatherValue(t, reg, "t_cycle_duration_seconds", nil); v != 3 {
		t.Fatalf("duration samples = %v, want 3", v)
	}
	if v := gatherValue(t, reg, "t_solve_events_total", nil); v != 1 {
		t.Fatalf("solve events = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "t_notify_failures_total", map[string]string{"stage": StageReact}); v != 1 {
		t.Fatalf("react failures = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "t_tracked_users", nil); v != 7 {
		t.Fatalf("tracked users = %v, want 7", v)
	}
	if v := gatherValue(t, reg, "t_phase", map[string]string{"phase": "notifying"}); v != 1 {
		t.Fatalf("notifying phase = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "t_phase", map[string]string{"phase": "idle"}); v != 0 {
		t.Fatalf("idle phase = %v, want 0", v)
	}
	if v := gatherValue(t, reg, "t_last_success_timestamp_seconds", nil); v <= 0 {
		t.Fatalf("last success not set")
	}
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	m.ObserveCycle(ResultOK, time.Second)
	m.SolveEvent()
	m.NotifyFailure(StageSend)
	m.SetTracked(1, 1)
	m.SetPhase("idle")
	if m.Registry() != nil {
		t.Fatalf("nil manager returned a registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewManager()
	m.SolveEvent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "simlog_solve_events_total 1") {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}
