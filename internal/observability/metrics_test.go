package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestScenarioCollectorRecordsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}

	collector.SetTopology(10, 30, 20)
	collector.SetHorizon(13 * time.Second)
	collector.IncArtifact("capture")
	collector.IncArtifact("capture")
	collector.IncArtifact("animation")
	collector.AddFlowPackets(60, 58, 2)
	collector.AddEngineEvents(120)
	collector.AddEngineEvents(-5)
	collector.ObserveRun(OutcomeOK, 40*time.Millisecond)

	if got := testutil.ToFloat64(collector.Cells); got != 10 {
		t.Fatalf("scenario_cells = %v, want 10", got)
	}
	if got := testutil.ToFloat64(collector.Horizon); got != 13 {
		t.Fatalf("scenario_sim_horizon_seconds = %v, want 13", got)
	}
	if got := testutil.ToFloat64(collector.Artifacts.WithLabelValues("capture")); got != 2 {
		t.Fatalf("scenario_artifacts_total{kind=capture} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.FlowPackets.WithLabelValues("lost")); got != 2 {
		t.Fatalf("scenario_flow_packets_total{direction=lost} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EngineEvents); got != 120 {
		t.Fatalf("engine_events_total = %v, want 120", got)
	}
	if got := testutil.ToFloat64(collector.Runs.WithLabelValues(OutcomeOK)); got != 1 {
		t.Fatalf("scenario_runs_total{outcome=ok} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "scenario_run_duration_seconds", nil); count != 1 {
		t.Fatalf("scenario_run_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestScenarioCollectorFailedRunSkipsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}

	collector.ObserveRun(OutcomeEngineError, time.Second)
	collector.ObserveRun(OutcomeConfigError, time.Millisecond)

	if got := testutil.ToFloat64(collector.Runs.WithLabelValues(OutcomeEngineError)); got != 1 {
		t.Fatalf("scenario_runs_total{outcome=engine_error} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "scenario_run_duration_seconds", nil); count != 0 {
		t.Fatalf("scenario_run_duration_seconds sample_count = %d, want 0", count)
	}
}

func TestNewScenarioCollectorIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("first NewScenarioCollector: %v", err)
	}
	second, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("second NewScenarioCollector: %v", err)
	}

	first.IncArtifact("capture")
	if got := testutil.ToFloat64(second.Artifacts.WithLabelValues("capture")); got != 1 {
		t.Fatalf("second collector does not share registered metrics, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ScenarioCollector
	c.SetTopology(1, 2, 3)
	c.SetHorizon(time.Second)
	c.IncArtifact("capture")
	c.AddFlowPackets(1, 1, 0)
	c.AddEngineEvents(1)
	c.ObserveRun(OutcomeOK, time.Second)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil collector: %v", err)
	}
}

func TestMetricsHandlerExposesScenarioGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}
	collector.SetTopology(3, 9, 6)
	collector.ObserveRun(OutcomeOK, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"scenario_cells 3",
		"scenario_stations 9",
		"scenario_endpoints 6",
		`scenario_runs_total{outcome="ok"} 1`,
		"scenario_run_duration_seconds_count 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}
	collector.SetTopology(2, 6, 4)

	path := filepath.Join(t.TempDir(), "scenario.prom")
	if err := collector.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "scenario_cells 2") {
		t.Fatalf("textfile missing scenario_cells:\n%s", data)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
