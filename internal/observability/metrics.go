package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label of scenario_runs_total.
const (
	OutcomeOK          = "ok"
	OutcomeConfigError = "config_error"
	OutcomeEngineError = "engine_error"
)

// ScenarioCollector bundles Prometheus metrics describing scenario runs.
type ScenarioCollector struct {
	gatherer prometheus.Gatherer

	Cells     prometheus.Gauge
	Stations  prometheus.Gauge
	Endpoints prometheus.Gauge
	Horizon   prometheus.Gauge

	Artifacts    *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	FlowPackets  *prometheus.CounterVec
	EngineEvents prometheus.Counter

	RunDuration prometheus.Histogram
}

// NewScenarioCollector registers scenario metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewScenarioCollector(reg prometheus.Registerer) (*ScenarioCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cells, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_cells",
		Help: "Number of access point cells in the last built scenario.",
	}), "scenario_cells")
	if err != nil {
		return nil, err
	}
	stations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_stations",
		Help: "Number of client stations in the last built scenario.",
	}), "scenario_stations")
	if err != nil {
		return nil, err
	}
	endpoints, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_endpoints",
		Help: "Number of traffic endpoints scheduled in the last scenario.",
	}), "scenario_endpoints")
	if err != nil {
		return nil, err
	}
	horizon, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_sim_horizon_seconds",
		Help: "Simulated run horizon of the last scenario, grace interval included.",
	}), "scenario_sim_horizon_seconds")
	if err != nil {
		return nil, err
	}

	artifacts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_artifacts_total",
		Help: "Telemetry artifacts produced, labeled by kind.",
	}, []string{"kind"}), "scenario_artifacts_total")
	if err != nil {
		return nil, err
	}
	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_runs_total",
		Help: "Scenario runs, labeled by outcome.",
	}, []string{"outcome"}), "scenario_runs_total")
	if err != nil {
		return nil, err
	}
	flowPackets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_flow_packets_total",
		Help: "Packets observed by the flow monitor, labeled by direction (tx, rx, lost).",
	}, []string{"direction"}), "scenario_flow_packets_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_events_total",
		Help: "Discrete events executed by the simulation engine.",
	}), "engine_events_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenario_run_duration_seconds",
		Help:    "Wall-clock duration of complete scenario runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}), "scenario_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ScenarioCollector{
		gatherer:     gatherer,
		Cells:        cells,
		Stations:     stations,
		Endpoints:    endpoints,
		Horizon:      horizon,
		Artifacts:    artifacts,
		Runs:         runs,
		FlowPackets:  flowPackets,
		EngineEvents: events,
		RunDuration:  duration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ScenarioCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *ScenarioCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTopology records the size of the built scenario.
func (c *ScenarioCollector) SetTopology(cells, stations, endpoints int) {
	if c == nil {
		return
	}
	c.Cells.Set(float64(cells))
	c.Stations.Set(float64(stations))
	c.Endpoints.Set(float64(endpoints))
}

// SetHorizon records the engine horizon.
func (c *ScenarioCollector) SetHorizon(d time.Duration) {
	if c == nil {
		return
	}
	c.Horizon.Set(d.Seconds())
}

// IncArtifact counts one produced artifact of the given kind.
func (c *ScenarioCollector) IncArtifact(kind string) {
	if c == nil {
		return
	}
	c.Artifacts.WithLabelValues(kind).Inc()
}

// AddFlowPackets adds flow monitor totals.
func (c *ScenarioCollector) AddFlowPackets(tx, rx, lost uint64) {
	if c == nil {
		return
	}
	c.FlowPackets.WithLabelValues("tx").Add(float64(tx))
	c.FlowPackets.WithLabelValues("rx").Add(float64(rx))
	c.FlowPackets.WithLabelValues("lost").Add(float64(lost))
}

// AddEngineEvents counts executed engine events.
func (c *ScenarioCollector) AddEngineEvents(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EngineEvents.Add(float64(n))
}

// ObserveRun records the outcome and, for completed runs, the duration.
func (c *ScenarioCollector) ObserveRun(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		c.RunDuration.Observe(d.Seconds())
	}
}

// WriteTextfile dumps the collector's registry in the text exposition
// format, for node_exporter's textfile collector.
func (c *ScenarioCollector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	g := c.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
