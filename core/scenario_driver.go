package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/internal/observability"
	"github.com/signalsfoundry/wifi-scenario/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsRecorder receives scenario metrics from the driver. It is
// satisfied by *observability.ScenarioCollector.
type MetricsRecorder interface {
	SetTopology(cells, stations, endpoints int)
	SetHorizon(d time.Duration)
	IncArtifact(kind string)
	AddFlowPackets(tx, rx, lost uint64)
	ObserveRun(outcome string, d time.Duration)
}

// Result is everything a completed scenario produced.
type Result struct {
	RunID     string                    `yaml:"run_id"`
	Name      string                    `yaml:"name"`
	Horizon   time.Duration             `yaml:"horizon"`
	Cells     []model.Cell              `yaml:"cells"`
	Pairs     []model.EndpointPair      `yaml:"pairs"`
	Artifacts []model.TelemetryArtifact `yaml:"artifacts"`
	Flows     *model.FlowSummary        `yaml:"-"`
}

// Option configures a ScenarioDriver.
type Option func(*ScenarioDriver)

// WithLogger sets the driver logger. Defaults to logging.Noop().
func WithLogger(l logging.Logger) Option { return func(d *ScenarioDriver) { d.log = l } }

// WithMetrics records topology, artifact and run metrics on m.
func WithMetrics(m MetricsRecorder) Option { return func(d *ScenarioDriver) { d.metrics = m } }

// WithRand overrides the placement source. By default each run seeds a
// fresh source from Config.Seed.
func WithRand(r *rand.Rand) Option { return func(d *ScenarioDriver) { d.rng = r } }

// WithTracer overrides the tracer phase spans are opened on.
func WithTracer(t trace.Tracer) Option { return func(d *ScenarioDriver) { d.tracer = t } }

// ScenarioDriver composes the allocator, topology, traffic and telemetry
// plans into one run on a single engine.
type ScenarioDriver struct {
	engine  Engine
	log     logging.Logger
	metrics MetricsRecorder
	rng     *rand.Rand
	tracer  trace.Tracer
}

// NewScenarioDriver returns a driver running scenarios on engine.
func NewScenarioDriver(engine Engine, opts ...Option) *ScenarioDriver {
	d := &ScenarioDriver{engine: engine}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.Noop()
	}
	if d.tracer == nil {
		d.tracer = observability.Tracer()
	}
	return d
}

// Run builds the scenario, runs the engine to the horizon and collects
// telemetry. Configuration errors are returned before the engine is
// touched; engine failures abort the run and no result is returned.
func (d *ScenarioDriver) Run(ctx context.Context, cfg Config) (*Result, error) {
	return d.execute(ctx, cfg, true)
}

// Plan builds the scenario and registers telemetry on the engine without
// running it.
func (d *ScenarioDriver) Plan(ctx context.Context, cfg Config) (*Result, error) {
	return d.execute(ctx, cfg, false)
}

func (d *ScenarioDriver) execute(ctx context.Context, cfg Config, run bool) (*Result, error) {
	start := time.Now()
	ctx, runID, log := logging.WithRunLogger(ctx, d.log)

	op := "scenario.plan"
	if run {
		op = "scenario.run"
	}
	ctx, span := d.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("scenario", cfg.Name),
		attribute.Int("access_points", cfg.AccessPoints),
		attribute.Int("stations_per_ap", cfg.StationsPerAP),
	))
	defer span.End()

	res, err := d.buildAndRun(ctx, cfg, run, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := observability.OutcomeEngineError
		if IsConfigurationError(err) {
			outcome = observability.OutcomeConfigError
		}
		if run && d.metrics != nil {
			d.metrics.ObserveRun(outcome, time.Since(start))
		}
		log.Error(ctx, "scenario aborted", logging.String("outcome", outcome), logging.Err(err))
		return nil, err
	}
	res.RunID = runID

	if run && d.metrics != nil {
		d.metrics.ObserveRun(observability.OutcomeOK, time.Since(start))
	}
	log.Info(ctx, "scenario complete",
		logging.Int("cells", len(res.Cells)),
		logging.Int("artifacts", len(res.Artifacts)),
		logging.Duration("horizon", res.Horizon),
		logging.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (d *ScenarioDriver) buildAndRun(ctx context.Context, cfg Config, run bool, log logging.Logger) (res *Result, err error) {
	if d.engine == nil {
		return nil, errors.New("scenario driver has no engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alloc, err := cfg.allocator()
	if err != nil {
		return nil, err
	}
	rng := d.rng
	if rng == nil {
		rng = NewSeededRand(cfg.Seed)
	}

	// From here on the engine holds resources; release them on every path.
	defer func() {
		if derr := d.engine.Destroy(ctx); derr != nil {
			if err == nil {
				res, err = nil, engineErr("Destroy", derr)
				return
			}
			log.Warn(ctx, "engine destroy after failed run", logging.Err(derr))
		}
	}()

	res = &Result{Name: cfg.Name}
	builder := NewTopologyBuilder(d.engine, alloc, rng, log)
	if err := d.phase(ctx, "topology.build", func(ctx context.Context) error {
		cells, err := builder.Build(ctx, cfg.AccessPoints, cfg.StationsPerAP)
		res.Cells = cells
		return err
	}); err != nil {
		return nil, err
	}

	traffic := NewTrafficPlan(cfg.Traffic, cfg.Timing, cfg.ActiveClients)
	if err := d.phase(ctx, "traffic.attach", func(ctx context.Context) error {
		pairs, err := traffic.Attach(ctx, d.engine, res.Cells)
		res.Pairs = pairs
		return err
	}); err != nil {
		return nil, err
	}

	telemetry := NewTelemetryPlan(cfg.Name, cfg.DetailedTrace)
	var reg *Registration
	if err := d.phase(ctx, "telemetry.register", func(ctx context.Context) error {
		r, err := telemetry.Register(ctx, d.engine, res.Cells, cfg.Timing.Stop)
		reg = r
		return err
	}); err != nil {
		return nil, err
	}
	res.Horizon = reg.Horizon

	if d.metrics != nil {
		d.metrics.SetTopology(len(res.Cells), len(res.Cells)*cfg.StationsPerAP, len(Endpoints(res.Pairs)))
		d.metrics.SetHorizon(res.Horizon)
	}
	log.Info(ctx, "scenario built",
		logging.Int("cells", len(res.Cells)),
		logging.Int("stations_per_ap", cfg.StationsPerAP),
		logging.Int("flows", len(res.Pairs)),
		logging.Duration("stop", cfg.Timing.Stop),
		logging.Duration("horizon", res.Horizon),
		logging.Any("detailed_trace", telemetry.Enabled()),
	)

	if !run {
		res.Artifacts = reg.Artifacts
		return res, nil
	}

	if err := d.phase(ctx, "engine.run", func(ctx context.Context) error {
		return engineErr("RunUntil", d.engine.RunUntil(ctx, res.Horizon))
	}); err != nil {
		return nil, err
	}

	if err := d.phase(ctx, "telemetry.finalize", func(ctx context.Context) error {
		flows, err := telemetry.Finalize(ctx, d.engine, reg)
		res.Flows = flows
		return err
	}); err != nil {
		return nil, err
	}
	res.Artifacts = reg.Artifacts

	if d.metrics != nil {
		for _, a := range res.Artifacts {
			d.metrics.IncArtifact(string(a.Kind))
		}
		d.metrics.AddFlowPackets(res.Flows.Totals())
	}
	return res, nil
}

func (d *ScenarioDriver) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
