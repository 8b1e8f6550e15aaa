package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/wifi-scenario/model"
)

const (
	// GraceInterval lets in-flight flow statistics settle after the last
	// application stops. Only the engine horizon is extended.
	GraceInterval = 3 * time.Second
	// MaxPacketsPerTraceFile caps packet records in the animation trace.
	MaxPacketsPerTraceFile = 1_000_000
)

// CaptureName is the artifact name of cell cellID's access point capture.
func CaptureName(scenario string, cellID int) string { return fmt.Sprintf("%s_%d", scenario, cellID) }

// AnimationName is the artifact name of the animation trace.
func AnimationName(scenario string) string { return scenario + "_anim" }

// FlowSummaryName is the artifact name of the flow statistics summary.
func FlowSummaryName(scenario string) string { return scenario + "_flows" }

// Registration is what a TelemetryPlan registered on an engine.
type Registration struct {
	Artifacts []model.TelemetryArtifact
	Horizon   time.Duration

	flowSummary string
}

// TelemetryPlan declares captures, the animation trace and the flow summary.
// A disabled plan registers nothing and leaves the horizon untouched.
type TelemetryPlan struct {
	scenario string
	enabled  bool
}

// NewTelemetryPlan returns a plan naming its artifacts after scenario.
func NewTelemetryPlan(scenario string, enabled bool) *TelemetryPlan {
	return &TelemetryPlan{scenario: scenario, enabled: enabled}
}

// Enabled reports whether detailed tracing is on.
func (p *TelemetryPlan) Enabled() bool { return p.enabled }

// Horizon returns the engine run horizon for a given application stop time.
func (p *TelemetryPlan) Horizon(stop time.Duration) time.Duration {
	if !p.enabled {
		return stop
	}
	return stop + GraceInterval
}

// Declare lists the artifacts the plan would produce for cells.
func (p *TelemetryPlan) Declare(cells []model.Cell) []model.TelemetryArtifact {
	if !p.enabled {
		return nil
	}
	out := make([]model.TelemetryArtifact, 0, len(cells)+2)
	for _, cell := range cells {
		out = append(out, model.TelemetryArtifact{
			Kind:   model.ArtifactCapture,
			Target: model.CellTarget(cell.ID),
			Name:   CaptureName(p.scenario, cell.ID),
		})
	}
	out = append(out,
		model.TelemetryArtifact{Kind: model.ArtifactAnimation, Target: model.GlobalTarget, Name: AnimationName(p.scenario)},
		model.TelemetryArtifact{Kind: model.ArtifactFlowSummary, Target: model.GlobalTarget, Name: FlowSummaryName(p.scenario)},
	)
	return out
}

// Register installs collectors on the engine. It must run before the
// engine is started.
func (p *TelemetryPlan) Register(ctx context.Context, engine Engine, cells []model.Cell, stop time.Duration) (*Registration, error) {
	reg := &Registration{Horizon: p.Horizon(stop)}
	if !p.enabled {
		return reg, nil
	}

	for _, cell := range cells {
		if err := engine.EnableCapture(ctx, cell.APDevice, CaptureName(p.scenario, cell.ID)); err != nil {
			return nil, engineErr("EnableCapture", err)
		}
	}

	for _, cell := range cells {
		if err := engine.SetConstantPosition(ctx, cell.AccessPoint, cell.Placement.Anchor); err != nil {
			return nil, engineErr("SetConstantPosition", err)
		}
		for j, sta := range cell.Stations {
			if err := engine.SetConstantPosition(ctx, sta, cell.StationPositions[j]); err != nil {
				return nil, engineErr("SetConstantPosition", err)
			}
		}
	}
	if err := engine.EnableAnimation(ctx, AnimationName(p.scenario), MaxPacketsPerTraceFile); err != nil {
		return nil, engineErr("EnableAnimation", err)
	}

	if err := engine.EnableFlowMonitor(ctx); err != nil {
		return nil, engineErr("EnableFlowMonitor", err)
	}

	reg.Artifacts = p.Declare(cells)
	reg.flowSummary = FlowSummaryName(p.scenario)
	return reg, nil
}

// Finalize asks the engine for the flow summary. It is a no-op when the
// plan is disabled.
func (p *TelemetryPlan) Finalize(ctx context.Context, engine Engine, reg *Registration) (*model.FlowSummary, error) {
	if reg == nil || reg.flowSummary == "" {
		return nil, nil
	}
	summary, err := engine.CollectFlowStatistics(ctx, reg.flowSummary)
	if err != nil {
		return nil, engineErr("CollectFlowStatistics", err)
	}
	return summary, nil
}
