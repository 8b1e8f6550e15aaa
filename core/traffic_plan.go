package core

import (
	"context"
	"net/netip"

	"github.com/signalsfoundry/wifi-scenario/model"
)

// TrafficPlan attaches one echo responder to every access point and one
// initiator to each active station of the cell.
type TrafficPlan struct {
	profile       TrafficProfile
	timing        Lifecycle
	activeClients int
}

// NewTrafficPlan builds a plan applying profile and timing to every cell.
// activeClients below 1 means one client per cell.
func NewTrafficPlan(profile TrafficProfile, timing Lifecycle, activeClients int) *TrafficPlan {
	if activeClients < 1 {
		activeClients = 1
	}
	return &TrafficPlan{profile: profile, timing: timing, activeClients: activeClients}
}

// Plan derives the endpoints of every cell without touching an engine.
// Pairs are ordered by cell, then by station.
func (p *TrafficPlan) Plan(cells []model.Cell) ([]model.EndpointPair, error) {
	if err := p.profile.validate(); err != nil {
		return nil, err
	}
	if err := p.timing.validate(); err != nil {
		return nil, err
	}

	pairs := make([]model.EndpointPair, 0, len(cells)*p.activeClients)
	for _, cell := range cells {
		if len(cell.Stations) < p.activeClients {
			return nil, configErr("active_clients", ErrInvalidConfig,
				"cell %d has %d stations, %d active clients requested", cell.ID, len(cell.Stations), p.activeClients)
		}
		responder := model.TrafficEndpoint{
			CellID:      cell.ID,
			Role:        model.RoleResponder,
			Node:        cell.AccessPoint,
			Port:        p.profile.Port,
			PayloadSize: p.profile.PayloadSize,
			MaxPackets:  p.profile.MaxPackets,
			Interval:    p.profile.Interval,
			Start:       p.timing.ServerStart,
			Stop:        p.timing.Stop,
		}
		for j := 0; j < p.activeClients; j++ {
			initiator := responder
			initiator.Role = model.RoleInitiator
			initiator.Node = cell.Stations[j]
			initiator.Target = netip.AddrPortFrom(cell.APAddress, p.profile.Port)
			initiator.Start = p.timing.ClientStart
			pairs = append(pairs, model.EndpointPair{Responder: responder, Initiator: initiator})
		}
	}
	return pairs, nil
}

// Attach plans the endpoints and schedules them on the engine. All
// responders are scheduled before any initiator.
func (p *TrafficPlan) Attach(ctx context.Context, engine Engine, cells []model.Cell) ([]model.EndpointPair, error) {
	pairs, err := p.Plan(cells)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(cells))
	for _, pair := range pairs {
		if seen[pair.Responder.CellID] {
			continue
		}
		seen[pair.Responder.CellID] = true
		if err := engine.ScheduleApplication(ctx, pair.Responder); err != nil {
			return nil, engineErr("ScheduleApplication", err)
		}
	}
	for _, pair := range pairs {
		if err := engine.ScheduleApplication(ctx, pair.Initiator); err != nil {
			return nil, engineErr("ScheduleApplication", err)
		}
	}
	return pairs, nil
}

// Endpoints flattens pairs into the distinct endpoints they describe.
func Endpoints(pairs []model.EndpointPair) []model.TrafficEndpoint {
	out := make([]model.TrafficEndpoint, 0, 2*len(pairs))
	seen := make(map[int]bool)
	for _, pair := range pairs {
		if !seen[pair.Responder.CellID] {
			seen[pair.Responder.CellID] = true
			out = append(out, pair.Responder)
		}
		out = append(out, pair.Initiator)
	}
	return out
}
