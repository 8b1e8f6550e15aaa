package core

import (
	"context"
	"net/netip"
	"time"

	"github.com/signalsfoundry/wifi-scenario/model"
)

// Engine is the discrete-event network simulator the scenario is built on.
// Propagation, MAC behaviour, routing, the event clock and the on-disk
// artifact formats all live behind it.
//
// Handles returned by the engine are only meaningful to the engine that
// issued them. An Engine instance hosts exactly one scenario.
type Engine interface {
	// CreateNodes creates n bare nodes.
	CreateNodes(ctx context.Context, n int) ([]model.NodeID, error)
	// CreateChannel returns a fresh channel instance that shares no medium
	// with any other channel.
	CreateChannel(ctx context.Context) (model.ChannelID, error)
	// CreateDeviceGroup installs one wireless device per node on channel.
	// networkName binds stations to the access point serving that name.
	CreateDeviceGroup(ctx context.Context, channel model.ChannelID, role model.DeviceRole, networkName string, nodes []model.NodeID) ([]model.DeviceID, error)
	InstallTransportStack(ctx context.Context, nodes []model.NodeID) error
	// AllocateAddresses assigns host addresses from subnet to devices in
	// order and returns them index-aligned with devices.
	AllocateAddresses(ctx context.Context, subnet model.SubnetDescriptor, devices []model.DeviceID) ([]netip.Addr, error)
	ScheduleApplication(ctx context.Context, endpoint model.TrafficEndpoint) error
	SetConstantPosition(ctx context.Context, node model.NodeID, pos model.Position) error

	EnableCapture(ctx context.Context, device model.DeviceID, name string) error
	EnableAnimation(ctx context.Context, name string, maxPacketsPerFile int) error
	EnableFlowMonitor(ctx context.Context) error

	// RunUntil hands control to the engine's event loop and returns once
	// simulated time reaches horizon.
	RunUntil(ctx context.Context, horizon time.Duration) error
	// CollectFlowStatistics writes the flow summary artifact called name and
	// returns its contents. Only valid after RunUntil.
	CollectFlowStatistics(ctx context.Context, name string) (*model.FlowSummary, error)
	// Destroy releases every engine resource.
	Destroy(ctx context.Context) error
}
