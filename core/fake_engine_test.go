package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/signalsfoundry/wifi-scenario/model"
)

// recordingEngine is an in-memory Engine that records every call in order
// and hands out sequential handles. failOn makes the named call fail.
type recordingEngine struct {
	calls []string

	nodes    model.NodeID
	channels model.ChannelID
	devices  model.DeviceID
	hosts    map[netip.Prefix]int

	apps      []model.TrafficEndpoint
	positions map[model.NodeID]model.Position
	captures  []string
	anim      string
	animMax   int
	horizon   time.Duration
	destroyed int

	failOn  string
	failErr error
	summary *model.FlowSummary
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{
		hosts:     make(map[netip.Prefix]int),
		positions: make(map[model.NodeID]model.Position),
	}
}

func (e *recordingEngine) call(name string) error {
	e.calls = append(e.calls, name)
	if e.failOn == name {
		if e.failErr == nil {
			return errors.New(name + " failed")
		}
		return e.failErr
	}
	return nil
}

func (e *recordingEngine) count(name string) int {
	n := 0
	for _, c := range e.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (e *recordingEngine) CreateNodes(ctx context.Context, n int) ([]model.NodeID, error) {
	if err := e.call("CreateNodes"); err != nil {
		return nil, err
	}
	out := make([]model.NodeID, n)
	for i := range out {
		out[i] = e.nodes
		e.nodes++
	}
	return out, nil
}

func (e *recordingEngine) CreateChannel(ctx context.Context) (model.ChannelID, error) {
	if err := e.call("CreateChannel"); err != nil {
		return 0, err
	}
	id := e.channels
	e.channels++
	return id, nil
}

func (e *recordingEngine) CreateDeviceGroup(ctx context.Context, ch model.ChannelID, role model.DeviceRole, networkName string, nodes []model.NodeID) ([]model.DeviceID, error) {
	if err := e.call("CreateDeviceGroup"); err != nil {
		return nil, err
	}
	out := make([]model.DeviceID, len(nodes))
	for i := range out {
		out[i] = e.devices
		e.devices++
	}
	return out, nil
}

func (e *recordingEngine) InstallTransportStack(ctx context.Context, nodes []model.NodeID) error {
	return e.call("InstallTransportStack")
}

func (e *recordingEngine) AllocateAddresses(ctx context.Context, subnet model.SubnetDescriptor, devices []model.DeviceID) ([]netip.Addr, error) {
	if err := e.call("AllocateAddresses"); err != nil {
		return nil, err
	}
	net := subnet.Network()
	out := make([]netip.Addr, len(devices))
	for i := range out {
		e.hosts[subnet.Prefix]++
		b := net
		b[3] = byte(e.hosts[subnet.Prefix])
		out[i] = netip.AddrFrom4(b)
	}
	return out, nil
}

func (e *recordingEngine) ScheduleApplication(ctx context.Context, ep model.TrafficEndpoint) error {
	if err := e.call("ScheduleApplication"); err != nil {
		return err
	}
	e.apps = append(e.apps, ep)
	return nil
}

func (e *recordingEngine) SetConstantPosition(ctx context.Context, node model.NodeID, pos model.Position) error {
	if err := e.call("SetConstantPosition"); err != nil {
		return err
	}
	e.positions[node] = pos
	return nil
}

func (e *recordingEngine) EnableCapture(ctx context.Context, device model.DeviceID, name string) error {
	if err := e.call("EnableCapture"); err != nil {
		return err
	}
	e.captures = append(e.captures, fmt.Sprintf("%d:%s", device, name))
	return nil
}

func (e *recordingEngine) EnableAnimation(ctx context.Context, name string, maxPacketsPerFile int) error {
	if err := e.call("EnableAnimation"); err != nil {
		return err
	}
	e.anim, e.animMax = name, maxPacketsPerFile
	return nil
}

func (e *recordingEngine) EnableFlowMonitor(ctx context.Context) error {
	return e.call("EnableFlowMonitor")
}

func (e *recordingEngine) RunUntil(ctx context.Context, horizon time.Duration) error {
	if err := e.call("RunUntil"); err != nil {
		return err
	}
	e.horizon = horizon
	return nil
}

func (e *recordingEngine) CollectFlowStatistics(ctx context.Context, name string) (*model.FlowSummary, error) {
	if err := e.call("CollectFlowStatistics"); err != nil {
		return nil, err
	}
	if e.summary == nil {
		return &model.FlowSummary{}, nil
	}
	return e.summary, nil
}

func (e *recordingEngine) Destroy(ctx context.Context) error {
	e.destroyed++
	return e.call("Destroy")
}

var _ Engine = (*recordingEngine)(nil)
