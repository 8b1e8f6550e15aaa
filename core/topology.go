package core

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/model"
)

// Cell layout: anchors advance along the diagonal and stations are
// jittered in a box around the anchor.
const (
	AnchorOrigin     = 20.0
	AnchorStep       = 30.0
	JitterHalfWidth  = 5.0
	JitterHalfHeight = 10.0
)

// NetworkName returns the SSID that binds cell i's stations to its AP.
func NetworkName(cellID int) string { return fmt.Sprintf("SSID-%d", cellID) }

// Placement returns the anchor and jitter box of cell i.
func Placement(cellID int) model.PlacementSpec {
	x := AnchorOrigin + AnchorStep*float64(cellID)
	y := x
	return model.PlacementSpec{
		Anchor: model.Position{X: x, Y: y},
		Box: model.Box{
			MinX: x - JitterHalfWidth,
			MaxX: x + JitterHalfWidth,
			MinY: y - JitterHalfHeight,
			MaxY: y + JitterHalfHeight,
		},
	}
}

// NewSeededRand returns the placement source used when none is injected.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// TopologyBuilder materialises cells on an engine.
type TopologyBuilder struct {
	engine Engine
	alloc  *AddressAllocator
	rng    *rand.Rand
	log    logging.Logger
}

// NewTopologyBuilder wires a builder. A nil allocator uses the default
// scheme; a nil rng uses NewSeededRand(0).
func NewTopologyBuilder(engine Engine, alloc *AddressAllocator, rng *rand.Rand, log logging.Logger) *TopologyBuilder {
	if alloc == nil {
		alloc = DefaultAddressAllocator()
	}
	if rng == nil {
		rng = NewSeededRand(0)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &TopologyBuilder{engine: engine, alloc: alloc, rng: rng, log: log}
}

// Build creates apCount cells of staPerAp stations each. Counts and the
// address scheme are checked before the engine is called.
func (b *TopologyBuilder) Build(ctx context.Context, apCount, staPerAp int) ([]model.Cell, error) {
	if apCount <= 0 {
		return nil, configErr("access_points", ErrNoCells, "got %d", apCount)
	}
	if staPerAp <= 0 {
		return nil, configErr("stations_per_ap", ErrNoStations, "got %d", staPerAp)
	}
	subnets, err := b.alloc.AllocateN(apCount)
	if err != nil {
		return nil, err
	}

	cells := make([]model.Cell, 0, apCount)
	for i := 0; i < apCount; i++ {
		cell, err := b.buildCell(ctx, i, staPerAp, subnets[i])
		if err != nil {
			return nil, err
		}
		b.log.Debug(ctx, "cell built",
			logging.Int("cell", i),
			logging.String("ssid", cell.NetworkName),
			logging.String("subnet", cell.Subnet.String()),
			logging.Any("channel", cell.Channel),
		)
		cells = append(cells, cell)
	}
	return cells, nil
}

func (b *TopologyBuilder) buildCell(ctx context.Context, i, staPerAp int, subnet model.SubnetDescriptor) (model.Cell, error) {
	cell := model.Cell{
		ID:          i,
		NetworkName: NetworkName(i),
		Subnet:      subnet,
		Placement:   Placement(i),
	}

	ap, err := b.engine.CreateNodes(ctx, 1)
	if err != nil {
		return cell, engineErr("CreateNodes", err)
	}
	if len(ap) != 1 {
		return cell, &EngineError{Op: "CreateNodes", Err: fmt.Errorf("engine returned %d access point nodes, want 1", len(ap))}
	}
	cell.AccessPoint = ap[0]
	if cell.Stations, err = b.engine.CreateNodes(ctx, staPerAp); err != nil {
		return cell, engineErr("CreateNodes", err)
	}
	if len(cell.Stations) != staPerAp {
		return cell, &EngineError{Op: "CreateNodes", Err: fmt.Errorf("engine returned %d stations, want %d", len(cell.Stations), staPerAp)}
	}

	// Every cell gets its own channel so cells never interfere.
	if cell.Channel, err = b.engine.CreateChannel(ctx); err != nil {
		return cell, engineErr("CreateChannel", err)
	}

	apDevs, err := b.engine.CreateDeviceGroup(ctx, cell.Channel, model.RoleAccessPoint, cell.NetworkName, ap)
	if err != nil {
		return cell, engineErr("CreateDeviceGroup", err)
	}
	if len(apDevs) != 1 {
		return cell, &EngineError{Op: "CreateDeviceGroup", Err: fmt.Errorf("engine returned %d access point devices, want 1", len(apDevs))}
	}
	cell.APDevice = apDevs[0]
	if cell.StationDevices, err = b.engine.CreateDeviceGroup(ctx, cell.Channel, model.RoleStation, cell.NetworkName, cell.Stations); err != nil {
		return cell, engineErr("CreateDeviceGroup", err)
	}

	nodes := append([]model.NodeID{cell.AccessPoint}, cell.Stations...)
	if err := b.engine.InstallTransportStack(ctx, nodes); err != nil {
		return cell, engineErr("InstallTransportStack", err)
	}

	devices := append([]model.DeviceID{cell.APDevice}, cell.StationDevices...)
	addrs, err := b.engine.AllocateAddresses(ctx, subnet, devices)
	if err != nil {
		return cell, engineErr("AllocateAddresses", err)
	}
	if len(addrs) != len(devices) {
		return cell, &EngineError{Op: "AllocateAddresses", Err: fmt.Errorf("engine returned %d addresses for %d devices", len(addrs), len(devices))}
	}
	cell.APAddress = addrs[0]
	cell.StationAddresses = addrs[1:]

	box := cell.Placement.Box
	cell.StationPositions = make([]model.Position, staPerAp)
	for j := range cell.StationPositions {
		cell.StationPositions[j] = model.Position{
			X: box.MinX + b.rng.Float64()*(box.MaxX-box.MinX),
			Y: box.MinY + b.rng.Float64()*(box.MaxY-box.MinY),
		}
	}
	return cell, nil
}
