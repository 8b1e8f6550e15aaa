package engine

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/wifi-scenario/model"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrNoTransport     = errors.New("node has no transport stack")
	ErrNoAddress       = errors.New("node has no assigned address")
	ErrPortInUse       = errors.New("port already bound")
	ErrSubnetFull      = errors.New("subnet has no free host addresses")
	ErrDestroyed       = errors.New("engine destroyed")
	ErrAlreadyRun      = errors.New("engine already ran")
	ErrNotRun          = errors.New("engine has not run")
)

type node struct {
	id        model.NodeID
	transport bool
	devices   []model.DeviceID
	pos       *model.Position

	nextEphemeral uint16
	sockets       map[uint16]func(pkt *packet)
}

type channel struct {
	id      model.ChannelID
	devices []model.DeviceID
}

type device struct {
	id      model.DeviceID
	node    model.NodeID
	channel model.ChannelID
	role    model.DeviceRole
	ssid    string
	addr    netip.Addr

	// associated is the AP device a station is bound to once the run starts.
	associated *device
	capture    *capture
}

// nextHost returns the next unassigned host address of subnet, tracking
// per-subnet cursors the way an IPv4 address helper does.
func (e *Engine) nextHost(subnet model.SubnetDescriptor) (netip.Addr, error) {
	p := subnet.Prefix.Masked()
	cur, ok := e.hostCursor[p]
	if !ok {
		cur = p.Addr()
	}
	next := cur.Next()
	if !next.IsValid() || !p.Contains(next) || isBroadcast(p, next) {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrSubnetFull, p)
	}
	e.hostCursor[p] = next
	return next, nil
}

func isBroadcast(p netip.Prefix, a netip.Addr) bool {
	n := a.Next()
	return !n.IsValid() || !p.Contains(n)
}

func (e *Engine) lookupNode(id model.NodeID) (*node, error) {
	if int(id) >= len(e.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return e.nodes[id], nil
}

func (e *Engine) lookupDevice(id model.DeviceID) (*device, error) {
	if int(id) >= len(e.devices) {
		return nil, fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}
	return e.devices[id], nil
}

// deviceFor returns the addressed device of n.
func (e *Engine) deviceFor(n *node) (*device, error) {
	for _, id := range n.devices {
		if d := e.devices[id]; d.addr.IsValid() {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: node %d", ErrNoAddress, n.id)
}

// associate binds every station to the access point on its channel that
// serves the same network name. Stations without one stay unassociated and
// cannot exchange traffic.
func (e *Engine) associate() int {
	unassociated := 0
	for _, ch := range e.channels {
		var aps []*device
		for _, id := range ch.devices {
			if d := e.devices[id]; d.role == model.RoleAccessPoint {
				aps = append(aps, d)
			}
		}
		for _, id := range ch.devices {
			sta := e.devices[id]
			if sta.role != model.RoleStation {
				continue
			}
			for _, ap := range aps {
				if ap.ssid == sta.ssid {
					sta.associated = ap
					break
				}
			}
			if sta.associated == nil {
				unassociated++
			}
		}
	}
	return unassociated
}

// route finds the device on from's channel that owns dst, honouring
// infrastructure association: stations only talk through their AP.
func (e *Engine) route(from *device, dst netip.Addr) *device {
	ch := e.channels[from.channel]
	for _, id := range ch.devices {
		to := e.devices[id]
		if to.addr != dst || to == from {
			continue
		}
		switch {
		case from.role == model.RoleStation && from.associated != nil &&
			(to == from.associated || to.associated == from.associated):
			return to
		case from.role == model.RoleAccessPoint && to.associated == from:
			return to
		}
	}
	return nil
}
