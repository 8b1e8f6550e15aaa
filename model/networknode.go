package model

import "fmt"

// NodeID identifies a node created by the simulation engine.
type NodeID uint32

// ChannelID identifies one independent radio channel instance.
type ChannelID uint32

// DeviceID identifies a wireless net device installed on a node.
type DeviceID uint32

// DeviceRole is the role a device plays in an infrastructure wireless
// topology. The access point anchors a cell; stations associate with it.
type DeviceRole int

const (
	RoleAccessPoint DeviceRole = iota
	RoleStation
)

func (r DeviceRole) String() string {
	switch r {
	case RoleAccessPoint:
		return "ap"
	case RoleStation:
		return "sta"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}
