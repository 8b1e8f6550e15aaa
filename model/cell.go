package model

import (
	"net"
	"net/netip"
)

// SubnetDescriptor is the IPv4 address range owned by exactly one cell.
type SubnetDescriptor struct {
	Prefix netip.Prefix `yaml:"prefix" json:"prefix"`
}

// Network returns the four network prefix bytes.
func (s SubnetDescriptor) Network() [4]byte {
	return s.Prefix.Masked().Addr().As4()
}

// Mask returns the dotted-quad netmask, e.g. 255.255.255.0.
func (s SubnetDescriptor) Mask() string {
	return net.IP(net.CIDRMask(s.Prefix.Bits(), 32)).String()
}

// Overlaps reports whether two subnets share any address.
func (s SubnetDescriptor) Overlaps(other SubnetDescriptor) bool {
	return s.Prefix.Overlaps(other.Prefix)
}

func (s SubnetDescriptor) String() string { return s.Prefix.String() }

// Cell is one access point plus its stations, sharing one channel and one
// subnet. Stations, StationDevices, StationAddresses and StationPositions
// are index-aligned.
type Cell struct {
	ID          int       `yaml:"id" json:"id"`
	NetworkName string    `yaml:"network_name" json:"network_name"`
	Channel     ChannelID `yaml:"channel" json:"channel"`

	AccessPoint NodeID     `yaml:"access_point" json:"access_point"`
	APDevice    DeviceID   `yaml:"ap_device" json:"ap_device"`
	APAddress   netip.Addr `yaml:"ap_address" json:"ap_address"`

	Stations         []NodeID     `yaml:"stations" json:"stations"`
	StationDevices   []DeviceID   `yaml:"station_devices" json:"station_devices"`
	StationAddresses []netip.Addr `yaml:"station_addresses" json:"station_addresses"`

	Subnet           SubnetDescriptor `yaml:"subnet" json:"subnet"`
	Placement        PlacementSpec    `yaml:"placement" json:"placement"`
	StationPositions []Position       `yaml:"station_positions" json:"station_positions"`
}

// NodeCount returns the number of nodes in the cell, access point included.
func (c Cell) NodeCount() int { return 1 + len(c.Stations) }
