package model

import (
	"fmt"
	"net/netip"
	"time"
)

// EndpointRole distinguishes the two halves of a request/response flow.
type EndpointRole int

const (
	RoleResponder EndpointRole = iota
	RoleInitiator
)

func (r EndpointRole) String() string {
	switch r {
	case RoleResponder:
		return "responder"
	case RoleInitiator:
		return "initiator"
	default:
		return fmt.Sprintf("endpoint_role(%d)", int(r))
	}
}

// MarshalText lets YAML/JSON encoders print the role by name.
func (r EndpointRole) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// TrafficEndpoint is one application instance bound to a node. Times are
// offsets from the start of the simulation.
type TrafficEndpoint struct {
	CellID int          `yaml:"cell_id" json:"cell_id"`
	Role   EndpointRole `yaml:"role" json:"role"`
	Node   NodeID       `yaml:"node" json:"node"`

	// Port is the listen port for a responder and the destination port for
	// an initiator.
	Port uint16 `yaml:"port" json:"port"`
	// Target is only set on initiators.
	Target netip.AddrPort `yaml:"target" json:"target"`

	PayloadSize int           `yaml:"payload_size" json:"payload_size"`
	MaxPackets  int           `yaml:"max_packets" json:"max_packets"`
	Interval    time.Duration `yaml:"interval" json:"interval"`

	Start time.Duration `yaml:"start" json:"start"`
	Stop  time.Duration `yaml:"stop" json:"stop"`
}

// EndpointPair is the responder on a cell's access point and one initiator
// on one of its stations.
type EndpointPair struct {
	Responder TrafficEndpoint `yaml:"responder" json:"responder"`
	Initiator TrafficEndpoint `yaml:"initiator" json:"initiator"`
}
