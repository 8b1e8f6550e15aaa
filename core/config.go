package core

import (
	"net/netip"
	"strings"
	"time"
)

// TrafficProfile is applied uniformly to every cell.
type TrafficProfile struct {
	Port        uint16        `yaml:"port"`
	MaxPackets  int           `yaml:"max_packets"`
	Interval    time.Duration `yaml:"interval"`
	PayloadSize int           `yaml:"payload_size"`
}

// Lifecycle holds application start/stop offsets. Stop is the global stop
// time shared by every application.
type Lifecycle struct {
	ServerStart time.Duration `yaml:"server_start"`
	ClientStart time.Duration `yaml:"client_start"`
	Stop        time.Duration `yaml:"stop"`
}

// Config describes one scenario run.
type Config struct {
	Name          string `yaml:"name"`
	AccessPoints  int    `yaml:"access_points"`
	StationsPerAP int    `yaml:"stations_per_ap"`
	// ActiveClients is how many stations per cell run an initiator,
	// starting from the first station.
	ActiveClients int          `yaml:"active_clients"`
	SubnetBase    netip.Prefix `yaml:"subnet_base"`
	Seed          uint64       `yaml:"seed"`

	Traffic       TrafficProfile `yaml:"traffic"`
	Timing        Lifecycle      `yaml:"timing"`
	DetailedTrace bool           `yaml:"detailed_trace"`
}

// maxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// DefaultConfig returns the reference ten-cell scenario.
func DefaultConfig() Config {
	return Config{
		Name:          "experiment_v6",
		AccessPoints:  10,
		StationsPerAP: 3,
		ActiveClients: 1,
		SubnetBase:    DefaultSubnetBase,
		Traffic: TrafficProfile{
			Port:        9,
			MaxPackets:  3,
			Interval:    time.Second,
			PayloadSize: 64,
		},
		Timing: Lifecycle{
			ServerStart: time.Second,
			ClientStart: 2 * time.Second,
			Stop:        10 * time.Second,
		},
		DetailedTrace: true,
	}
}

// Validate checks every field without touching an engine.
func (c Config) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, `/\`) {
		return configErr("name", ErrInvalidConfig, "%q is not a usable artifact prefix", c.Name)
	}
	if c.AccessPoints <= 0 {
		return configErr("access_points", ErrNoCells, "got %d", c.AccessPoints)
	}
	if c.StationsPerAP <= 0 {
		return configErr("stations_per_ap", ErrNoStations, "got %d", c.StationsPerAP)
	}
	if c.ActiveClients <= 0 || c.ActiveClients > c.StationsPerAP {
		return configErr("active_clients", ErrInvalidConfig, "%d not in [1, %d]", c.ActiveClients, c.StationsPerAP)
	}
	alloc, err := c.allocator()
	if err != nil {
		return err
	}
	if c.AccessPoints > alloc.Capacity() {
		return configErr("access_points", ErrAddressSpaceExhausted, "%d cells, capacity %d", c.AccessPoints, alloc.Capacity())
	}
	if err := c.Traffic.validate(); err != nil {
		return err
	}
	return c.Timing.validate()
}

func (c Config) allocator() (*AddressAllocator, error) {
	if !c.SubnetBase.IsValid() {
		return DefaultAddressAllocator(), nil
	}
	return NewAddressAllocator(c.SubnetBase)
}

func (p TrafficProfile) validate() error {
	switch {
	case p.Port == 0:
		return configErr("traffic.port", ErrInvalidTraffic, "port must be non-zero")
	case p.MaxPackets <= 0:
		return configErr("traffic.max_packets", ErrInvalidTraffic, "got %d", p.MaxPackets)
	case p.Interval <= 0:
		return configErr("traffic.interval", ErrInvalidTraffic, "got %s", p.Interval)
	case p.PayloadSize <= 0 || p.PayloadSize > maxUDPPayload:
		return configErr("traffic.payload_size", ErrInvalidTraffic, "%d not in [1, %d]", p.PayloadSize, maxUDPPayload)
	}
	return nil
}

func (l Lifecycle) validate() error {
	switch {
	case l.ServerStart < 0:
		return configErr("timing.server_start", ErrInvalidTiming, "negative start %s", l.ServerStart)
	case l.ServerStart >= l.ClientStart:
		return configErr("timing.client_start", ErrInvalidTiming, "server start %s not before client start %s", l.ServerStart, l.ClientStart)
	case l.ClientStart >= l.Stop:
		return configErr("timing.stop", ErrInvalidTiming, "client start %s not before stop %s", l.ClientStart, l.Stop)
	}
	return nil
}
