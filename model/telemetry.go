package model

import (
	"fmt"
	"net/netip"
	"time"
)

// ArtifactKind names the kind of output file a telemetry artifact becomes.
type ArtifactKind string

const (
	ArtifactCapture     ArtifactKind = "capture"
	ArtifactAnimation   ArtifactKind = "animation"
	ArtifactFlowSummary ArtifactKind = "flow-summary"
)

// GlobalTarget is the target identifier of scenario-wide artifacts.
const GlobalTarget = "global"

// CellTarget returns the target identifier of a per-cell artifact.
func CellTarget(cellID int) string { return fmt.Sprintf("cell-%d", cellID) }

// TelemetryArtifact references its scope by identifier only.
type TelemetryArtifact struct {
	Kind   ArtifactKind `yaml:"kind" json:"kind"`
	Target string       `yaml:"target" json:"target"`
	Name   string       `yaml:"name" json:"name"`
}

// FlowKey is the IPv4 5-tuple a flow is classified by.
type FlowKey struct {
	Source      netip.Addr
	Destination netip.Addr
	Protocol    uint8
	SourcePort  uint16
	DestPort    uint16
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d/%d", k.Source, k.SourcePort, k.Destination, k.DestPort, k.Protocol)
}

// FlowStats aggregates one transport flow over the whole run.
type FlowStats struct {
	FlowID uint32
	Key    FlowKey

	TxPackets   uint64
	RxPackets   uint64
	LostPackets uint64
	TxBytes     uint64
	RxBytes     uint64

	TimeFirstTx time.Duration
	TimeLastTx  time.Duration
	TimeFirstRx time.Duration
	TimeLastRx  time.Duration

	DelaySum    time.Duration
	JitterSum   time.Duration
	DelayMean   time.Duration
	DelayStdDev time.Duration
}

// FlowSummary is everything the flow monitor observed.
type FlowSummary struct {
	Flows []FlowStats
}

// Totals sums packet counters over all flows.
func (s *FlowSummary) Totals() (tx, rx, lost uint64) {
	if s == nil {
		return 0, 0, 0
	}
	for _, f := range s.Flows {
		tx += f.TxPackets
		rx += f.RxPackets
		lost += f.LostPackets
	}
	return tx, rx, lost
}
