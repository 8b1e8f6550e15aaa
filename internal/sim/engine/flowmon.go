package engine

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/wifi-scenario/model"
)

const protocolUDP = 17

type flowRecord struct {
	stats model.FlowStats

	delays    []float64 // seconds, one per received packet
	lastDelay time.Duration
	haveDelay bool
}

// flowMonitor classifies packets by 5-tuple at the IP layer of the sending
// and receiving nodes.
type flowMonitor struct {
	byKey map[model.FlowKey]*flowRecord
	order []*flowRecord
}

func newFlowMonitor() *flowMonitor {
	return &flowMonitor{byKey: make(map[model.FlowKey]*flowRecord)}
}

func keyOf(pkt *packet) model.FlowKey {
	return model.FlowKey{
		Source:      pkt.src.Addr(),
		Destination: pkt.dst.Addr(),
		Protocol:    protocolUDP,
		SourcePort:  pkt.src.Port(),
		DestPort:    pkt.dst.Port(),
	}
}

func (m *flowMonitor) onTx(now time.Duration, pkt *packet) {
	if m == nil {
		return
	}
	key := keyOf(pkt)
	rec, ok := m.byKey[key]
	if !ok {
		rec = &flowRecord{stats: model.FlowStats{
			FlowID:      uint32(len(m.order) + 1),
			Key:         key,
			TimeFirstTx: now,
		}}
		m.byKey[key] = rec
		m.order = append(m.order, rec)
	}
	rec.stats.TxPackets++
	rec.stats.TxBytes += uint64(pkt.size())
	rec.stats.TimeLastTx = now
}

func (m *flowMonitor) onRx(now time.Duration, pkt *packet) {
	if m == nil {
		return
	}
	rec, ok := m.byKey[keyOf(pkt)]
	if !ok {
		return
	}
	delay := now - pkt.sentAt
	if rec.stats.RxPackets == 0 {
		rec.stats.TimeFirstRx = now
	}
	rec.stats.RxPackets++
	rec.stats.RxBytes += uint64(pkt.size())
	rec.stats.TimeLastRx = now
	rec.stats.DelaySum += delay
	if rec.haveDelay {
		jitter := delay - rec.lastDelay
		if jitter < 0 {
			jitter = -jitter
		}
		rec.stats.JitterSum += jitter
	}
	rec.lastDelay, rec.haveDelay = delay, true
	rec.delays = append(rec.delays, delay.Seconds())
}

// summary snapshots every flow. Packets still unaccounted for at the end of
// the run count as lost.
func (m *flowMonitor) summary() *model.FlowSummary {
	out := &model.FlowSummary{Flows: make([]model.FlowStats, 0, len(m.order))}
	for _, rec := range m.order {
		s := rec.stats
		s.LostPackets = s.TxPackets - s.RxPackets
		switch len(rec.delays) {
		case 0:
		case 1:
			s.DelayMean = seconds(rec.delays[0])
		default:
			mean, std := stat.MeanStdDev(rec.delays, nil)
			s.DelayMean = seconds(mean)
			s.DelayStdDev = seconds(std)
		}
		out.Flows = append(out.Flows, s)
	}
	return out
}

func seconds(v float64) time.Duration {
	if math.IsNaN(v) {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

type flowMonitorXML struct {
	XMLName    xml.Name       `xml:"FlowMonitor"`
	FlowStats  []flowStatXML  `xml:"FlowStats>Flow"`
	Classifier []flowClassXML `xml:"Ipv4FlowClassifier>Flow"`
}

type flowStatXML struct {
	FlowID            uint32 `xml:"flowId,attr"`
	TimeFirstTxPacket string `xml:"timeFirstTxPacket,attr"`
	TimeFirstRxPacket string `xml:"timeFirstRxPacket,attr"`
	TimeLastTxPacket  string `xml:"timeLastTxPacket,attr"`
	TimeLastRxPacket  string `xml:"timeLastRxPacket,attr"`
	DelaySum          string `xml:"delaySum,attr"`
	JitterSum         string `xml:"jitterSum,attr"`
	DelayMean         string `xml:"delayMean,attr"`
	DelayStdDev       string `xml:"delayStdDev,attr"`
	TxBytes           uint64 `xml:"txBytes,attr"`
	TxPackets         uint64 `xml:"txPackets,attr"`
	RxBytes           uint64 `xml:"rxBytes,attr"`
	RxPackets         uint64 `xml:"rxPackets,attr"`
	LostPackets       uint64 `xml:"lostPackets,attr"`
}

type flowClassXML struct {
	FlowID          uint32 `xml:"flowId,attr"`
	SourceAddress   string `xml:"sourceAddress,attr"`
	DestAddress     string `xml:"destinationAddress,attr"`
	Protocol        uint8  `xml:"protocol,attr"`
	SourcePort      uint16 `xml:"sourcePort,attr"`
	DestinationPort uint16 `xml:"destinationPort,attr"`
}

// nanos formats a duration the way flow monitor files do: signed
// nanoseconds with an ns suffix.
func nanos(d time.Duration) string { return fmt.Sprintf("%+dns", d.Nanoseconds()) }

func writeFlowSummary(w io.Writer, summary *model.FlowSummary) error {
	doc := flowMonitorXML{}
	for _, f := range summary.Flows {
		doc.FlowStats = append(doc.FlowStats, flowStatXML{
			FlowID:            f.FlowID,
			TimeFirstTxPacket: nanos(f.TimeFirstTx),
			TimeFirstRxPacket: nanos(f.TimeFirstRx),
			TimeLastTxPacket:  nanos(f.TimeLastTx),
			TimeLastRxPacket:  nanos(f.TimeLastRx),
			DelaySum:          nanos(f.DelaySum),
			JitterSum:         nanos(f.JitterSum),
			DelayMean:         nanos(f.DelayMean),
			DelayStdDev:       nanos(f.DelayStdDev),
			TxBytes:           f.TxBytes,
			TxPackets:         f.TxPackets,
			RxBytes:           f.RxBytes,
			RxPackets:         f.RxPackets,
			LostPackets:       f.LostPackets,
		})
		doc.Classifier = append(doc.Classifier, flowClassXML{
			FlowID:          f.FlowID,
			SourceAddress:   f.Key.Source.String(),
			DestAddress:     f.Key.Destination.String(),
			Protocol:        f.Key.Protocol,
			SourcePort:      f.Key.SourcePort,
			DestinationPort: f.Key.DestPort,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode flow summary: %w", err)
	}
	return enc.Flush()
}
