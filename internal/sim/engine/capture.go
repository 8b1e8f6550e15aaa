package engine

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ipv4UDPHeaderLen is the IPv4 plus UDP header overhead of every packet.
const ipv4UDPHeaderLen = 20 + 8

// snapLen is the pcap snapshot length; large enough for any UDP datagram.
const snapLen = 65536

// packet is one UDP datagram in flight.
type packet struct {
	uid     uint64
	src     netip.AddrPort
	dst     netip.AddrPort
	payload int
	sentAt  time.Duration
}

// size is the IPv4 datagram length.
func (p *packet) size() int { return ipv4UDPHeaderLen + p.payload }

type captureRecord struct {
	at  time.Duration
	pkt packet
}

// capture buffers every packet a device sends or receives. Nothing touches
// disk until the run has completed.
type capture struct {
	name    string
	records []captureRecord
}

func (c *capture) record(at time.Duration, pkt *packet) {
	if c == nil {
		return
	}
	c.records = append(c.records, captureRecord{at: at, pkt: *pkt})
}

// writeTo emits the capture as a raw-IPv4 pcap stream.
func (c *capture) writeTo(w io.Writer) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return fmt.Errorf("pcap header: %w", err)
	}
	for _, rec := range c.records {
		data, err := serializePacket(&rec.pkt)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     simEpoch.Add(rec.at),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("pcap packet %d: %w", rec.pkt.uid, err)
		}
	}
	return nil
}

// simEpoch anchors simulation time zero in capture timestamps.
var simEpoch = time.Unix(0, 0).UTC()

// serializePacket renders pkt as IPv4/UDP with a zero-filled payload, the
// way an echo client fills its datagrams.
func serializePacket(pkt *packet) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       uint16(pkt.uid),
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(pkt.src.Addr().AsSlice()),
		DstIP:    net.IP(pkt.dst.Addr().AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(pkt.src.Port()),
		DstPort: layers.UDPPort(pkt.dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(make([]byte, pkt.payload))); err != nil {
		return nil, fmt.Errorf("serialize packet %d: %w", pkt.uid, err)
	}
	return buf.Bytes(), nil
}
