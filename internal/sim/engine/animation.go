package engine

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/wifi-scenario/model"
)

type animPacket struct {
	from, to   model.NodeID
	fbTx, fbRx time.Duration
}

// animation records node positions and packet hops for a NetAnim-style
// trace.
type animation struct {
	name       string
	maxPackets int
	packets    []animPacket
	dropped    int
}

func (a *animation) record(from, to model.NodeID, fbTx, fbRx time.Duration) {
	if a == nil {
		return
	}
	if a.maxPackets > 0 && len(a.packets) >= a.maxPackets {
		a.dropped++
		return
	}
	a.packets = append(a.packets, animPacket{from: from, to: to, fbTx: fbTx, fbRx: fbRx})
}

type animXML struct {
	XMLName  xml.Name        `xml:"anim"`
	Version  string          `xml:"ver,attr"`
	FileType string          `xml:"filetype,attr"`
	Topology animTopologyXML `xml:"topology"`
	Packets  []animPacketXML `xml:"p"`
}

type animTopologyXML struct {
	MinX  float64       `xml:"minX,attr"`
	MinY  float64       `xml:"minY,attr"`
	MaxX  float64       `xml:"maxX,attr"`
	MaxY  float64       `xml:"maxY,attr"`
	Nodes []animNodeXML `xml:"node"`
}

type animNodeXML struct {
	ID   model.NodeID `xml:"id,attr"`
	LocX float64      `xml:"locX,attr"`
	LocY float64      `xml:"locY,attr"`
}

type animPacketXML struct {
	FromID model.NodeID `xml:"fId,attr"`
	FbTx   float64      `xml:"fbTx,attr"`
	ToID   model.NodeID `xml:"tId,attr"`
	FbRx   float64      `xml:"fbRx,attr"`
}

func (a *animation) writeTo(w io.Writer, nodes []*node) error {
	doc := animXML{Version: "netanim-3.108", FileType: "animation"}
	for i, n := range nodes {
		var pos model.Position
		if n.pos != nil {
			pos = *n.pos
		}
		if i == 0 || pos.X < doc.Topology.MinX {
			doc.Topology.MinX = pos.X
		}
		if i == 0 || pos.Y < doc.Topology.MinY {
			doc.Topology.MinY = pos.Y
		}
		if i == 0 || pos.X > doc.Topology.MaxX {
			doc.Topology.MaxX = pos.X
		}
		if i == 0 || pos.Y > doc.Topology.MaxY {
			doc.Topology.MaxY = pos.Y
		}
		doc.Topology.Nodes = append(doc.Topology.Nodes, animNodeXML{ID: n.id, LocX: pos.X, LocY: pos.Y})
	}
	for _, p := range a.packets {
		doc.Packets = append(doc.Packets, animPacketXML{
			FromID: p.from,
			FbTx:   p.fbTx.Seconds(),
			ToID:   p.to,
			FbRx:   p.fbRx.Seconds(),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode animation: %w", err)
	}
	return enc.Flush()
}
