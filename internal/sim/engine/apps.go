package engine

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/model"
)

// firstEphemeralPort is where client source ports start on every node.
const firstEphemeralPort = 49153

// echoServer answers every datagram on its port with an identical one.
type echoServer struct {
	e    *Engine
	ep   model.TrafficEndpoint
	node *node
	dev  *device

	received int
}

func (s *echoServer) start() {
	s.node.sockets[s.ep.Port] = s.receive
}

func (s *echoServer) stop() {
	delete(s.node.sockets, s.ep.Port)
}

func (s *echoServer) receive(pkt *packet) {
	s.received++
	s.e.appLog("echo server received",
		logging.Int("cell", s.ep.CellID),
		logging.Int("bytes", pkt.payload),
		logging.String("from", pkt.src.String()),
	)
	s.e.send(s.dev, pkt.dst, pkt.src, pkt.payload)
	s.e.appLog("echo server sent",
		logging.Int("cell", s.ep.CellID),
		logging.Int("bytes", pkt.payload),
		logging.String("to", pkt.src.String()),
	)
}

// echoClient sends MaxPackets datagrams Interval apart to its target.
type echoClient struct {
	e    *Engine
	ep   model.TrafficEndpoint
	node *node
	dev  *device

	local     netip.AddrPort
	sent      int
	received  int
	sendEvent string
}

func (c *echoClient) start() {
	port := c.node.nextEphemeral
	c.node.nextEphemeral++
	c.local = netip.AddrPortFrom(c.dev.addr, port)
	c.node.sockets[port] = c.receive
	c.send()
}

func (c *echoClient) stop() {
	if c.sendEvent != "" {
		c.e.sched.Cancel(c.sendEvent)
		c.sendEvent = ""
	}
	delete(c.node.sockets, c.local.Port())
}

func (c *echoClient) send() {
	c.sendEvent = ""
	c.e.send(c.dev, c.local, c.ep.Target, c.ep.PayloadSize)
	c.sent++
	c.e.appLog("echo client sent",
		logging.Int("cell", c.ep.CellID),
		logging.Int("bytes", c.ep.PayloadSize),
		logging.String("to", c.ep.Target.String()),
	)
	if c.sent < c.ep.MaxPackets {
		c.sendEvent = c.e.sched.ScheduleIn(c.ep.Interval, c.send)
	}
}

func (c *echoClient) receive(pkt *packet) {
	c.received++
	c.e.appLog("echo client received",
		logging.Int("cell", c.ep.CellID),
		logging.Int("bytes", pkt.payload),
		logging.String("from", pkt.src.String()),
	)
}

// ScheduleApplication installs an echo server or client on the endpoint's
// node and schedules its start and stop.
func (e *Engine) ScheduleApplication(ctx context.Context, ep model.TrafficEndpoint) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if ep.Start < 0 || ep.Start >= ep.Stop {
		return fmt.Errorf("application on node %d: start %s not before stop %s", ep.Node, ep.Start, ep.Stop)
	}
	n, err := e.lookupNode(ep.Node)
	if err != nil {
		return err
	}
	if !n.transport {
		return fmt.Errorf("%w: %d", ErrNoTransport, n.id)
	}
	dev, err := e.deviceFor(n)
	if err != nil {
		return err
	}

	var start, stop func()
	switch ep.Role {
	case model.RoleResponder:
		if e.boundPorts[n.id][ep.Port] {
			return fmt.Errorf("%w: node %d port %d", ErrPortInUse, n.id, ep.Port)
		}
		if e.boundPorts[n.id] == nil {
			e.boundPorts[n.id] = make(map[uint16]bool)
		}
		e.boundPorts[n.id][ep.Port] = true
		s := &echoServer{e: e, ep: ep, node: n, dev: dev}
		e.servers = append(e.servers, s)
		start, stop = s.start, s.stop
	case model.RoleInitiator:
		if !ep.Target.IsValid() {
			return fmt.Errorf("initiator on node %d has no target", n.id)
		}
		if ep.MaxPackets <= 0 || ep.Interval <= 0 {
			return fmt.Errorf("initiator on node %d: %d packets every %s", n.id, ep.MaxPackets, ep.Interval)
		}
		c := &echoClient{e: e, ep: ep, node: n, dev: dev}
		e.clients = append(e.clients, c)
		start, stop = c.start, c.stop
	default:
		return fmt.Errorf("unknown endpoint role %v", ep.Role)
	}

	e.sched.Schedule(ep.Start, start)
	e.sched.Schedule(ep.Stop, stop)
	e.log.Debug(ctx, "application scheduled",
		logging.String("role", ep.Role.String()),
		logging.Int("cell", ep.CellID),
		logging.Any("node", ep.Node),
		logging.Duration("start", ep.Start),
		logging.Duration("stop", ep.Stop),
	)
	return nil
}

func (e *Engine) appLog(msg string, fields ...logging.Field) {
	if !e.verbose {
		return
	}
	fields = append(fields, logging.Duration("sim_time", e.clock.Now()))
	e.log.Info(context.Background(), msg, fields...)
}
