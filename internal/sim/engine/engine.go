// Package engine is an in-process discrete-event simulator for
// infrastructure wireless cells. It implements core.Engine with a simple
// link model: every associated pair on a channel has a fixed propagation
// delay plus serialisation time at a fixed data rate, and nothing is lost
// in the air. Captures, the animation trace and the flow summary are
// written under the output directory once the run completes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/model"
	"github.com/signalsfoundry/wifi-scenario/timectrl"
)

// Link model defaults.
const (
	DefaultPropagationDelay = 100 * time.Microsecond
	DefaultDataRateBps      = 6_000_000

	speedOfLight = 299_792_458.0 // m/s
)

// EventCounter receives the number of events each run executed.
type EventCounter interface {
	AddEngineEvents(n int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutputDir sets where artifacts are written. Defaults to ".".
func WithOutputDir(dir string) Option { return func(e *Engine) { e.outputDir = dir } }

// WithLogger sets the engine logger. Defaults to logging.Noop().
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMode selects accelerated or real-time pacing.
func WithMode(m timectrl.Mode) Option { return func(e *Engine) { e.clock.Mode = m } }

// WithVerbose logs every echo application send and receive at info level.
func WithVerbose(v bool) Option { return func(e *Engine) { e.verbose = v } }

// WithEventCounter reports the executed event count after each run.
func WithEventCounter(c EventCounter) Option { return func(e *Engine) { e.events = c } }

// WithLinkModel overrides the fixed per-hop delay and data rate.
func WithLinkModel(delay time.Duration, rateBps float64) Option {
	return func(e *Engine) {
		e.propDelay = delay
		e.dataRate = rateBps
	}
}

// Engine hosts one scenario. It is not safe for concurrent use; the
// discrete-event loop runs on the goroutine that calls RunUntil.
type Engine struct {
	clock *timectrl.TimeController
	sched *eventScheduler
	log   logging.Logger

	outputDir string
	verbose   bool
	events    EventCounter
	propDelay time.Duration
	dataRate  float64

	nodes      []*node
	channels   []*channel
	devices    []*device
	hostCursor map[netip.Prefix]netip.Addr
	boundPorts map[model.NodeID]map[uint16]bool

	servers  []*echoServer
	clients  []*echoClient
	captures []*capture
	anim     *animation
	flowmon  *flowMonitor

	// written lists the artifacts RunUntil put on disk. They are removed
	// again if the flow summary is never collected.
	written   []string
	finalized bool

	nextUID   uint64
	ran       bool
	destroyed bool
}

// New returns an empty engine at simulation time zero.
func New(opts ...Option) *Engine {
	clock := timectrl.NewTimeController(timectrl.Accelerated)
	e := &Engine{
		clock:      clock,
		sched:      newEventScheduler(clock),
		log:        logging.Noop(),
		outputDir:  ".",
		propDelay:  DefaultPropagationDelay,
		dataRate:   DefaultDataRateBps,
		hostCursor: make(map[netip.Prefix]netip.Addr),
		boundPorts: make(map[model.NodeID]map[uint16]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	clock.AddListener(e.progress())
	return e
}

// Now returns the current simulation time.
func (e *Engine) Now() time.Duration { return e.clock.Now() }

func (e *Engine) usable() error {
	if e.destroyed {
		return ErrDestroyed
	}
	return nil
}

func (e *Engine) configurable() error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.ran {
		return ErrAlreadyRun
	}
	return nil
}

func (e *Engine) CreateNodes(ctx context.Context, n int) ([]model.NodeID, error) {
	if err := e.configurable(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("create %d nodes: count must be positive", n)
	}
	ids := make([]model.NodeID, 0, n)
	for i := 0; i < n; i++ {
		id := model.NodeID(len(e.nodes))
		e.nodes = append(e.nodes, &node{
			id:            id,
			nextEphemeral: firstEphemeralPort,
			sockets:       make(map[uint16]func(*packet)),
		})
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) CreateChannel(ctx context.Context) (model.ChannelID, error) {
	if err := e.configurable(); err != nil {
		return 0, err
	}
	id := model.ChannelID(len(e.channels))
	e.channels = append(e.channels, &channel{id: id})
	return id, nil
}

func (e *Engine) CreateDeviceGroup(ctx context.Context, ch model.ChannelID, role model.DeviceRole, networkName string, nodes []model.NodeID) ([]model.DeviceID, error) {
	if err := e.configurable(); err != nil {
		return nil, err
	}
	if int(ch) >= len(e.channels) {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, ch)
	}
	if role != model.RoleAccessPoint && role != model.RoleStation {
		return nil, fmt.Errorf("unknown device role %v", role)
	}
	if networkName == "" {
		return nil, errors.New("device group needs a network name")
	}
	for _, id := range nodes {
		if _, err := e.lookupNode(id); err != nil {
			return nil, err
		}
	}

	c := e.channels[ch]
	ids := make([]model.DeviceID, 0, len(nodes))
	for _, nid := range nodes {
		id := model.DeviceID(len(e.devices))
		e.devices = append(e.devices, &device{id: id, node: nid, channel: ch, role: role, ssid: networkName})
		e.nodes[nid].devices = append(e.nodes[nid].devices, id)
		c.devices = append(c.devices, id)
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) InstallTransportStack(ctx context.Context, nodes []model.NodeID) error {
	if err := e.configurable(); err != nil {
		return err
	}
	for _, id := range nodes {
		n, err := e.lookupNode(id)
		if err != nil {
			return err
		}
		n.transport = true
	}
	return nil
}

func (e *Engine) AllocateAddresses(ctx context.Context, subnet model.SubnetDescriptor, devices []model.DeviceID) ([]netip.Addr, error) {
	if err := e.configurable(); err != nil {
		return nil, err
	}
	if !subnet.Prefix.IsValid() || !subnet.Prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid IPv4 subnet %q", subnet.Prefix)
	}
	addrs := make([]netip.Addr, 0, len(devices))
	for _, id := range devices {
		d, err := e.lookupDevice(id)
		if err != nil {
			return nil, err
		}
		if !e.nodes[d.node].transport {
			return nil, fmt.Errorf("%w: %d", ErrNoTransport, d.node)
		}
		addr, err := e.nextHost(subnet)
		if err != nil {
			return nil, err
		}
		d.addr = addr
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (e *Engine) SetConstantPosition(ctx context.Context, id model.NodeID, pos model.Position) error {
	if err := e.configurable(); err != nil {
		return err
	}
	n, err := e.lookupNode(id)
	if err != nil {
		return err
	}
	n.pos = &pos
	return nil
}

func (e *Engine) EnableCapture(ctx context.Context, id model.DeviceID, name string) error {
	if err := e.configurable(); err != nil {
		return err
	}
	d, err := e.lookupDevice(id)
	if err != nil {
		return err
	}
	if name == "" {
		return errors.New("capture needs a name")
	}
	d.capture = &capture{name: name}
	e.captures = append(e.captures, d.capture)
	return nil
}

func (e *Engine) EnableAnimation(ctx context.Context, name string, maxPacketsPerFile int) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("animation needs a name")
	}
	e.anim = &animation{name: name, maxPackets: maxPacketsPerFile}
	return nil
}

func (e *Engine) EnableFlowMonitor(ctx context.Context) error {
	if err := e.configurable(); err != nil {
		return err
	}
	e.flowmon = newFlowMonitor()
	return nil
}

// RunUntil executes events in timestamp order up to and including horizon,
// then writes captures and the animation trace. It may be called once.
func (e *Engine) RunUntil(ctx context.Context, horizon time.Duration) error {
	if err := e.configurable(); err != nil {
		return err
	}
	if horizon < e.clock.Now() {
		return fmt.Errorf("horizon %s is in the past", horizon)
	}
	e.ran = true

	if n := e.associate(); n > 0 {
		e.log.Warn(ctx, "stations without a matching access point", logging.Int("count", n))
	}

	e.log.Info(ctx, "engine run starting",
		logging.Int("nodes", len(e.nodes)),
		logging.Int("channels", len(e.channels)),
		logging.Int("applications", len(e.servers)+len(e.clients)),
		logging.Duration("horizon", horizon),
		logging.String("mode", e.clock.Mode.String()),
	)

	executed := 0
	for {
		next, ok := e.sched.Next()
		if !ok || next > horizon {
			break
		}
		if err := e.clock.AdvanceTo(next); err != nil {
			return err
		}
		executed += e.sched.RunDue()
	}
	if err := e.clock.AdvanceTo(horizon); err != nil {
		return err
	}
	if e.events != nil {
		e.events.AddEngineEvents(executed)
	}
	if e.anim != nil && e.anim.dropped > 0 {
		e.log.Warn(ctx, "animation packet limit reached",
			logging.Int("limit", e.anim.maxPackets),
			logging.Int("dropped", e.anim.dropped),
		)
	}
	e.log.Info(ctx, "engine run finished",
		logging.Int("events", executed),
		logging.Int("pending", e.sched.Pending()),
		logging.Duration("sim_time", e.clock.Now()),
	)

	return e.flushTraces()
}

// CollectFlowStatistics writes <name>.xml and returns the summary.
func (e *Engine) CollectFlowStatistics(ctx context.Context, name string) (*model.FlowSummary, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if !e.ran {
		return nil, ErrNotRun
	}
	if e.flowmon == nil {
		return nil, errors.New("flow monitor not enabled")
	}
	summary := e.flowmon.summary()
	path := e.artifactPath(name, ".xml")
	if err := writeFile(path, func(f *os.File) error { return writeFlowSummary(f, summary) }); err != nil {
		e.removeArtifacts()
		return nil, err
	}
	e.finalized = true
	e.log.Debug(ctx, "flow summary written", logging.String("path", path), logging.Int("flows", len(summary.Flows)))
	return summary, nil
}

// Destroy drops every node, channel, application and pending event. A run
// whose flow summary was never collected is incomplete, so the traces it
// wrote are deleted. Destroy is idempotent; the engine cannot be reused
// afterwards.
func (e *Engine) Destroy(ctx context.Context) error {
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	if e.ran && e.flowmon != nil && !e.finalized {
		e.removeArtifacts()
	}
	e.sched.Reset()
	e.nodes, e.channels, e.devices = nil, nil, nil
	e.servers, e.clients, e.captures = nil, nil, nil
	e.anim, e.flowmon = nil, nil
	e.clock.SetTime(0)
	return nil
}

// send hands a datagram to the channel of from.
func (e *Engine) send(from *device, src, dst netip.AddrPort, payload int) {
	now := e.clock.Now()
	e.nextUID++
	pkt := &packet{uid: e.nextUID, src: src, dst: dst, payload: payload, sentAt: now}

	e.flowmon.onTx(now, pkt)
	from.capture.record(now, pkt)

	to := e.route(from, dst.Addr())
	if to == nil {
		e.log.Debug(context.Background(), "packet dropped: no route",
			logging.String("src", src.String()),
			logging.String("dst", dst.String()),
		)
		return
	}
	e.sched.ScheduleIn(e.linkDelay(from, to, pkt), func() { e.deliver(from, to, pkt) })
}

func (e *Engine) deliver(from, to *device, pkt *packet) {
	now := e.clock.Now()
	to.capture.record(now, pkt)
	e.anim.record(from.node, to.node, pkt.sentAt, now)
	e.flowmon.onRx(now, pkt)

	if handler, ok := e.nodes[to.node].sockets[pkt.dst.Port()]; ok {
		handler(pkt)
	}
}

// linkDelay is the fixed processing delay, the air time at the data rate
// and, when both nodes are pinned, the distance at the speed of light.
func (e *Engine) linkDelay(from, to *device, pkt *packet) time.Duration {
	d := e.propDelay
	if a, b := e.nodes[from.node].pos, e.nodes[to.node].pos; a != nil && b != nil {
		d += time.Duration(a.DistanceTo(*b) / speedOfLight * float64(time.Second))
	}
	if e.dataRate > 0 {
		d += time.Duration(float64(pkt.size()*8) / e.dataRate * float64(time.Second))
	}
	return d
}

// progress logs once per simulated second.
func (e *Engine) progress() func(time.Duration) {
	last := time.Duration(-1)
	return func(now time.Duration) {
		if sec := now.Truncate(time.Second); sec > last {
			last = sec
			e.log.Debug(context.Background(), "simulation time", logging.Duration("sim_time", now))
		}
	}
}

func (e *Engine) artifactPath(name, ext string) string {
	return filepath.Join(e.outputDir, name+ext)
}

// flushTraces writes captures and the animation. On failure every file it
// wrote is removed again.
func (e *Engine) flushTraces() error {
	if len(e.captures) == 0 && e.anim == nil {
		return nil
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	fail := func(err error) error {
		e.removeArtifacts()
		return err
	}
	for _, c := range e.captures {
		path := e.artifactPath(c.name, ".pcap")
		if err := writeFile(path, func(f *os.File) error { return c.writeTo(f) }); err != nil {
			return fail(err)
		}
		e.written = append(e.written, path)
	}
	if e.anim != nil {
		path := e.artifactPath(e.anim.name, ".xml")
		if err := writeFile(path, func(f *os.File) error { return e.anim.writeTo(f, e.nodes) }); err != nil {
			return fail(err)
		}
		e.written = append(e.written, path)
	}
	return nil
}

func (e *Engine) removeArtifacts() {
	for _, p := range e.written {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn(context.Background(), "artifact not removed", logging.String("path", p), logging.Err(err))
		}
	}
	e.written = nil
}

func writeFile(path string, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
