package engine_test

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/signalsfoundry/wifi-scenario/core"
	"github.com/signalsfoundry/wifi-scenario/internal/sim/engine"
	"github.com/signalsfoundry/wifi-scenario/model"
	"github.com/signalsfoundry/wifi-scenario/timectrl"
)

var _ core.Engine = (*engine.Engine)(nil)

type eventCount struct{ n int }

func (c *eventCount) AddEngineEvents(n int) { c.n += n }

func TestEngine_DefaultScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	events := &eventCount{}
	eng := engine.New(engine.WithOutputDir(dir), engine.WithEventCounter(events))

	cfg := core.DefaultConfig()
	res, err := core.NewScenarioDriver(eng).Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Horizon != 13*time.Second {
		t.Fatalf("horizon = %s, want 13s", res.Horizon)
	}
	if len(res.Cells) != 10 {
		t.Fatalf("cells = %d, want 10", len(res.Cells))
	}
	if events.n == 0 {
		t.Fatalf("expected the run to report executed events")
	}

	// One client per cell, echoed back: two flows per cell.
	if res.Flows == nil || len(res.Flows.Flows) != 20 {
		t.Fatalf("expected 20 flows, got %+v", res.Flows)
	}
	for _, f := range res.Flows.Flows {
		if f.TxPackets != 3 || f.RxPackets != 3 || f.LostPackets != 0 {
			t.Fatalf("flow %s: tx=%d rx=%d lost=%d, want 3/3/0", f.Key, f.TxPackets, f.RxPackets, f.LostPackets)
		}
		if f.TxBytes != 3*(28+64) {
			t.Fatalf("flow %s: tx bytes = %d", f.Key, f.TxBytes)
		}
		if f.DelayMean <= 0 || f.DelayStdDev != 0 {
			t.Fatalf("flow %s: delay mean=%s std=%s", f.Key, f.DelayMean, f.DelayStdDev)
		}
		if f.TimeFirstTx < 2*time.Second || f.TimeLastRx > 10*time.Second {
			t.Fatalf("flow %s outside application window: %s..%s", f.Key, f.TimeFirstTx, f.TimeLastRx)
		}
	}

	for _, a := range res.Artifacts {
		ext := ".xml"
		if a.Kind == model.ArtifactCapture {
			ext = ".pcap"
		}
		if _, err := os.Stat(filepath.Join(dir, a.Name+ext)); err != nil {
			t.Fatalf("artifact %s missing: %v", a.Name, err)
		}
	}

	flows, err := os.ReadFile(filepath.Join(dir, "experiment_v6_flows.xml"))
	if err != nil {
		t.Fatalf("read flow summary: %v", err)
	}
	if !strings.Contains(string(flows), `<Ipv4FlowClassifier>`) || !strings.Contains(string(flows), `txPackets="3"`) {
		t.Fatalf("unexpected flow summary:\n%s", flows)
	}

	// Destroy has run; a second one is a no-op.
	if err := eng.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestEngine_CaptureContainsEchoExchange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.AccessPoints = 2

	if _, err := core.NewScenarioDriver(engine.New(engine.WithOutputDir(dir))).Run(ctx, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "experiment_v6_1.pcap"))
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("pcap reader: %v", err)
	}
	if r.LinkType() != layers.LinkTypeRaw {
		t.Fatalf("link type = %v, want raw", r.LinkType())
	}

	var toServer, fromServer int
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
		ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if ip == nil || udp == nil {
			t.Fatalf("capture holds a non IPv4/UDP packet")
		}
		if !ip.DstIP.Equal(netipToIP("10.1.2.1")) && !ip.SrcIP.Equal(netipToIP("10.1.2.1")) {
			t.Fatalf("packet %s -> %s does not involve cell 1's access point", ip.SrcIP, ip.DstIP)
		}
		switch {
		case udp.DstPort == 9:
			toServer++
		case udp.SrcPort == 9:
			fromServer++
		}
		if len(udp.Payload) != 64 {
			t.Fatalf("payload = %d bytes, want 64", len(udp.Payload))
		}
	}
	if toServer != 3 || fromServer != 3 {
		t.Fatalf("capture has %d requests and %d echoes, want 3 and 3", toServer, fromServer)
	}
}

func netipToIP(s string) []byte {
	return netip.MustParseAddr(s).AsSlice()
}

func TestEngine_MismatchedNetworkNameLosesTraffic(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(engine.WithOutputDir(t.TempDir()))

	nodes, err := eng.CreateNodes(ctx, 2)
	if err != nil {
		t.Fatalf("CreateNodes: %v", err)
	}
	ch, _ := eng.CreateChannel(ctx)
	apDev, err := eng.CreateDeviceGroup(ctx, ch, model.RoleAccessPoint, "SSID-0", nodes[:1])
	if err != nil {
		t.Fatalf("CreateDeviceGroup(ap): %v", err)
	}
	staDev, err := eng.CreateDeviceGroup(ctx, ch, model.RoleStation, "SSID-other", nodes[1:])
	if err != nil {
		t.Fatalf("CreateDeviceGroup(sta): %v", err)
	}
	if err := eng.InstallTransportStack(ctx, nodes); err != nil {
		t.Fatalf("InstallTransportStack: %v", err)
	}
	subnet := model.SubnetDescriptor{Prefix: netip.MustParsePrefix("10.1.1.0/24")}
	addrs, err := eng.AllocateAddresses(ctx, subnet, append(apDev, staDev...))
	if err != nil {
		t.Fatalf("AllocateAddresses: %v", err)
	}
	if addrs[0] != netip.MustParseAddr("10.1.1.1") || addrs[1] != netip.MustParseAddr("10.1.1.2") {
		t.Fatalf("addresses = %v", addrs)
	}

	base := model.TrafficEndpoint{Port: 9, PayloadSize: 64, MaxPackets: 3, Interval: time.Second, Stop: 10 * time.Second}
	server := base
	server.Role, server.Node, server.Start = model.RoleResponder, nodes[0], time.Second
	client := base
	client.Role, client.Node, client.Start = model.RoleInitiator, nodes[1], 2*time.Second
	client.Target = netip.AddrPortFrom(addrs[0], 9)

	if err := eng.ScheduleApplication(ctx, server); err != nil {
		t.Fatalf("schedule server: %v", err)
	}
	if err := eng.ScheduleApplication(ctx, client); err != nil {
		t.Fatalf("schedule client: %v", err)
	}
	if err := eng.EnableFlowMonitor(ctx); err != nil {
		t.Fatalf("EnableFlowMonitor: %v", err)
	}
	if err := eng.RunUntil(ctx, 13*time.Second); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}

	summary, err := eng.CollectFlowStatistics(ctx, "mismatch_flows")
	if err != nil {
		t.Fatalf("CollectFlowStatistics: %v", err)
	}
	tx, rx, lost := summary.Totals()
	if tx != 3 || rx != 0 || lost != 3 {
		t.Fatalf("totals tx=%d rx=%d lost=%d, want 3/0/3", tx, rx, lost)
	}
}

func TestEngine_LifecycleErrors(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(engine.WithOutputDir(t.TempDir()))

	if _, err := eng.CollectFlowStatistics(ctx, "x"); !errors.Is(err, engine.ErrNotRun) {
		t.Fatalf("CollectFlowStatistics before run: got %v, want ErrNotRun", err)
	}
	if _, err := eng.CreateDeviceGroup(ctx, 7, model.RoleStation, "SSID-0", nil); !errors.Is(err, engine.ErrChannelNotFound) {
		t.Fatalf("unknown channel: got %v", err)
	}
	if err := eng.SetConstantPosition(ctx, 42, model.Position{}); !errors.Is(err, engine.ErrNodeNotFound) {
		t.Fatalf("unknown node: got %v", err)
	}

	if err := eng.RunUntil(ctx, time.Second); err != nil {
		t.Fatalf("empty RunUntil: %v", err)
	}
	if eng.Now() != time.Second {
		t.Fatalf("Now = %s, want 1s", eng.Now())
	}
	if err := eng.RunUntil(ctx, 2*time.Second); !errors.Is(err, engine.ErrAlreadyRun) {
		t.Fatalf("second RunUntil: got %v, want ErrAlreadyRun", err)
	}
	if _, err := eng.CreateNodes(ctx, 1); !errors.Is(err, engine.ErrAlreadyRun) {
		t.Fatalf("CreateNodes after run: got %v, want ErrAlreadyRun", err)
	}

	if err := eng.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := eng.CreateChannel(ctx); !errors.Is(err, engine.ErrDestroyed) {
		t.Fatalf("CreateChannel after destroy: got %v, want ErrDestroyed", err)
	}
}

func TestEngine_DuplicateResponderPortRejected(t *testing.T) {
	ctx := context.Background()
	eng := engine.New()

	nodes, _ := eng.CreateNodes(ctx, 1)
	ch, _ := eng.CreateChannel(ctx)
	devs, _ := eng.CreateDeviceGroup(ctx, ch, model.RoleAccessPoint, "SSID-0", nodes)
	_ = eng.InstallTransportStack(ctx, nodes)
	if _, err := eng.AllocateAddresses(ctx, model.SubnetDescriptor{Prefix: netip.MustParsePrefix("10.1.1.0/24")}, devs); err != nil {
		t.Fatalf("AllocateAddresses: %v", err)
	}

	ep := model.TrafficEndpoint{Role: model.RoleResponder, Node: nodes[0], Port: 9, Start: time.Second, Stop: 10 * time.Second}
	if err := eng.ScheduleApplication(ctx, ep); err != nil {
		t.Fatalf("first responder: %v", err)
	}
	if err := eng.ScheduleApplication(ctx, ep); !errors.Is(err, engine.ErrPortInUse) {
		t.Fatalf("second responder: got %v, want ErrPortInUse", err)
	}
}

func TestEngine_UnwritableOutputFailsRunAndDestroys(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	eng := engine.New(engine.WithOutputDir(blocker))

	cfg := core.DefaultConfig()
	cfg.AccessPoints = 1
	res, err := core.NewScenarioDriver(eng).Run(ctx, cfg)
	if err == nil {
		t.Fatalf("expected run to fail, got %+v", res)
	}
	var ee *core.EngineError
	if !errors.As(err, &ee) || ee.Op != "RunUntil" {
		t.Fatalf("expected RunUntil EngineError, got %T %v", err, err)
	}
	if res != nil {
		t.Fatalf("failed run returned a result")
	}
	if _, err := eng.CreateNodes(ctx, 1); !errors.Is(err, engine.ErrDestroyed) {
		t.Fatalf("engine not destroyed after failed run: %v", err)
	}
}

func TestEngine_FailedFlowSummaryRemovesTraces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// A directory where the flow summary should go makes its write fail
	// after the captures and animation are already on disk.
	if err := os.Mkdir(filepath.Join(dir, "experiment_v6_flows.xml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := core.NewScenarioDriver(engine.New(engine.WithOutputDir(dir))).Run(ctx, core.DefaultConfig())
	if err == nil {
		t.Fatalf("expected run to fail, got %+v", res)
	}
	var ee *core.EngineError
	if !errors.As(err, &ee) || ee.Op != "CollectFlowStatistics" {
		t.Fatalf("expected CollectFlowStatistics EngineError, got %T %v", err, err)
	}
	if res != nil {
		t.Fatalf("failed run returned a result")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "experiment_v6_flows.xml" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("aborted run left artifacts behind: %v", names)
	}
}

func TestEngine_DestroyBeforeCollectRemovesTraces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	eng := engine.New(engine.WithOutputDir(dir))

	nodes, err := eng.CreateNodes(ctx, 1)
	if err != nil {
		t.Fatalf("CreateNodes: %v", err)
	}
	ch, _ := eng.CreateChannel(ctx)
	devs, err := eng.CreateDeviceGroup(ctx, ch, model.RoleAccessPoint, "SSID-0", nodes)
	if err != nil {
		t.Fatalf("CreateDeviceGroup: %v", err)
	}
	if err := eng.EnableCapture(ctx, devs[0], "lonely_0"); err != nil {
		t.Fatalf("EnableCapture: %v", err)
	}
	if err := eng.EnableAnimation(ctx, "lonely_anim", 10); err != nil {
		t.Fatalf("EnableAnimation: %v", err)
	}
	if err := eng.EnableFlowMonitor(ctx); err != nil {
		t.Fatalf("EnableFlowMonitor: %v", err)
	}
	if err := eng.RunUntil(ctx, time.Second); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}

	pcap := filepath.Join(dir, "lonely_0.pcap")
	if _, err := os.Stat(pcap); err != nil {
		t.Fatalf("capture not written by RunUntil: %v", err)
	}

	if err := eng.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected traces removed when the flow summary was never collected, found %d files", len(entries))
	}
}

func TestEngine_RealTimeModeTracksWallClock(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time pacing sleeps")
	}
	ctx := context.Background()
	eng := engine.New(engine.WithMode(timectrl.RealTime))

	start := time.Now()
	if err := eng.RunUntil(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("real-time run finished in %s", elapsed)
	}
}
