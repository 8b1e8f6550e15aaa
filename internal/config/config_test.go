package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/wifi-scenario/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultConfig(), cfg.Scenario)
	assert.Equal(t, ".", cfg.Output.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("RUN_DIR", "/tmp/wifi-runs")
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	doc := `
scenario:
  name: dense
  access_points: 4
  stations_per_ap: 6
  active_clients: 2
  subnet_base: 192.168.10.0/24
  seed: 99
  traffic:
    max_packets: 10
    interval: 250ms
  timing:
    stop: 20s
  detailed_trace: false
output:
  dir: ${RUN_DIR}/dense
  results_db: history.db
logging:
  level: debug
  verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.Scenario
	assert.Equal(t, "dense", sc.Name)
	assert.Equal(t, 4, sc.AccessPoints)
	assert.Equal(t, 6, sc.StationsPerAP)
	assert.Equal(t, 2, sc.ActiveClients)
	assert.Equal(t, netip.MustParsePrefix("192.168.10.0/24"), sc.SubnetBase)
	assert.Equal(t, uint64(99), sc.Seed)
	assert.Equal(t, 10, sc.Traffic.MaxPackets)
	assert.Equal(t, 250*time.Millisecond, sc.Traffic.Interval)
	// Unset keys keep their defaults.
	assert.Equal(t, uint16(9), sc.Traffic.Port)
	assert.Equal(t, 64, sc.Traffic.PayloadSize)
	assert.Equal(t, 2*time.Second, sc.Timing.ClientStart)
	assert.Equal(t, 20*time.Second, sc.Timing.Stop)
	assert.False(t, sc.DetailedTrace)
	require.NoError(t, sc.Validate())

	assert.Equal(t, "/tmp/wifi-runs/dense", cfg.Output.Dir)
	assert.Equal(t, "history.db", cfg.Output.ResultsDB)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Verbose)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("scenario:\n  acces_points: 3\n"))
	assert.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCENARIO_NAME", "from_env")
	t.Setenv("SCENARIO_ACCESS_POINTS", "3")
	t.Setenv("SCENARIO_SEED", "18446744073709551615")
	t.Setenv("SCENARIO_STOP", "30s")
	t.Setenv("SCENARIO_DETAILED_TRACE", "0")
	t.Setenv("SCENARIO_OUTPUT_DIR", "out")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Scenario.Name)
	assert.Equal(t, 3, cfg.Scenario.AccessPoints)
	assert.Equal(t, uint64(18446744073709551615), cfg.Scenario.Seed)
	assert.Equal(t, 30*time.Second, cfg.Scenario.Timing.Stop)
	assert.False(t, cfg.Scenario.DetailedTrace)
	assert.Equal(t, "out", cfg.Output.Dir)
}

func TestEnvOverrideErrors(t *testing.T) {
	for key, val := range map[string]string{
		"SCENARIO_ACCESS_POINTS":  "ten",
		"SCENARIO_SEED":           "-1",
		"SCENARIO_STOP":           "10",
		"SCENARIO_SUBNET_BASE":    "10.1.1.0",
		"SCENARIO_DETAILED_TRACE": "yes",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load("")
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestEnvDetailedTraceAcceptsBoolSpellings(t *testing.T) {
	for val, want := range map[string]bool{"TRUE": true, "1": true, "t": true, "False": false, "0": false} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("SCENARIO_DETAILED_TRACE", val)
			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Scenario.DetailedTrace)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "access_points: 10")
	assert.Contains(t, string(data), "stop: 10s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), back)
}
