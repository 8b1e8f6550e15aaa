package main

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-scenario/internal/config"
	"github.com/signalsfoundry/wifi-scenario/internal/logging"
)

// addScenarioFlags registers the flags shared by run and plan.
func addScenarioFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", "", "Scenario name, used as the artifact prefix")
	f.Int("aps", 0, "Number of access points (cells)")
	f.Int("stas", 0, "Stations per access point")
	f.Int("clients", 0, "Stations per cell running an echo client")
	f.Uint64("seed", 0, "Seed for station placement")
	f.Duration("stop", 0, "Application stop time")
	f.Bool("trace", true, "Enable captures, animation trace and flow monitor")
}

// loadConfig reads --config and lays any explicitly set flags over it.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	sc := &cfg.Scenario
	if f.Changed("name") {
		sc.Name, _ = f.GetString("name")
	}
	if f.Changed("aps") {
		sc.AccessPoints, _ = f.GetInt("aps")
	}
	if f.Changed("stas") {
		sc.StationsPerAP, _ = f.GetInt("stas")
	}
	if f.Changed("clients") {
		sc.ActiveClients, _ = f.GetInt("clients")
	}
	if f.Changed("seed") {
		sc.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("stop") {
		sc.Timing.Stop, _ = f.GetDuration("stop")
	}
	if f.Changed("trace") {
		sc.DetailedTrace, _ = f.GetBool("trace")
	}
	if f.Changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Logging.Format, _ = f.GetString("log-format")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.File) logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
}
