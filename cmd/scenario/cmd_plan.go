package main

import (
	"context"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wifi-scenario/core"
	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/internal/sim/engine"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build the scenario without running it and print it as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cmd, cfg)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			eng := engine.New(engine.WithLogger(log.With(logging.String("component", "engine"))))
			res, err := core.NewScenarioDriver(eng, core.WithLogger(log)).Plan(ctx, cfg.Scenario)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(res); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	addScenarioFlags(cmd)
	return cmd
}
