package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scenario",
		Short: "Generate and run multi-cell wireless scenarios",
		Long: `scenario builds a grid of infrastructure Wi-Fi cells, one access point
and a handful of stations each, attaches UDP echo traffic to every cell and
runs it on the built-in discrete-event engine. With detailed tracing it
writes one pcap per access point, an animation trace and a flow summary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Scenario YAML file (defaults apply when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
