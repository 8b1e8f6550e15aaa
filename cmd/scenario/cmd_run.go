package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-scenario/core"
	"github.com/signalsfoundry/wifi-scenario/internal/config"
	"github.com/signalsfoundry/wifi-scenario/internal/logging"
	"github.com/signalsfoundry/wifi-scenario/internal/observability"
	"github.com/signalsfoundry/wifi-scenario/internal/results"
	"github.com/signalsfoundry/wifi-scenario/internal/sim/engine"
	"github.com/signalsfoundry/wifi-scenario/model"
	"github.com/signalsfoundry/wifi-scenario/timectrl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the scenario and run it to its horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("output-dir") {
				cfg.Output.Dir, _ = f.GetString("output-dir")
			}
			if f.Changed("results-db") {
				cfg.Output.ResultsDB, _ = f.GetString("results-db")
			}
			if f.Changed("metrics-file") {
				cfg.Output.MetricsFile, _ = f.GetString("metrics-file")
			}
			if f.Changed("verbose") {
				cfg.Logging.Verbose, _ = f.GetBool("verbose")
			}
			realtime, _ := f.GetBool("realtime")
			metricsAddr, _ := f.GetString("metrics-addr")

			return runScenario(cmd.Context(), cmd.OutOrStdout(), cfg, newLogger(cmd, cfg), realtime, metricsAddr)
		},
	}
	addScenarioFlags(cmd)
	cmd.Flags().StringP("output-dir", "o", "", "Directory for captures, animation and flow summary")
	cmd.Flags().String("results-db", "", "SQLite file recording run history")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus /metrics on this address while running")
	cmd.Flags().BoolP("verbose", "v", false, "Log every echo client/server send and receive")
	cmd.Flags().Bool("realtime", false, "Pace simulated time against the wall clock")
	return cmd
}

func runScenario(ctx context.Context, out io.Writer, cfg *config.File, log logging.Logger, realtime bool, metricsAddr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, runID := logging.EnsureRunID(ctx)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewScenarioCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	mode := timectrl.Accelerated
	if realtime {
		mode = timectrl.RealTime
	}
	eng := engine.New(
		engine.WithOutputDir(cfg.Output.Dir),
		engine.WithLogger(log.With(logging.String("component", "engine"))),
		engine.WithMode(mode),
		engine.WithVerbose(cfg.Logging.Verbose),
		engine.WithEventCounter(collector),
	)
	driver := core.NewScenarioDriver(eng,
		core.WithLogger(log),
		core.WithMetrics(collector),
	)

	started := time.Now()
	res, runErr := driver.Run(ctx, cfg.Scenario)
	elapsed := time.Since(started)

	if cfg.Output.ResultsDB != "" {
		if err := recordRun(ctx, cfg.Output.ResultsDB, results.NewRun(runID, cfg.Scenario, res, runErr, started, elapsed)); err != nil {
			log.Warn(ctx, "run history not recorded", logging.String("path", cfg.Output.ResultsDB), logging.Err(err))
		}
	}
	if cfg.Output.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			log.Warn(ctx, "metrics textfile not written", logging.Err(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	printRunSummary(out, cfg.Output.Dir, res)
	return nil
}

func recordRun(ctx context.Context, path string, run results.Run) error {
	store, err := results.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.RecordRun(ctx, run)
}

func printRunSummary(out io.Writer, dir string, res *core.Result) {
	fmt.Fprintf(out, "run %s: %d cells, horizon %s\n", res.RunID, len(res.Cells), res.Horizon)
	if len(res.Artifacts) > 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tTARGET\tPATH")
		for _, a := range res.Artifacts {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.Kind, a.Target, artifactPath(dir, a))
		}
		w.Flush()
	}
	if res.Flows != nil {
		tx, rx, lost := res.Flows.Totals()
		fmt.Fprintf(out, "flows: %d, packets tx=%d rx=%d lost=%d\n", len(res.Flows.Flows), tx, rx, lost)
	}
}

func artifactPath(dir string, a model.TelemetryArtifact) string {
	ext := ".xml"
	if a.Kind == model.ArtifactCapture {
		ext = ".pcap"
	}
	return filepath.Join(dir, a.Name+ext)
}

func serveMetrics(addr string, collector *observability.ScenarioCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
