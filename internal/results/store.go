// Package results keeps a SQLite history of scenario runs and the flow
// statistics each run produced.
package results

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/netip"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/wifi-scenario/core"
	"github.com/signalsfoundry/wifi-scenario/internal/observability"
	"github.com/signalsfoundry/wifi-scenario/model"
)

// schema.sql creates the runs and flows tables.
//
//go:embed schema.sql
var schemaSQL string

// Run is one row of run history.
type Run struct {
	ID            string
	Name          string
	StartedAt     time.Time
	Duration      time.Duration
	Horizon       time.Duration
	AccessPoints  int
	StationsPerAP int
	Seed          uint64
	DetailedTrace bool

	Outcome string
	Error   string

	TxPackets   uint64
	RxPackets   uint64
	LostPackets uint64

	// Flows is only populated by RecordRun callers and Store.Flows.
	Flows []model.FlowStats
}

// NewRun describes a finished run. res may be nil when the run failed.
func NewRun(id string, cfg core.Config, res *core.Result, runErr error, started time.Time, elapsed time.Duration) Run {
	r := Run{
		ID:            id,
		Name:          cfg.Name,
		StartedAt:     started,
		Duration:      elapsed,
		AccessPoints:  cfg.AccessPoints,
		StationsPerAP: cfg.StationsPerAP,
		Seed:          cfg.Seed,
		DetailedTrace: cfg.DetailedTrace,
		Outcome:       outcomeOf(runErr),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if res != nil {
		if res.RunID != "" {
			r.ID = res.RunID
		}
		r.Horizon = res.Horizon
		r.TxPackets, r.RxPackets, r.LostPackets = res.Flows.Totals()
		if res.Flows != nil {
			r.Flows = res.Flows.Flows
		}
	}
	return r
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case core.IsConfigurationError(err):
		return observability.OutcomeConfigError
	default:
		return observability.OutcomeEngineError
	}
}

// Store wraps the results database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	// One writer; the CLI never shares the handle across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply results schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordRun stores run and its flows in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, started_at, duration_ns, horizon_ns, access_points,
			stations_per_ap, seed, detailed_trace, outcome, error,
			tx_packets, rx_packets, lost_packets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.StartedAt.UTC().Format(time.RFC3339Nano),
		int64(run.Duration), int64(run.Horizon), run.AccessPoints, run.StationsPerAP,
		int64(run.Seed), run.DetailedTrace, run.Outcome, run.Error,
		int64(run.TxPackets), int64(run.RxPackets), int64(run.LostPackets),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flows (run_id, flow_id, source, destination, protocol, source_port,
			dest_port, tx_packets, rx_packets, lost_packets, tx_bytes, rx_bytes,
			delay_mean_ns, delay_stddev_ns, jitter_sum_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare flow insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range run.Flows {
		_, err := stmt.ExecContext(ctx,
			run.ID, f.FlowID, f.Key.Source.String(), f.Key.Destination.String(),
			f.Key.Protocol, f.Key.SourcePort, f.Key.DestPort,
			int64(f.TxPackets), int64(f.RxPackets), int64(f.LostPackets),
			int64(f.TxBytes), int64(f.RxBytes),
			int64(f.DelayMean), int64(f.DelayStdDev), int64(f.JitterSum),
		)
		if err != nil {
			return fmt.Errorf("insert flow %d of run %s: %w", f.FlowID, run.ID, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns up to limit runs, newest first. Flows are not loaded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, started_at, duration_ns, horizon_ns, access_points,
			stations_per_ap, seed, detailed_trace, outcome, error,
			tx_packets, rx_packets, lost_packets
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                  Run
			started            string
			duration, horizon  int64
			seed, tx, rx, lost int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &started, &duration, &horizon, &r.AccessPoints,
			&r.StationsPerAP, &seed, &r.DetailedTrace, &r.Outcome, &r.Error, &tx, &rx, &lost); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, started, err)
		}
		r.Duration, r.Horizon = time.Duration(duration), time.Duration(horizon)
		r.Seed = uint64(seed)
		r.TxPackets, r.RxPackets, r.LostPackets = uint64(tx), uint64(rx), uint64(lost)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Flows returns the flow statistics recorded for runID ordered by flow id.
func (s *Store) Flows(ctx context.Context, runID string) ([]model.FlowStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_id, source, destination, protocol, source_port, dest_port,
			tx_packets, rx_packets, lost_packets, tx_bytes, rx_bytes,
			delay_mean_ns, delay_stddev_ns, jitter_sum_ns
		FROM flows WHERE run_id = ? ORDER BY flow_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	var flows []model.FlowStats
	for rows.Next() {
		var (
			f                      model.FlowStats
			src, dst               string
			tx, rx, lost, txB, rxB int64
			mean, std, jitter      int64
		)
		if err := rows.Scan(&f.FlowID, &src, &dst, &f.Key.Protocol, &f.Key.SourcePort, &f.Key.DestPort,
			&tx, &rx, &lost, &txB, &rxB, &mean, &std, &jitter); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		if f.Key.Source, err = netip.ParseAddr(src); err != nil {
			return nil, fmt.Errorf("flow %d source: %w", f.FlowID, err)
		}
		if f.Key.Destination, err = netip.ParseAddr(dst); err != nil {
			return nil, fmt.Errorf("flow %d destination: %w", f.FlowID, err)
		}
		f.TxPackets, f.RxPackets, f.LostPackets = uint64(tx), uint64(rx), uint64(lost)
		f.TxBytes, f.RxBytes = uint64(txB), uint64(rxB)
		f.DelayMean, f.DelayStdDev, f.JitterSum = time.Duration(mean), time.Duration(std), time.Duration(jitter)
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
