// Package history keeps an audit log of completed estimates in SQLite.
// Writes are best effort: a history failure never fails the estimate.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/observability"
)

// Record is one logged estimate.
type Record struct {
	ID                   int64     `json:"id"`
	CreatedAt            time.Time `json:"createdAt"`
	Postcode             string    `json:"postcode"`
	Suburb               string    `json:"suburb"`
	State                string    `json:"state"`
	ChargerConfiguration int       `json:"chargerConfiguration"`
	BatteryCapacityKWh   int       `json:"batteryCapacityKWh"`
	InitialChargePct     int       `json:"initialChargePct"`
	FinalChargePct       int       `json:"finalChargePct"`
	StartDate            string    `json:"startDate"`
	StartTime            string    `json:"startTime"`
	DurationMinutes      float64   `json:"durationMinutes"`
	CostDollars          float64   `json:"costDollars"`
	SolarSavingsDollars  float64   `json:"solarSavingsDollars"`
}

// Store persists estimate records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS estimates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		postcode TEXT NOT NULL,
		suburb TEXT NOT NULL,
		state TEXT NOT NULL,
		charger_configuration INTEGER NOT NULL,
		battery_capacity_kwh INTEGER NOT NULL,
		initial_charge_pct INTEGER NOT NULL,
		final_charge_pct INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		duration_minutes REAL NOT NULL,
		cost_dollars REAL NOT NULL,
		solar_savings_dollars REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_estimates_created ON estimates(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Insert logs one estimate. Outcome is recorded in metrics.
func (s *Store) Insert(ctx context.Context, req models.ChargeRequest, est models.Estimate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimates (
			created_at, postcode, suburb, state,
			charger_configuration, battery_capacity_kwh,
			initial_charge_pct, final_charge_pct,
			start_date, start_time,
			duration_minutes, cost_dollars, solar_savings_dollars
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), req.Postcode, req.Suburb, est.State,
		req.ChargerConfiguration, req.BatteryCapacityKWh,
		req.InitialChargePct, req.FinalChargePct,
		req.StartDate, req.StartTime,
		est.DurationMinutes, est.CostDollars, est.SolarSavingsDollars,
	)
	if err != nil {
		observability.HistoryWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("insert estimate: %w", err)
	}
	observability.HistoryWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, postcode, suburb, state,
			charger_configuration, battery_capacity_kwh,
			initial_charge_pct, final_charge_pct,
			start_date, start_time,
			duration_minutes, cost_dollars, solar_savings_dollars
		FROM estimates ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.CreatedAt, &r.Postcode, &r.Suburb, &r.State,
			&r.ChargerConfiguration, &r.BatteryCapacityKWh,
			&r.InitialChargePct, &r.FinalChargePct,
			&r.StartDate, &r.StartTime,
			&r.DurationMinutes, &r.CostDollars, &r.SolarSavingsDollars,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
