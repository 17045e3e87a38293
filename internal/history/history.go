// Package history persists readings, alert dispatches and cooling rates
// to SQLite so recent activity can be inspected over HTTP.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/insert-alert.sql
var insertAlertSQL string

//go:embed sql/insert-cooling-rate.sql
var insertCoolingRateSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed sql/get-latest-alerts.sql
var getLatestAlertsSQL string

//go:embed sql/get-latest-cooling-rates.sql
var getLatestCoolingRatesSQL string

//go:embed sql/delete-readings-before.sql
var deleteReadingsBeforeSQL string

//go:embed sql/delete-alerts-before.sql
var deleteAlertsBeforeSQL string

//go:embed sql/delete-cooling-rates-before.sql
var deleteCoolingRatesBeforeSQL string

// AlertKind distinguishes the first alert of an episode from the optional
// recovery notice sent when the gate rearms.
type AlertKind string

const (
	KindAlert    AlertKind = "alert"
	KindRecovery AlertKind = "recovery"
)

type Reading struct {
	Time           time.Time `json:"ts"`
	Temperature    float64   `json:"temperature_c"`
	AboveThreshold bool      `json:"above_threshold"`
	ReportOutcome  string    `json:"report_outcome"`
	ReportStatus   *int      `json:"report_status,omitempty"`
}

type Alert struct {
	EpisodeID   string    `json:"episode_id"`
	Time        time.Time `json:"ts"`
	Kind        AlertKind `json:"kind"`
	Temperature float64   `json:"temperature_c"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
}

type CoolingRate struct {
	Time    time.Time `json:"ts"`
	Rate    float64   `json:"rate_c_per_s"`
	Samples int       `json:"samples"`
}

type Repository interface {
	InsertReading(ctx context.Context, r Reading) error
	InsertAlert(ctx context.Context, a Alert) error
	InsertCoolingRate(ctx context.Context, c CoolingRate) error
	LatestReadings(ctx context.Context, limit int) ([]Reading, error)
	LatestAlerts(ctx context.Context, limit int) ([]Alert, error)
	LatestCoolingRates(ctx context.Context, limit int) ([]CoolingRate, error)
	// Prune deletes every row older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, rec Reading) error {
	var status any
	if rec.ReportStatus != nil {
		status = *rec.ReportStatus
	}
	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		formatTime(rec.Time), rec.Temperature, rec.AboveThreshold, rec.ReportOutcome, status)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *repositoryImpl) InsertAlert(ctx context.Context, a Alert) error {
	if a.Kind != KindAlert && a.Kind != KindRecovery {
		return fmt.Errorf("insert alert: unknown kind %q", a.Kind)
	}
	_, err := r.db.ExecContext(ctx, insertAlertSQL,
		a.EpisodeID, formatTime(a.Time), string(a.Kind), a.Temperature, a.Delivered, a.Failed)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *repositoryImpl) InsertCoolingRate(ctx context.Context, c CoolingRate) error {
	_, err := r.db.ExecContext(ctx, insertCoolingRateSQL, formatTime(c.Time), c.Rate, c.Samples)
	if err != nil {
		return fmt.Errorf("insert cooling rate: %w", err)
	}
	return nil
}

func (r *repositoryImpl) LatestReadings(ctx context.Context, limit int) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	var out []Reading
	for rows.Next() {
		var rec Reading
		var ts string
		var status sql.NullInt64
		if err := rows.Scan(&ts, &rec.Temperature, &rec.AboveThreshold, &rec.ReportOutcome, &status); err != nil {
			return nil, err
		}
		if rec.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		if status.Valid {
			v := int(status.Int64)
			rec.ReportStatus = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) LatestAlerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, getLatestAlertsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close alerts rows", "error", err)
		}
	}()

	var out []Alert
	for rows.Next() {
		var a Alert
		var ts, kind string
		if err := rows.Scan(&a.EpisodeID, &ts, &kind, &a.Temperature, &a.Delivered, &a.Failed); err != nil {
			return nil, err
		}
		if a.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		a.Kind = AlertKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) LatestCoolingRates(ctx context.Context, limit int) ([]CoolingRate, error) {
	rows, err := r.db.QueryContext(ctx, getLatestCoolingRatesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close cooling rate rows", "error", err)
		}
	}()

	var out []CoolingRate
	for rows.Next() {
		var c CoolingRate
		var ts string
		if err := rows.Scan(&ts, &c.Rate, &c.Samples); err != nil {
			return nil, err
		}
		if c.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("prune rollback", "error", err)
		}
	}()

	cutoff := formatTime(before)
	var total int64
	for _, stmt := range []string{deleteReadingsBeforeSQL, deleteAlertsBeforeSQL, deleteCoolingRatesBeforeSQL} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("prune: rows affected: %w", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: commit: %w", err)
	}
	return total, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}
