package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"energy-service/internal/models"
)

// Timestamps are stored as UTC unix milliseconds so that hour and day buckets
// can be computed with integer arithmetic.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS measurements (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id     TEXT NOT NULL,
	ts            INTEGER NOT NULL,
	active_energy REAL NOT NULL,
	active_power  REAL
);
CREATE INDEX IF NOT EXISTS idx_measurements_device_ts ON measurements (device_id, ts);
CREATE INDEX IF NOT EXISTS idx_measurements_ts ON measurements (ts);
`

// SQLite is a Store backed by an embedded SQLite database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

type sqliteDialect struct{}

// SQLite's % keeps the sign of the dividend, so buckets are floored explicitly
// to stay correct for timestamps before 1970.
func (sqliteDialect) bucketExpr(t Truncation) string {
	switch t {
	case TruncHour:
		return floorMillis(3600000)
	case TruncMonth:
		return "(CAST(strftime('%s', ts / 1000.0, 'unixepoch', 'start of month') AS INTEGER) * 1000)"
	default:
		return floorMillis(86400000)
	}
}

func floorMillis(unit int) string {
	u := strconv.Itoa(unit)
	return "(ts - ((ts % " + u + ") + " + u + ") % " + u + ")"
}

func (sqliteDialect) placeholder(n int) string { return "?" + strconv.Itoa(n) }

func (sqliteDialect) timeArg(t time.Time) any { return t.UTC().UnixMilli() }

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string, maxConns int, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMeasurement(row rowScanner) (models.Measurement, error) {
	var (
		m  models.Measurement
		ms int64
	)
	if err := row.Scan(&m.ID, &m.DeviceID, &ms, &m.ActiveEnergy, &m.ActivePower); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Measurement{}, ErrNotFound
		}
		return models.Measurement{}, err
	}
	m.Timestamp = time.UnixMilli(ms).UTC()
	return m, nil
}

func (s *SQLite) Create(ctx context.Context, m models.Measurement) (models.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO measurements (device_id, ts, active_energy, active_power)
		 VALUES (?1, ?2, ?3, ?4) RETURNING `+measurementColumns,
		m.DeviceID, m.Timestamp.UTC().UnixMilli(), m.ActiveEnergy, m.ActivePower)
	out, err := scanSQLiteMeasurement(row)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("inserting measurement: %w", err)
	}
	return out, nil
}

func (s *SQLite) Get(ctx context.Context, id int64) (models.Measurement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+measurementColumns+` FROM measurements WHERE id = ?1`, id)
	return scanSQLiteMeasurement(row)
}

func (s *SQLite) List(ctx context.Context) ([]models.Measurement, error) {
	return s.query(ctx, `SELECT `+measurementColumns+` FROM measurements ORDER BY id ASC`)
}

func (s *SQLite) ListByDevice(ctx context.Context, deviceID string) ([]models.Measurement, error) {
	return s.query(ctx, `SELECT `+measurementColumns+` FROM measurements WHERE device_id = ?1 ORDER BY id ASC`, deviceID)
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]models.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	out := []models.Measurement{}
	for rows.Next() {
		m, err := scanSQLiteMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning measurement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating measurements: %w", err)
	}
	return out, nil
}

func (s *SQLite) Update(ctx context.Context, id int64, patch models.MeasurementPatch) (models.Measurement, error) {
	var ms *int64
	if patch.Timestamp != nil {
		v := patch.Timestamp.UTC().UnixMilli()
		ms = &v
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE measurements SET
			device_id = COALESCE(?2, device_id),
			ts = COALESCE(?3, ts),
			active_energy = COALESCE(?4, active_energy),
			active_power = COALESCE(?5, active_power)
		 WHERE id = ?1 RETURNING `+measurementColumns,
		id, patch.DeviceID, ms, patch.ActiveEnergy, patch.ActivePower)
	return scanSQLiteMeasurement(row)
}

func (s *SQLite) Delete(ctx context.Context, id int64) (models.Measurement, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM measurements WHERE id = ?1 RETURNING `+measurementColumns, id)
	return scanSQLiteMeasurement(row)
}

func (s *SQLite) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM measurements`)
	if err != nil {
		return 0, fmt.Errorf("deleting measurements: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Aggregate(ctx context.Context, q Query) ([]Row, error) {
	query, args, err := buildAggregateSQL(sqliteDialect{}, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s aggregation: %w", q.Trunc, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var bucket int64
		r := Row{Values: make([]float64, len(q.Aggregates))}
		dest := []any{&bucket}
		if q.ByDevice {
			dest = append(dest, &r.DeviceID)
		}
		for i := range r.Values {
			dest = append(dest, &r.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning aggregate row: %w", err)
		}
		r.Bucket = time.UnixMilli(bucket).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aggregate rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
