package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"energy-service/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS measurements (
	id            BIGSERIAL PRIMARY KEY,
	device_id     TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	active_energy DOUBLE PRECISION NOT NULL,
	active_power  DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_measurements_device_ts ON measurements (device_id, ts);
CREATE INDEX IF NOT EXISTS idx_measurements_ts ON measurements (ts);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type postgresDialect struct{}

func (postgresDialect) bucketExpr(t Truncation) string {
	return "date_trunc('" + t.String() + "', ts)"
}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) timeArg(t time.Time) any { return t.UTC() }

// NewPostgres connects to dsn and makes sure the measurements table exists.
// Sessions run in UTC so date_trunc buckets line up with the memory engine.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("postgres store ready", zap.Int32("max_conns", cfg.MaxConns))
	return &Postgres{pool: pool, logger: logger}, nil
}

func scanPGMeasurement(row pgx.Row) (models.Measurement, error) {
	var m models.Measurement
	if err := row.Scan(&m.ID, &m.DeviceID, &m.Timestamp, &m.ActiveEnergy, &m.ActivePower); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Measurement{}, ErrNotFound
		}
		return models.Measurement{}, err
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func (p *Postgres) Create(ctx context.Context, m models.Measurement) (models.Measurement, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO measurements (device_id, ts, active_energy, active_power)
		 VALUES ($1, $2, $3, $4) RETURNING `+measurementColumns,
		m.DeviceID, m.Timestamp.UTC(), m.ActiveEnergy, m.ActivePower)
	out, err := scanPGMeasurement(row)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("inserting measurement: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id int64) (models.Measurement, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+measurementColumns+` FROM measurements WHERE id = $1`, id)
	return scanPGMeasurement(row)
}

func (p *Postgres) List(ctx context.Context) ([]models.Measurement, error) {
	return p.query(ctx, `SELECT `+measurementColumns+` FROM measurements ORDER BY id ASC`)
}

func (p *Postgres) ListByDevice(ctx context.Context, deviceID string) ([]models.Measurement, error) {
	return p.query(ctx, `SELECT `+measurementColumns+` FROM measurements WHERE device_id = $1 ORDER BY id ASC`, deviceID)
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]models.Measurement, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	out := []models.Measurement{}
	for rows.Next() {
		m, err := scanPGMeasurement(rows)
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

func (p *Postgres) Update(ctx context.Context, id int64, patch models.MeasurementPatch) (models.Measurement, error) {
	var ts *time.Time
	if patch.Timestamp != nil {
		u := patch.Timestamp.UTC()
		ts = &u
	}
	row := p.pool.QueryRow(ctx,
		`UPDATE measurements SET
			device_id = COALESCE($2, device_id),
			ts = COALESCE($3, ts),
			active_energy = COALESCE($4, active_energy),
			active_power = COALESCE($5, active_power)
		 WHERE id = $1 RETURNING `+measurementColumns,
		id, patch.DeviceID, ts, patch.ActiveEnergy, patch.ActivePower)
	return scanPGMeasurement(row)
}

func (p *Postgres) Delete(ctx context.Context, id int64) (models.Measurement, error) {
	row := p.pool.QueryRow(ctx, `DELETE FROM measurements WHERE id = $1 RETURNING `+measurementColumns, id)
	return scanPGMeasurement(row)
}

func (p *Postgres) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM measurements`)
	if err != nil {
		return 0, fmt.Errorf("deleting measurements: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Aggregate(ctx context.Context, q Query) ([]Row, error) {
	sql, args, err := buildAggregateSQL(postgresDialect{}, q)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s aggregation: %w", q.Trunc, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r := Row{Values: make([]float64, len(q.Aggregates))}
		dest := []any{&r.Bucket}
		if q.ByDevice {
			dest = append(dest, &r.DeviceID)
		}
		for i := range r.Values {
			dest = append(dest, &r.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning aggregate row: %w", err)
		}
		r.Bucket = r.Bucket.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aggregate rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
