package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAggregateSQLPostgres(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	sql, args, err := buildAggregateSQL(postgresDialect{}, Query{
		DeviceID:   "dev-1",
		Range:      &TimeRange{Start: start, End: end},
		Trunc:      TruncHour,
		Aggregates: []Aggregate{{Func: Sum, Field: ActiveEnergy}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT date_trunc('hour', ts) AS bucket, COALESCE(SUM(active_energy), 0) FROM measurements"+
			" WHERE device_id = $1 AND ts >= $2 AND ts <= $3 GROUP BY bucket ORDER BY bucket ASC",
		sql)
	assert.Equal(t, []any{"dev-1", start, end}, args)
}

func TestBuildAggregateSQLGroupedByDevice(t *testing.T) {
	sql, args, err := buildAggregateSQL(postgresDialect{}, Query{
		Trunc:      TruncDay,
		ByDevice:   true,
		Aggregates: []Aggregate{{Func: Sum, Field: ActiveEnergy}, {Func: Sum, Field: ActivePower}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT date_trunc('day', ts) AS bucket, device_id, COALESCE(SUM(active_energy), 0), COALESCE(SUM(active_power), 0)"+
			" FROM measurements GROUP BY bucket, device_id ORDER BY bucket ASC, device_id ASC",
		sql)
	assert.Empty(t, args)
}

func TestBuildAggregateSQLOpenRangeSQLite(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sql, args, err := buildAggregateSQL(sqliteDialect{}, Query{
		Range:      &TimeRange{Start: start},
		Trunc:      TruncHour,
		ByDevice:   true,
		Aggregates: []Aggregate{{Func: Avg, Field: ActivePower}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT (ts - ((ts % 3600000) + 3600000) % 3600000) AS bucket, device_id, COALESCE(AVG(active_power), 0) FROM measurements"+
			" WHERE ts >= ?1 GROUP BY bucket, device_id ORDER BY bucket ASC, device_id ASC",
		sql)
	assert.Equal(t, []any{start.UnixMilli()}, args)
}

func TestBuildAggregateSQLMonthIndex(t *testing.T) {
	sql, _, err := buildAggregateSQL(postgresDialect{}, Query{Trunc: TruncMonth, ByDevice: true, Order: OrderByDevice})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT date_trunc('month', ts) AS bucket, device_id FROM measurements GROUP BY bucket, device_id ORDER BY device_id ASC, bucket ASC",
		sql)
}

func TestBuildAggregateSQLRejectsUnknownField(t *testing.T) {
	_, _, err := buildAggregateSQL(postgresDialect{}, Query{Aggregates: []Aggregate{{Func: Sum, Field: Field(9)}}})
	assert.Error(t, err)
}
