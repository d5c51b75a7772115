package store

import (
	"fmt"
	"strings"
	"time"
)

const measurementColumns = "id, device_id, ts, active_energy, active_power"

// dialect abstracts the differences between the SQL engines.
type dialect interface {
	bucketExpr(t Truncation) string
	placeholder(n int) string
	timeArg(t time.Time) any
}

// buildAggregateSQL renders q as a single grouped SELECT. Result columns are
// bucket, then device_id when grouping by device, then one column per aggregate.
func buildAggregateSQL(d dialect, q Query) (string, []any, error) {
	var (
		sb    strings.Builder
		args  []any
		where []string
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	sb.WriteString("SELECT ")
	sb.WriteString(d.bucketExpr(q.Trunc))
	sb.WriteString(" AS bucket")
	if q.ByDevice {
		sb.WriteString(", device_id")
	}
	for _, agg := range q.Aggregates {
		expr, err := aggregateExpr(agg)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(", ")
		sb.WriteString(expr)
	}
	sb.WriteString(" FROM measurements")

	if q.DeviceID != "" {
		where = append(where, "device_id = "+bind(q.DeviceID))
	}
	if q.Range != nil {
		if !q.Range.Start.IsZero() {
			where = append(where, "ts >= "+bind(d.timeArg(q.Range.Start)))
		}
		if !q.Range.End.IsZero() {
			where = append(where, "ts <= "+bind(d.timeArg(q.Range.End)))
		}
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	sb.WriteString(" GROUP BY bucket")
	if q.ByDevice {
		sb.WriteString(", device_id")
	}

	switch {
	case q.ByDevice && q.Order == OrderByDevice:
		sb.WriteString(" ORDER BY device_id ASC, bucket ASC")
	case q.ByDevice:
		sb.WriteString(" ORDER BY bucket ASC, device_id ASC")
	default:
		sb.WriteString(" ORDER BY bucket ASC")
	}
	return sb.String(), args, nil
}

func aggregateExpr(agg Aggregate) (string, error) {
	var column string
	switch agg.Field {
	case ActiveEnergy:
		column = "active_energy"
	case ActivePower:
		column = "active_power"
	default:
		return "", fmt.Errorf("unknown aggregate field %d", agg.Field)
	}
	switch agg.Func {
	case Sum:
		return "COALESCE(SUM(" + column + "), 0)", nil
	case Avg:
		return "COALESCE(AVG(" + column + "), 0)", nil
	}
	return "", fmt.Errorf("unknown aggregate function %d", agg.Func)
}
