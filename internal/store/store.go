package store

import (
	"context"
	"errors"
	"time"

	"energy-service/internal/models"
)

var ErrNotFound = errors.New("measurement not found")

// Store persists raw measurements and runs grouped range aggregations over them.
type Store interface {
	Create(ctx context.Context, m models.Measurement) (models.Measurement, error)
	Get(ctx context.Context, id int64) (models.Measurement, error)
	List(ctx context.Context) ([]models.Measurement, error)
	ListByDevice(ctx context.Context, deviceID string) ([]models.Measurement, error)
	Update(ctx context.Context, id int64, patch models.MeasurementPatch) (models.Measurement, error)
	Delete(ctx context.Context, id int64) (models.Measurement, error)
	DeleteAll(ctx context.Context) (int64, error)
	Aggregate(ctx context.Context, q Query) ([]Row, error)
	Ping(ctx context.Context) error
	Close() error
}

// TimeRange bounds a query inclusively on both ends. A zero Start or End
// leaves that side open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

type Truncation int

const (
	TruncHour Truncation = iota
	TruncDay
	TruncMonth
)

func (t Truncation) String() string {
	switch t {
	case TruncHour:
		return "hour"
	case TruncDay:
		return "day"
	case TruncMonth:
		return "month"
	}
	return "unknown"
}

// Truncate returns the UTC start of the hour, day or month containing ts.
func Truncate(ts time.Time, t Truncation) time.Time {
	ts = ts.UTC()
	switch t {
	case TruncHour:
		return ts.Truncate(time.Hour)
	case TruncMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
}

type Func int

const (
	Sum Func = iota
	Avg
)

type Field int

const (
	ActiveEnergy Field = iota
	ActivePower
)

type Aggregate struct {
	Func  Func
	Field Field
}

type Order int

const (
	// OrderByBucket sorts ascending by bucket, ties broken by device id.
	OrderByBucket Order = iota
	// OrderByDevice sorts ascending by device id, then bucket.
	OrderByDevice
)

// Query describes a grouped range aggregation. With no Aggregates it yields
// the distinct group keys.
type Query struct {
	DeviceID   string
	Range      *TimeRange
	Trunc      Truncation
	ByDevice   bool
	Aggregates []Aggregate
	Order      Order
}

// Row is one group of an aggregation result. Values holds one entry per
// Query.Aggregates element, in the same order. DeviceID is empty unless the
// query grouped by device. AVG over a group without samples is 0.
type Row struct {
	Bucket   time.Time
	DeviceID string
	Values   []float64
}
