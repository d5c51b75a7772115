package aggregation

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"energy-service/internal/models"
	"energy-service/internal/store"
)

// Result is either the raw measurement history (RAW) or the bucketed series
// (HOUR, DAY). It encodes RAW as a bare JSON array and the bucketed series as
// {"measurements": [...]}.
type Result struct {
	Resolution   models.Resolution
	Raw          []models.Measurement
	Measurements []models.BucketedSample
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Resolution == models.ResolutionRaw {
		raw := r.Raw
		if raw == nil {
			raw = []models.Measurement{}
		}
		return json.Marshal(raw)
	}
	samples := r.Measurements
	if samples == nil {
		samples = []models.BucketedSample{}
	}
	return json.Marshal(struct {
		Measurements []models.BucketedSample `json:"measurements"`
	}{samples})
}

type Aggregator struct {
	store  store.Store
	logger *zap.Logger
}

func NewAggregator(st store.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

// Aggregate returns the accumulated energy of deviceID at the given
// resolution. RAW returns the full device history and ignores rng. Buckets
// without samples are omitted.
func (a *Aggregator) Aggregate(ctx context.Context, deviceID string, res models.Resolution, rng store.TimeRange) (Result, error) {
	switch res {
	case models.ResolutionRaw:
		recs, err := a.store.ListByDevice(ctx, deviceID)
		if err != nil {
			return Result{}, fmt.Errorf("listing measurements for %s: %w", deviceID, err)
		}
		return Result{Resolution: models.ResolutionRaw, Raw: recs}, nil
	case models.ResolutionHour:
		return a.bucketed(ctx, deviceID, models.ResolutionHour, store.TruncHour, rng)
	default:
		return a.bucketed(ctx, deviceID, models.ResolutionDay, store.TruncDay, rng)
	}
}

func (a *Aggregator) bucketed(ctx context.Context, deviceID string, res models.Resolution, trunc store.Truncation, rng store.TimeRange) (Result, error) {
	rows, err := a.store.Aggregate(ctx, store.Query{
		DeviceID:   deviceID,
		Range:      &rng,
		Trunc:      trunc,
		Aggregates: []store.Aggregate{{Func: store.Sum, Field: store.ActiveEnergy}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("aggregating %s by %s: %w", deviceID, trunc, err)
	}

	samples := make([]models.BucketedSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, models.BucketedSample{
			BucketStart:       row.Bucket,
			Resolution:        res,
			AccumulatedEnergy: row.Values[0],
		})
	}
	a.logger.Debug("bucketed energy",
		zap.String("device_id", deviceID),
		zap.String("resolution", string(res)),
		zap.Int("buckets", len(samples)))
	return Result{Resolution: res, Measurements: samples}, nil
}
