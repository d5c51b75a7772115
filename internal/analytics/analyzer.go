package analytics

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"energy-service/internal/models"
	"energy-service/internal/store"
)

// HoursPerDay is the fixed divisor used for daily power averaging. It assumes
// one sample per device per hour; with any other cadence the result is an
// approximation, not a mean.
const HoursPerDay = 24

// Analyzer derives fleet-wide consumption reports. Every report returns
// ok == false with a nil error when the underlying query matched no rows.
type Analyzer struct {
	store  store.Store
	logger *zap.Logger
}

func NewAnalyzer(st store.Store, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: st, logger: logger}
}

// DeviceMonthIndex lists every device and every YYYY-MM month present in the
// full history, each deduplicated in order of first appearance.
func (a *Analyzer) DeviceMonthIndex(ctx context.Context) (models.DeviceMonthIndex, bool, error) {
	rows, err := a.store.Aggregate(ctx, store.Query{
		Trunc:    store.TruncMonth,
		ByDevice: true,
		Order:    store.OrderByDevice,
	})
	if err != nil {
		return models.DeviceMonthIndex{}, false, fmt.Errorf("listing device months: %w", err)
	}
	if len(rows) == 0 {
		return models.DeviceMonthIndex{}, false, nil
	}

	devices := make([]string, 0, len(rows))
	months := make([]string, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, row.DeviceID)
		months = append(months, models.FormatMonth(row.Bucket))
	}
	return models.DeviceMonthIndex{Devices: lo.Uniq(devices), Months: lo.Uniq(months)}, true, nil
}

// ActivePowerReport returns the mean active power per device and hour within rng.
func (a *Analyzer) ActivePowerReport(ctx context.Context, rng store.TimeRange) ([]models.ActivePowerRow, bool, error) {
	hourly, err := a.hourly(ctx, rng, store.Aggregate{Func: store.Avg, Field: store.ActivePower})
	if err != nil {
		return nil, false, err
	}
	if len(hourly) == 0 {
		return nil, false, nil
	}
	return lo.Map(hourly, func(h models.HourlyDeviceAggregate, _ int) models.ActivePowerRow {
		return models.ActivePowerRow{DeviceID: h.DeviceID, Hour: h.HourStart, ActivePowerPerHour: h.PowerAvg}
	}), true, nil
}

// ConsumptionPatternsReport sums energy per device and hour within rng and
// classifies the rows against their unweighted mean.
func (a *Analyzer) ConsumptionPatternsReport(ctx context.Context, rng store.TimeRange) (models.ConsumptionReport, bool, error) {
	hourly, err := a.hourly(ctx, rng, store.Aggregate{Func: store.Sum, Field: store.ActiveEnergy})
	if err != nil {
		return models.ConsumptionReport{}, false, err
	}
	rows := lo.Map(hourly, func(h models.HourlyDeviceAggregate, _ int) models.EnergyPerHour {
		return models.EnergyPerHour{DeviceID: h.DeviceID, Hour: h.HourStart, EnergyPerHour: h.EnergySum}
	})
	report, ok := ClassifyConsumption(rows)
	if ok {
		a.logger.Debug("consumption patterns",
			zap.Int("rows", len(rows)),
			zap.Int("peak", len(report.PeakHours)),
			zap.Int("low", len(report.LowHours)))
	}
	return report, ok, nil
}

// ClassifyConsumption computes the total and the per-row average of rows and
// splits them into rows strictly above (peak) and strictly below (low) the
// average. Rows equal to the average are in neither. Input order is kept.
func ClassifyConsumption(rows []models.EnergyPerHour) (models.ConsumptionReport, bool) {
	if len(rows) == 0 {
		return models.ConsumptionReport{}, false
	}

	total := lo.SumBy(rows, func(r models.EnergyPerHour) float64 { return r.EnergyPerHour })
	avg := total / float64(len(rows))

	return models.ConsumptionReport{
		TotalConsumption:   total,
		AverageConsumption: avg,
		PeakHours:          lo.Filter(rows, func(r models.EnergyPerHour, _ int) bool { return r.EnergyPerHour > avg }),
		LowHours:           lo.Filter(rows, func(r models.EnergyPerHour, _ int) bool { return r.EnergyPerHour < avg }),
	}, true
}

// DailyConsumptionAnalysis sums energy and power per device and day over the
// full history.
func (a *Analyzer) DailyConsumptionAnalysis(ctx context.Context) (models.DailyAnalysis, bool, error) {
	rows, err := a.store.Aggregate(ctx, store.Query{
		Trunc:    store.TruncDay,
		ByDevice: true,
		Aggregates: []store.Aggregate{
			{Func: store.Sum, Field: store.ActiveEnergy},
			{Func: store.Sum, Field: store.ActivePower},
		},
	})
	if err != nil {
		return models.DailyAnalysis{}, false, fmt.Errorf("aggregating daily consumption: %w", err)
	}
	daily := lo.Map(rows, func(r store.Row, _ int) models.DailyDeviceAggregate {
		return models.DailyDeviceAggregate{DeviceID: r.DeviceID, Day: r.Bucket, EnergySum: r.Values[0], PowerSum: r.Values[1]}
	})
	analysis, ok := SplitDaily(daily)
	return analysis, ok, nil
}

// SplitDaily derives the parallel power and energy sequences from daily
// aggregates. Average power is PowerSum / HoursPerDay.
func SplitDaily(days []models.DailyDeviceAggregate) (models.DailyAnalysis, bool) {
	if len(days) == 0 {
		return models.DailyAnalysis{}, false
	}
	return models.DailyAnalysis{
		AvgPowerPerDay: lo.Map(days, func(d models.DailyDeviceAggregate, _ int) models.DailyPower {
			return models.DailyPower{Date: d.Day, DeviceID: d.DeviceID, AvgPowerPerDay: d.PowerSum / HoursPerDay}
		}),
		ActiveEnergyPerDay: lo.Map(days, func(d models.DailyDeviceAggregate, _ int) models.DailyEnergy {
			return models.DailyEnergy{Date: d.Day, DeviceID: d.DeviceID, ActiveEnergyPerDay: d.EnergySum}
		}),
	}, true
}

func (a *Analyzer) hourly(ctx context.Context, rng store.TimeRange, agg store.Aggregate) ([]models.HourlyDeviceAggregate, error) {
	rows, err := a.store.Aggregate(ctx, store.Query{
		Range:      &rng,
		Trunc:      store.TruncHour,
		ByDevice:   true,
		Aggregates: []store.Aggregate{agg},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating hourly device data: %w", err)
	}

	out := make([]models.HourlyDeviceAggregate, 0, len(rows))
	for _, row := range rows {
		h := models.HourlyDeviceAggregate{DeviceID: row.DeviceID, HourStart: row.Bucket}
		if agg.Field == store.ActivePower {
			h.PowerAvg = row.Values[0]
		} else {
			h.EnergySum = row.Values[0]
		}
		out = append(out, h)
	}
	return out, nil
}
