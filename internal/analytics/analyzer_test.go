package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"energy-service/internal/models"
	"energy-service/internal/store"
)

func hour(day, h int) time.Time {
	return time.Date(2023, 6, day, h, 0, 0, 0, time.UTC)
}

func pw(v float64) *float64 { return &v }

func newAnalyzer(t *testing.T, recs ...models.Measurement) (*Analyzer, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	for _, m := range recs {
		_, err := st.Create(context.Background(), m)
		require.NoError(t, err)
	}
	return NewAnalyzer(st, zap.NewNop()), st
}

func TestClassifyConsumption(t *testing.T) {
	rows := []models.EnergyPerHour{
		{DeviceID: "a", Hour: hour(1, 0), EnergyPerHour: 100},
		{DeviceID: "a", Hour: hour(1, 1), EnergyPerHour: 200},
		{DeviceID: "b", Hour: hour(1, 2), EnergyPerHour: 300},
	}

	report, ok := ClassifyConsumption(rows)
	require.True(t, ok)
	assert.Equal(t, 600.0, report.TotalConsumption)
	assert.Equal(t, 200.0, report.AverageConsumption)
	assert.Equal(t, []models.EnergyPerHour{rows[2]}, report.PeakHours)
	assert.Equal(t, []models.EnergyPerHour{rows[0]}, report.LowHours)
}

func TestClassifyConsumptionKeepsOrder(t *testing.T) {
	rows := []models.EnergyPerHour{
		{DeviceID: "a", Hour: hour(1, 0), EnergyPerHour: 9},
		{DeviceID: "b", Hour: hour(1, 0), EnergyPerHour: 1},
		{DeviceID: "a", Hour: hour(1, 1), EnergyPerHour: 7},
		{DeviceID: "b", Hour: hour(1, 1), EnergyPerHour: 3},
	}

	report, ok := ClassifyConsumption(rows)
	require.True(t, ok)
	assert.Equal(t, 5.0, report.AverageConsumption)
	assert.Equal(t, []models.EnergyPerHour{rows[0], rows[2]}, report.PeakHours)
	assert.Equal(t, []models.EnergyPerHour{rows[1], rows[3]}, report.LowHours)
}

func TestClassifyConsumptionEmpty(t *testing.T) {
	_, ok := ClassifyConsumption(nil)
	assert.False(t, ok)
}

func TestConsumptionPatternsReport(t *testing.T) {
	a, _ := newAnalyzer(t,
		models.Measurement{DeviceID: "a", Timestamp: hour(1, 0).Add(5 * time.Minute), ActiveEnergy: 60},
		models.Measurement{DeviceID: "a", Timestamp: hour(1, 0).Add(35 * time.Minute), ActiveEnergy: 40},
		models.Measurement{DeviceID: "b", Timestamp: hour(1, 0), ActiveEnergy: 200},
		models.Measurement{DeviceID: "a", Timestamp: hour(1, 1), ActiveEnergy: 300},
		// outside range
		models.Measurement{DeviceID: "a", Timestamp: hour(3, 0), ActiveEnergy: 10000},
	)

	report, ok, err := a.ConsumptionPatternsReport(context.Background(), store.TimeRange{Start: hour(1, 0), End: hour(2, 0)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 600.0, report.TotalConsumption)
	assert.Equal(t, 200.0, report.AverageConsumption)
	require.Len(t, report.PeakHours, 1)
	assert.Equal(t, "a", report.PeakHours[0].DeviceID)
	assert.True(t, hour(1, 1).Equal(report.PeakHours[0].Hour))
	require.Len(t, report.LowHours, 1)
	assert.Equal(t, 100.0, report.LowHours[0].EnergyPerHour)
}

func TestReportsSignalNoData(t *testing.T) {
	a, _ := newAnalyzer(t, models.Measurement{DeviceID: "a", Timestamp: hour(10, 0), ActiveEnergy: 1})
	ctx := context.Background()
	empty := store.TimeRange{Start: hour(1, 0), End: hour(2, 0)}

	report, ok, err := a.ConsumptionPatternsReport(ctx, empty)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, math.IsNaN(report.AverageConsumption))

	rows, ok, err := a.ActivePowerReport(ctx, empty)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rows)

	b, _ := newAnalyzer(t)
	_, ok, err = b.DailyConsumptionAnalysis(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = b.DeviceMonthIndex(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportsPropagateStoreFailure(t *testing.T) {
	a, st := newAnalyzer(t)
	boom := errors.New("db down")
	st.FailWith(boom)
	ctx := context.Background()

	_, _, err := a.ConsumptionPatternsReport(ctx, store.TimeRange{})
	assert.ErrorIs(t, err, boom)
	_, _, err = a.ActivePowerReport(ctx, store.TimeRange{})
	assert.ErrorIs(t, err, boom)
	_, _, err = a.DailyConsumptionAnalysis(ctx)
	assert.ErrorIs(t, err, boom)
	_, _, err = a.DeviceMonthIndex(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestActivePowerReport(t *testing.T) {
	a, _ := newAnalyzer(t,
		models.Measurement{DeviceID: "b", Timestamp: hour(1, 0), ActivePower: pw(100)},
		models.Measurement{DeviceID: "b", Timestamp: hour(1, 0).Add(30 * time.Minute), ActivePower: pw(300)},
		models.Measurement{DeviceID: "a", Timestamp: hour(1, 1), ActivePower: pw(50)},
	)

	rows, ok, err := a.ActivePowerReport(context.Background(), store.TimeRange{Start: hour(1, 0), End: hour(1, 23)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ActivePowerRow{DeviceID: "b", Hour: hour(1, 0), ActivePowerPerHour: 200}, rows[0])
	assert.Equal(t, models.ActivePowerRow{DeviceID: "a", Hour: hour(1, 1), ActivePowerPerHour: 50}, rows[1])
}

func TestSplitDaily(t *testing.T) {
	day := hour(1, 0)
	out, ok := SplitDaily([]models.DailyDeviceAggregate{{DeviceID: "a", Day: day, EnergySum: 12.5, PowerSum: 4800}})
	require.True(t, ok)
	require.Len(t, out.AvgPowerPerDay, 1)
	assert.Equal(t, 200.0, out.AvgPowerPerDay[0].AvgPowerPerDay)
	assert.Equal(t, models.DailyEnergy{Date: day, DeviceID: "a", ActiveEnergyPerDay: 12.5}, out.ActiveEnergyPerDay[0])

	_, ok = SplitDaily(nil)
	assert.False(t, ok)
}

func TestDailyConsumptionAnalysis(t *testing.T) {
	var recs []models.Measurement
	for h := 0; h < 24; h++ {
		recs = append(recs, models.Measurement{DeviceID: "a", Timestamp: hour(1, h), ActiveEnergy: 1, ActivePower: pw(200)})
	}
	recs = append(recs, models.Measurement{DeviceID: "b", Timestamp: hour(2, 5), ActiveEnergy: 3, ActivePower: pw(48)})
	a, _ := newAnalyzer(t, recs...)

	out, ok, err := a.DailyConsumptionAnalysis(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, out.AvgPowerPerDay, 2)
	require.Len(t, out.ActiveEnergyPerDay, 2)

	assert.Equal(t, 200.0, out.AvgPowerPerDay[0].AvgPowerPerDay)
	assert.Equal(t, 24.0, out.ActiveEnergyPerDay[0].ActiveEnergyPerDay)
	assert.Equal(t, "b", out.AvgPowerPerDay[1].DeviceID)
	// a single sample is still divided by 24
	assert.Equal(t, 2.0, out.AvgPowerPerDay[1].AvgPowerPerDay)
	assert.True(t, hour(2, 0).Equal(out.ActiveEnergyPerDay[1].Date))
}

func TestDeviceMonthIndex(t *testing.T) {
	a, _ := newAnalyzer(t,
		models.Measurement{DeviceID: "d1", Timestamp: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)},
		models.Measurement{DeviceID: "d1", Timestamp: time.Date(2023, 1, 20, 0, 0, 0, 0, time.UTC)},
		models.Measurement{DeviceID: "d2", Timestamp: time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)},
		models.Measurement{DeviceID: "d2", Timestamp: time.Date(2023, 2, 9, 0, 0, 0, 0, time.UTC)},
	)

	idx, ok, err := a.DeviceMonthIndex(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d2"}, idx.Devices)
	assert.Equal(t, []string{"2023-01", "2023-02"}, idx.Months)
}

// dedupStore returns canned month rows, including duplicates a raw SQL
// DISTINCT-free query could produce.
type dedupStore struct {
	store.Store
	rows []store.Row
}

func (d dedupStore) Aggregate(context.Context, store.Query) ([]store.Row, error) {
	return d.rows, nil
}

func TestDeviceMonthIndexDeduplicatesInFirstSeenOrder(t *testing.T) {
	m1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAnalyzer(dedupStore{rows: []store.Row{
		{DeviceID: "d1", Bucket: m1},
		{DeviceID: "d1", Bucket: m1},
		{DeviceID: "d2", Bucket: m1},
	}}, zap.NewNop())

	idx, ok, err := a.DeviceMonthIndex(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d2"}, idx.Devices)
	assert.Equal(t, []string{"2023-01"}, idx.Months)
}
