package models

import (
	"encoding/json"
	"time"
)

type Measurement struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"deviceId"`
	Timestamp    time.Time `json:"timestamp"`
	ActiveEnergy float64   `json:"activeEnergy"`
	ActivePower  *float64  `json:"activePower,omitempty"`
}

// MeasurementPatch carries the fields of a partial update. Nil fields are left untouched.
type MeasurementPatch struct {
	DeviceID     *string    `json:"deviceId,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	ActiveEnergy *float64   `json:"activeEnergy,omitempty"`
	ActivePower  *float64   `json:"activePower,omitempty"`
}

type Resolution string

const (
	ResolutionRaw  Resolution = "RAW"
	ResolutionHour Resolution = "HOUR"
	ResolutionDay  Resolution = "DAY"
)

// ParseResolution maps a selector to a Resolution. Matching is exact and
// case-sensitive; anything else, including the empty string, is treated as DAY.
func ParseResolution(s string) Resolution {
	switch Resolution(s) {
	case ResolutionRaw:
		return ResolutionRaw
	case ResolutionHour:
		return ResolutionHour
	default:
		return ResolutionDay
	}
}

// BucketedSample is one row of an HOUR or DAY aggregation. It encodes its
// bucket under "hour" or "date" depending on the resolution.
type BucketedSample struct {
	BucketStart       time.Time
	Resolution        Resolution
	AccumulatedEnergy float64
}

func (b BucketedSample) MarshalJSON() ([]byte, error) {
	key := "date"
	if b.Resolution == ResolutionHour {
		key = "hour"
	}
	return json.Marshal(map[string]interface{}{
		key:                 FormatBucket(b.BucketStart),
		"accumulatedEnergy": b.AccumulatedEnergy,
	})
}

type HourlyDeviceAggregate struct {
	DeviceID  string
	HourStart time.Time
	EnergySum float64
	PowerAvg  float64
}

type ActivePowerRow struct {
	DeviceID           string    `json:"deviceId"`
	Hour               time.Time `json:"hour"`
	ActivePowerPerHour float64   `json:"activePowerPerHour"`
}

type EnergyPerHour struct {
	DeviceID      string    `json:"deviceId"`
	Hour          time.Time `json:"hour"`
	EnergyPerHour float64   `json:"energyPerHour"`
}

type ConsumptionReport struct {
	TotalConsumption   float64         `json:"totalConsumption"`
	AverageConsumption float64         `json:"averageConsumption"`
	PeakHours          []EnergyPerHour `json:"peakHours"`
	LowHours           []EnergyPerHour `json:"lowestHours"`
}

type DailyDeviceAggregate struct {
	DeviceID  string
	Day       time.Time
	EnergySum float64
	PowerSum  float64
}

type DailyPower struct {
	Date           time.Time `json:"date"`
	DeviceID       string    `json:"deviceId"`
	AvgPowerPerDay float64   `json:"avgPowerPerDay"`
}

type DailyEnergy struct {
	Date               time.Time `json:"date"`
	DeviceID           string    `json:"deviceId"`
	ActiveEnergyPerDay float64   `json:"activeEnergyPerDay"`
}

type DailyAnalysis struct {
	AvgPowerPerDay     []DailyPower  `json:"avgPowerPerDay"`
	ActiveEnergyPerDay []DailyEnergy `json:"activeEnergyPerDay"`
}

type DeviceMonthIndex struct {
	Devices []string `json:"devices"`
	Months  []string `json:"months"`
}
