package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"energy-service/internal/models"
)

var (
	ErrMissingDeviceID = errors.New("measurement has no device identifier")
	ErrBadTimestamp    = errors.New("invalid timestamp")
	ErrBadNumber       = errors.New("invalid numeric field")
)

// Legacy exports carry the device id under one of these keys. They are
// mutually exclusive; the first present wins.
const (
	keyLegacyDevice = "id-dispositivo"
	keyLegacyUID    = "uid"
	keyDeviceID     = "deviceId"
	keyTimestamp    = "timestamp"
	keyActiveEnergy = "activeEnergy"
	keyActivePower  = "activePower"
)

// Record is one raw entry of an import file or stream message.
type Record map[string]interface{}

func resolveDeviceID(rec Record) (string, error) {
	for _, key := range []string{keyLegacyDevice, keyLegacyUID, keyDeviceID} {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s, nil
		}
	}
	return "", ErrMissingDeviceID
}

func number(rec Record, key string) (float64, bool, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w %s: %v", ErrBadNumber, key, err)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w %s: %q", ErrBadNumber, key, n)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%w %s: unexpected type %T", ErrBadNumber, key, v)
}

// Decode turns a raw record into a Measurement. Fields other than the device
// id aliases, timestamp, activeEnergy and activePower are dropped. A record
// without a timestamp is stamped with now.
func Decode(rec Record, now time.Time) (models.Measurement, error) {
	deviceID, err := resolveDeviceID(rec)
	if err != nil {
		return models.Measurement{}, err
	}

	m := models.Measurement{DeviceID: deviceID, Timestamp: now.UTC()}
	if v, ok := rec[keyTimestamp]; ok && v != nil {
		s, isString := v.(string)
		if !isString {
			return models.Measurement{}, fmt.Errorf("%w: unexpected type %T", ErrBadTimestamp, v)
		}
		ts, err := models.ParseDate(s)
		if err != nil {
			return models.Measurement{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
		}
		m.Timestamp = ts
	}

	energy, ok, err := number(rec, keyActiveEnergy)
	if err != nil {
		return models.Measurement{}, err
	}
	if !ok {
		return models.Measurement{}, fmt.Errorf("%w %s: missing", ErrBadNumber, keyActiveEnergy)
	}
	m.ActiveEnergy = energy

	power, ok, err := number(rec, keyActivePower)
	if err != nil {
		return models.Measurement{}, err
	}
	if ok {
		m.ActivePower = &power
	}
	return m, nil
}
