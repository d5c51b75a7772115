package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"energy-service/internal/models"
)

// Memory is an in-process Store. It evaluates aggregations the same way the
// SQL engines do and is used for tests and single-node demos.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]models.Measurement

	// fail, when set, is returned from every call. Used to simulate an
	// unreachable store.
	fail error
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		byID:   make(map[int64]models.Measurement),
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) Create(ctx context.Context, in models.Measurement) (models.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return models.Measurement{}, m.fail
	}

	in.ID = m.nextID
	in.Timestamp = in.Timestamp.UTC()
	m.nextID++
	m.byID[in.ID] = in
	return in, nil
}

func (m *Memory) Get(ctx context.Context, id int64) (models.Measurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return models.Measurement{}, m.fail
	}

	rec, ok := m.byID[id]
	if !ok {
		return models.Measurement{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) List(ctx context.Context) ([]models.Measurement, error) {
	return m.list(func(models.Measurement) bool { return true })
}

func (m *Memory) ListByDevice(ctx context.Context, deviceID string) ([]models.Measurement, error) {
	return m.list(func(rec models.Measurement) bool { return rec.DeviceID == deviceID })
}

func (m *Memory) list(keep func(models.Measurement) bool) ([]models.Measurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}

	out := make([]models.Measurement, 0, len(m.byID))
	for _, rec := range m.byID {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Update(ctx context.Context, id int64, patch models.MeasurementPatch) (models.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return models.Measurement{}, m.fail
	}

	rec, ok := m.byID[id]
	if !ok {
		return models.Measurement{}, ErrNotFound
	}
	if patch.DeviceID != nil {
		rec.DeviceID = *patch.DeviceID
	}
	if patch.Timestamp != nil {
		rec.Timestamp = patch.Timestamp.UTC()
	}
	if patch.ActiveEnergy != nil {
		rec.ActiveEnergy = *patch.ActiveEnergy
	}
	if patch.ActivePower != nil {
		p := *patch.ActivePower
		rec.ActivePower = &p
	}
	m.byID[id] = rec
	return rec, nil
}

func (m *Memory) Delete(ctx context.Context, id int64) (models.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return models.Measurement{}, m.fail
	}

	rec, ok := m.byID[id]
	if !ok {
		return models.Measurement{}, ErrNotFound
	}
	delete(m.byID, id)
	return rec, nil
}

func (m *Memory) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}

	n := int64(len(m.byID))
	m.byID = make(map[int64]models.Measurement)
	return n, nil
}

type groupKey struct {
	bucket   time.Time
	deviceID string
}

type accumulator struct {
	sums   []float64
	counts []int
}

func (m *Memory) Aggregate(ctx context.Context, q Query) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}

	groups := make(map[groupKey]*accumulator)
	for _, rec := range m.byID {
		if q.DeviceID != "" && rec.DeviceID != q.DeviceID {
			continue
		}
		if q.Range != nil && !q.Range.Contains(rec.Timestamp) {
			continue
		}

		key := groupKey{bucket: Truncate(rec.Timestamp, q.Trunc)}
		if q.ByDevice {
			key.deviceID = rec.DeviceID
		}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				sums:   make([]float64, len(q.Aggregates)),
				counts: make([]int, len(q.Aggregates)),
			}
			groups[key] = acc
		}
		for i, agg := range q.Aggregates {
			v, present := fieldValue(rec, agg.Field)
			if !present {
				continue
			}
			acc.sums[i] += v
			acc.counts[i]++
		}
	}

	rows := make([]Row, 0, len(groups))
	for key, acc := range groups {
		values := make([]float64, len(q.Aggregates))
		for i, agg := range q.Aggregates {
			switch agg.Func {
			case Avg:
				if acc.counts[i] > 0 {
					values[i] = acc.sums[i] / float64(acc.counts[i])
				}
			default:
				values[i] = acc.sums[i]
			}
		}
		rows = append(rows, Row{Bucket: key.bucket, DeviceID: key.deviceID, Values: values})
	}
	sortRows(rows, q.Order)
	return rows, nil
}

func fieldValue(rec models.Measurement, f Field) (float64, bool) {
	if f == ActivePower {
		if rec.ActivePower == nil {
			return 0, false
		}
		return *rec.ActivePower, true
	}
	return rec.ActiveEnergy, true
}

func sortRows(rows []Row, order Order) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if order == OrderByDevice {
			if a.DeviceID != b.DeviceID {
				return a.DeviceID < b.DeviceID
			}
			return a.Bucket.Before(b.Bucket)
		}
		if !a.Bucket.Equal(b.Bucket) {
			return a.Bucket.Before(b.Bucket)
		}
		return a.DeviceID < b.DeviceID
	})
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail
}

func (m *Memory) Close() error { return nil }
