package reader

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fuelflow/models"
)

// MemoryStore is an in-process Store used by the command line tool and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	calibration map[string][]models.CalibrationPoint // keyed by device port
	samples     map[string]map[models.Signal][]models.RawSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calibration: make(map[string][]models.CalibrationPoint),
		samples:     make(map[string]map[models.Signal][]models.RawSample),
	}
}

// AddCalibration appends points for one device port, e.g. "860001_1".
func (m *MemoryStore) AddCalibration(devicePort string, points ...models.CalibrationPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration[devicePort] = append(m.calibration[devicePort], points...)
}

// AddSamples appends readings and keeps each series sorted by time.
func (m *MemoryStore) AddSamples(deviceID string, signal models.Signal, samples ...models.RawSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySignal, ok := m.samples[deviceID]
	if !ok {
		bySignal = make(map[models.Signal][]models.RawSample)
		m.samples[deviceID] = bySignal
	}
	series := append(bySignal[signal], samples...)
	sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	bySignal[signal] = series
}

func (m *MemoryStore) DeviceIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.samples))
	for id := range m.samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CalibrationPoints(ctx context.Context, deviceID string) ([]models.CalibrationPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ports := make([]string, 0)
	for port := range m.calibration {
		if strings.HasPrefix(port, deviceID+"_") {
			ports = append(ports, port)
		}
	}
	sort.Strings(ports)
	points := make([]models.CalibrationPoint, 0)
	for _, port := range ports {
		points = append(points, m.calibration[port]...)
	}
	return points, nil
}

func (m *MemoryStore) Samples(ctx context.Context, deviceID string, signal models.Signal, from, to time.Time) ([]models.RawSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySignal, ok := m.samples[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	out := make([]models.RawSample, 0)
	for _, s := range bySignal[signal] {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
