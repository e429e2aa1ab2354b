package api

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"fuelflow/internal/metrics"
)

// recent keeps the newest limit items. It is safe for concurrent use.
type recent[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRecent[T any](limit int) *recent[T] {
	if limit <= 0 {
		limit = 200
	}
	return &recent[T]{limit: limit}
}

func (r *recent[T]) add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		r.items = append([]T(nil), r.items[len(r.items)-r.limit:]...)
	}
}

func (r *recent[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// metricRecord is a pipeline metric as served on /debug/metrics.
type metricRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Name      string                 `json:"name"`
	Value     interface{}            `json:"value"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type metricBuffer struct {
	*recent[metricRecord]
}

func newMetricBuffer(limit int) *metricBuffer {
	return &metricBuffer{recent: newRecent[metricRecord](limit)}
}

func (b *metricBuffer) handle(m metrics.Metric) {
	b.add(metricRecord{
		Timestamp: m.Timestamp,
		Component: m.Component,
		Name:      m.Name,
		Value:     m.Value,
		Type:      m.Type,
		Fields:    m.Fields,
	})
}

// logRecord is a captured log line as served on /debug/logs.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logBuffer is a logrus hook. Hooks cannot be detached from a logger, so
// close only stops recording.
type logBuffer struct {
	*recent[logRecord]
	minLevel logrus.Level
	enabled  atomic.Bool
}

func newLogBuffer(limit int, minLevel logrus.Level) *logBuffer {
	b := &logBuffer{recent: newRecent[logRecord](limit), minLevel: minLevel}
	b.enabled.Store(true)
	return b
}

func (b *logBuffer) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= b.minLevel {
			levels = append(levels, l)
		}
	}
	return levels
}

func (b *logBuffer) Fire(entry *logrus.Entry) error {
	if !b.enabled.Load() {
		return nil
	}
	rec := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		if k == "component" {
			rec.Component, _ = v.(string)
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			rec.Fields[k] = val.Error()
		case fmt.Stringer:
			rec.Fields[k] = val.String()
		default:
			rec.Fields[k] = val
		}
	}
	b.add(rec)
	return nil
}

func (b *logBuffer) close() {
	b.enabled.Store(false)
}
