package metrics

import "fuelflow/logger"

// WriterStats holds counters for one result sink.
type WriterStats struct {
	BatchesWritten   int64
	ObjectsWritten   int64
	BytesWritten     int64
	ErrorsCount      int64
	ResultChannelLen int
	ResultChannelCap int
}

// ReportWriter emits common sink metrics under the given component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.BatchesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.BatchesWritten+stats.ErrorsCount)
	}

	avgBytesPerObject := float64(0)
	if stats.ObjectsWritten > 0 {
		avgBytesPerObject = float64(stats.BytesWritten) / float64(stats.ObjectsWritten)
	}

	EmitMetric(log, component, "batches_written", stats.BatchesWritten, "counter", logger.Fields{})
	EmitMetric(log, component, "objects_written", stats.ObjectsWritten, "counter", logger.Fields{})
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"batches_written":      stats.BatchesWritten,
		"objects_written":      stats.ObjectsWritten,
		"bytes_written":        stats.BytesWritten,
		"errors_count":         stats.ErrorsCount,
		"error_rate":           errorRate,
		"avg_bytes_per_object": avgBytesPerObject,
		"result_channel_len":   stats.ResultChannelLen,
		"result_channel_cap":   stats.ResultChannelCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
