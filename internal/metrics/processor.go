package metrics

import "fuelflow/logger"

// AnalyzerStats is a snapshot of the analysis worker pool counters.
type AnalyzerStats struct {
	BatchesAnalyzed int64
	NoData          int64
	CannotCompute   int64
	Failed          int64
	EventsDetected  int64
	RawChannelLen   int
	RawChannelCap   int
}

// ReportAnalyzer emits the analyzer counters and an error rate gauge.
func ReportAnalyzer(log *logger.Log, stats AnalyzerStats) {
	l := log.WithComponent("analyzer")

	failures := stats.NoData + stats.CannotCompute + stats.Failed
	errorRate := float64(0)
	if total := stats.BatchesAnalyzed + failures; total > 0 {
		errorRate = float64(failures) / float64(total)
	}

	EmitMetric(log, "analyzer", "batches_analyzed", stats.BatchesAnalyzed, "counter", logger.Fields{})
	EmitMetric(log, "analyzer", "events_detected", stats.EventsDetected, "counter", logger.Fields{})
	EmitMetric(log, "analyzer", "analyses_failed", failures, "counter", logger.Fields{})
	EmitMetric(log, "analyzer", "error_rate", errorRate, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"batches_analyzed": stats.BatchesAnalyzed,
		"no_data":          stats.NoData,
		"cannot_compute":   stats.CannotCompute,
		"failed":           stats.Failed,
		"events_detected":  stats.EventsDetected,
		"error_rate":       errorRate,
		"raw_channel_len":  stats.RawChannelLen,
		"raw_channel_cap":  stats.RawChannelCap,
	}).Info("analyzer metrics")
}
