package metrics

import "fuelflow/logger"

// DropMetric is the metric name emitted when a channel send is dropped.
type DropMetric string

const (
	DropMetricRaw    DropMetric = "raw_batches_dropped"
	DropMetricResult DropMetric = "result_batches_dropped"
)

// EmitDropMetric records one dropped batch. Device and stage become
// dimensions when set.
func EmitDropMetric(log *logger.Log, metric DropMetric, deviceID, stage string) {
	fields := logger.Fields{}
	if deviceID != "" {
		fields["device"] = deviceID
	}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
