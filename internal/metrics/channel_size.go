package metrics

import (
	"context"
	"time"

	"fuelflow/internal/channel"
	"fuelflow/logger"
)

// StartChannelSizeMetrics emits raw and result buffer occupancy every
// interval until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) || channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportChannelSizes(log, channels)
			}
		}
	}()
}

func reportChannelSizes(log *logger.Log, channels *channel.Channels) {
	raw, result := len(channels.Raw), len(channels.Result)
	SetBufferLength("raw", raw)
	SetBufferLength("result", result)
	EmitMetric(log, "channel_buffers", "raw_buffer_length", raw, "gauge", logger.Fields{
		"buffer":   "raw",
		"capacity": cap(channels.Raw),
	})
	EmitMetric(log, "channel_buffers", "result_buffer_length", result, "gauge", logger.Fields{
		"buffer":   "result",
		"capacity": cap(channels.Result),
	})
}
