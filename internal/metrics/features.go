package metrics

import (
	"sync/atomic"

	"fuelflow/config"
)

// Feature names a group of optional metrics that can be switched off in the
// metrics section of the configuration.
type Feature int

const (
	FeatureChannelSize Feature = iota
	FeatureAnalysis
)

var (
	channelSizeEnabled atomic.Bool
	analysisEnabled    atomic.Bool
)

func init() {
	channelSizeEnabled.Store(true)
	analysisEnabled.Store(true)
}

// Configure applies the metric toggles from cfg.
func Configure(cfg config.MetricsConfig) {
	channelSizeEnabled.Store(cfg.ChannelSize)
	analysisEnabled.Store(cfg.Analysis)
}

func IsFeatureEnabled(f Feature) bool {
	switch f {
	case FeatureChannelSize:
		return channelSizeEnabled.Load()
	case FeatureAnalysis:
		return analysisEnabled.Load()
	}
	return true
}

// featureForMetric maps gated metric names onto their feature.
func featureForMetric(name string) (Feature, bool) {
	switch name {
	case "raw_buffer_length", "result_buffer_length":
		return FeatureChannelSize, true
	case "analysis_duration_ms", "events_detected", "analyses_failed":
		return FeatureAnalysis, true
	}
	return 0, false
}
