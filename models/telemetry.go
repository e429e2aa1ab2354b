package models

import (
	"time"
)

// Signal names a telemetry channel that can be analysed.
type Signal string

const (
	SignalFuel  Signal = "fuel"
	SignalSpeed Signal = "speed"
)

// CalibrationPoint maps one raw sensor reading to the true tank volume.
type CalibrationPoint struct {
	InputValue  float64 `json:"input_value"`
	OutputValue float64 `json:"output_value"`
}

// RawSample is one telemetry reading with the signal present and non-null.
type RawSample struct {
	Timestamp time.Time `json:"timestamp"`
	RawValue  float64   `json:"raw_value"`
}

// VolumeSample is a RawSample after calibration.
type VolumeSample struct {
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume"`
}

// SmoothedSample is index aligned with the series it was smoothed from.
type SmoothedSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RawBatch carries everything a processor needs for one device analysis.
type RawBatch struct {
	BatchID     string             `json:"batch_id"`
	DeviceID    string             `json:"device_id"`
	Signal      Signal             `json:"signal"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	Calibration []CalibrationPoint `json:"calibration,omitempty"`
	Samples     []RawSample        `json:"samples"`
	ReadAt      time.Time          `json:"read_at"`
}

// ResultBatch is the outcome of analysing one RawBatch.
type ResultBatch struct {
	BatchID     string           `json:"batch_id"`
	DeviceID    string           `json:"device_id"`
	Signal      Signal           `json:"signal"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Series      []SmoothedSample `json:"series"`
	Events      []Event          `json:"events"`
	RecordCount int              `json:"record_count"`
	ProcessedAt time.Time        `json:"processed_at"`
}
