package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fuelflow/models"
)

// ReadSamplesCSV reads "timestamp,value" rows. Timestamps are epoch seconds
// or RFC 3339; empty values are null readings and are skipped. Rows must be
// in ascending time order.
func ReadSamplesCSV(r io.Reader) ([]models.RawSample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	out := make([]models.RawSample, 0)
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected timestamp,value", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		value := strings.TrimSpace(rec[1])
		if value == "" || strings.EqualFold(value, "null") {
			continue
		}
		ts, err := ParseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad value %q", line, value)
		}
		if n := len(out); n > 0 && ts.Before(out[n-1].Timestamp) {
			return nil, fmt.Errorf("line %d: timestamps must be ascending", line)
		}
		out = append(out, models.RawSample{Timestamp: ts, RawValue: v})
	}
	return out, nil
}

// ParseTimestamp accepts epoch seconds or RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// ReadCalibrationCSV reads calibration records in the table export layout
// "id,deviceid_port,calibrating_data" where the last column holds the JSON
// array of points.
func ReadCalibrationCSV(r io.Reader) ([]Calibration, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	out := make([]Calibration, 0)
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read calibration: %w", err)
		}
		line++
		if len(rec) != 3 {
			return nil, fmt.Errorf("line %d: expected id,deviceid_port,calibrating_data", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad id %q", line, rec[0])
		}
		if _, err := ParseCalibrationData(rec[2]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Calibration{ID: id, DeviceIDPort: strings.TrimSpace(rec[1]), CalibratingData: rec[2]})
	}
	return out, nil
}

// PoolCalibration collects the points of every port record of deviceID. An
// empty deviceID pools every record.
func PoolCalibration(records []Calibration, deviceID string) ([]models.CalibrationPoint, error) {
	points := make([]models.CalibrationPoint, 0)
	for _, rec := range records {
		if deviceID != "" && !strings.HasPrefix(rec.DeviceIDPort, deviceID+"_") {
			continue
		}
		parsed, err := ParseCalibrationData(rec.CalibratingData)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		points = append(points, parsed...)
	}
	return points, nil
}
