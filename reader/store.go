// Package reader pulls telemetry and calibration data for the analysis
// pipeline and feeds it into the raw channel.
package reader

import (
	"context"
	"errors"
	"time"

	"fuelflow/models"
)

// ErrDeviceNotFound is returned when a terminal has no telemetry at all.
var ErrDeviceNotFound = errors.New("device not found")

// Store is the read side of the telemetry database.
type Store interface {
	DeviceIDs(ctx context.Context) ([]string, error)
	CalibrationPoints(ctx context.Context, deviceID string) ([]models.CalibrationPoint, error)
	Samples(ctx context.Context, deviceID string, signal models.Signal, from, to time.Time) ([]models.RawSample, error)
}

// PageSize is how many device IDs one listing page holds.
const PageSize = 50

// Page returns the n-th page (zero based) of ids and the total page count.
func Page(ids []string, n int) ([]string, int) {
	pages := (len(ids) + PageSize - 1) / PageSize
	if n < 0 || n >= pages {
		return []string{}, pages
	}
	end := (n + 1) * PageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[n*PageSize : end], pages
}
