// Package segment finds refuel and drain episodes in a smoothed volume series.
package segment

import (
	"fmt"
	"math"
	"time"

	"fuelflow/models"
)

const (
	DefaultThreshold      = 10.0
	DefaultMaxDrainWindow = 10 * time.Minute
)

// Policy bounds what counts as an event. A drain must cross the threshold
// within MaxDrainWindow of its start; refuels have no time limit.
type Policy struct {
	Threshold      float64       `yaml:"threshold" json:"threshold"`
	MaxDrainWindow time.Duration `yaml:"max_drain_window" json:"max_drain_window"`
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, MaxDrainWindow: DefaultMaxDrainWindow}
}

func (p Policy) Validate() error {
	if math.IsNaN(p.Threshold) || p.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0, got %v", p.Threshold)
	}
	if p.MaxDrainWindow <= 0 {
		return fmt.Errorf("max drain window must be > 0, got %v", p.MaxDrainWindow)
	}
	return nil
}

// Detect scans the series once and returns the closed events in the order
// they closed. Events never overlap. An episode still open at the end of the
// series is not reported.
func Detect(series []models.SmoothedSample, p Policy) []models.Event {
	n := len(series)
	events := make([]models.Event, 0)

	for i := 0; i < n-1; i++ {
		start := series[i]
		cumulative := 0.0
		kind := models.EventUnset

		for j := i + 1; j < n; j++ {
			delta := series[j].Value - series[j-1].Value
			cumulative += delta

			if kind == models.EventUnset {
				if cumulative > p.Threshold {
					kind = models.EventRefuel
				} else if cumulative < -p.Threshold {
					if series[j].Timestamp.Sub(start.Timestamp) <= p.MaxDrainWindow {
						kind = models.EventDrain
					} else {
						// too slow for a drain, retry from the next sample
						break
					}
				}
			}

			if reversed(kind, delta) {
				end := series[j-1]
				magnitude := math.Abs(end.Value - start.Value)
				if magnitude >= p.Threshold {
					events = append(events, models.Event{
						Kind:       kind,
						StartTime:  start.Timestamp,
						EndTime:    end.Timestamp,
						Magnitude:  magnitude,
						StartIndex: i,
						EndIndex:   j - 1,
					})
				}
				i = j - 1
				break
			}
		}
	}
	return events
}

func reversed(kind models.EventKind, delta float64) bool {
	switch kind {
	case models.EventRefuel:
		return delta < 0
	case models.EventDrain:
		return delta > 0
	}
	return false
}
