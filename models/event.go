package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind classifies a detected volume change.
type EventKind int

const (
	EventUnset EventKind = iota
	EventRefuel
	EventDrain
)

func (k EventKind) String() string {
	switch k {
	case EventRefuel:
		return "refuel"
	case EventDrain:
		return "drain"
	default:
		return "unset"
	}
}

// Title is the capitalised form used in human readable output.
func (k EventKind) Title() string {
	switch k {
	case EventRefuel:
		return "Refuel"
	case EventDrain:
		return "Drain"
	default:
		return "Unset"
	}
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEventKind accepts the lower case names produced by String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "refuel":
		return EventRefuel, nil
	case "drain":
		return EventDrain, nil
	default:
		return EventUnset, fmt.Errorf("unknown event kind %q", s)
	}
}

// Event is a closed refuel or drain episode on the smoothed series.
// StartIndex and EndIndex point into the series the event was found on.
type Event struct {
	Kind       EventKind `json:"kind"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Magnitude  float64   `json:"magnitude"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
}

// AnchorIndex is the sample a chart marker should point at: refuels are
// marked where they begin, drains where they end.
func (e Event) AnchorIndex() int {
	if e.Kind == EventDrain {
		return e.EndIndex
	}
	return e.StartIndex
}

// AnchorTime is the timestamp of AnchorIndex.
func (e Event) AnchorTime() time.Time {
	if e.Kind == EventDrain {
		return e.EndTime
	}
	return e.StartTime
}

// Label renders the short annotation text, volume rounded to whole litres.
func (e Event) Label() string {
	return fmt.Sprintf("%s: %.0f L", e.Kind.Title(), e.Magnitude)
}

func (e Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}
