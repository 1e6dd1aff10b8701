// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package sensor provides access to the stored sensor readings.

There is one relation per sensor type. The set of types is closed: every
request parameter naming a sensor type is parsed into a Type before any SQL
is built, and relation names are derived from the Type only.
*/
package sensor

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/sensorhub/core"
)

// Type is one of the supported sensor types
type Type int

// all supported sensor types
const (
	Temperature Type = iota + 1
	Humidity
	Light
)

// Types returns all sensor types
func Types() []Type {
	return []Type{Temperature, Humidity, Light}
}

// ParseType parses a sensor type name. Unknown names yield an error wrapping core.ErrNotFound.
func ParseType(s string) (Type, error) {
	switch s {
	case "temperature":
		return Temperature, nil
	case "humidity":
		return Humidity, nil
	case "light":
		return Light, nil
	}
	return 0, fmt.Errorf("sensor type %q: %w", s, core.ErrNotFound)
}

func (t Type) String() string {
	switch t {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Light:
		return "light"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Valid returns true for the known sensor types
func (t Type) Valid() bool {
	switch t {
	case Temperature, Humidity, Light:
		return true
	}
	return false
}

// DefaultUnit is the unit stored when a reading does not carry one
func (t Type) DefaultUnit() string {
	switch t {
	case Temperature:
		return "Celsius"
	case Humidity:
		return "Percentage"
	case Light:
		return "Lux"
	}
	return ""
}

// TimestampLayout is the textual format of all reading timestamps
const TimestampLayout = "2006-01-02 15:04:05"

// ParseTimestamp parses a timestamp in the form "YYYY-MM-DD HH:MM:SS". A "T" between
// date and time is accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	normalized := strings.Replace(strings.TrimSpace(s), "T", " ", 1)
	t, err := time.Parse(TimestampLayout, normalized)
	if err != nil {
		return time.Time{}, core.Validation("timestamp", "invalid date format %q. Expected format: YYYY-MM-DD HH:MM:SS", s)
	}
	return t, nil
}

// FormatTimestamp formats t as "YYYY-MM-DD HH:MM:SS"
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Reading is one timestamped measurement
type Reading struct {
	ID        int64
	DeviceID  string
	Timestamp time.Time
	Value     float64
	Unit      string
}

type readingJSON struct {
	ID        int64   `json:"id"`
	DeviceID  string  `json:"device_id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

// MarshalJSON renders the timestamp in the fixed reading format
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Timestamp: FormatTimestamp(r.Timestamp),
		Value:     r.Value,
		Unit:      r.Unit,
	})
}

// UnmarshalJSON is the counterpart of MarshalJSON
func (r *Reading) UnmarshalJSON(data []byte) error {
	var rj readingJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	*r = Reading{ID: rj.ID, DeviceID: rj.DeviceID, Value: rj.Value, Unit: rj.Unit}
	if rj.Timestamp != "" {
		t, err := ParseTimestamp(rj.Timestamp)
		if err != nil {
			return err
		}
		r.Timestamp = t
	}
	return nil
}

// Patch holds the fields of a partial update. Nil fields are left unchanged.
type Patch struct {
	DeviceID  *string
	Timestamp *time.Time
	Value     *float64
	Unit      *string
}

// IsEmpty returns true if the patch would not change anything
func (p Patch) IsEmpty() bool {
	return p.DeviceID == nil && p.Timestamp == nil && p.Value == nil && p.Unit == nil
}
