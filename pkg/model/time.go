package model

import (
	"fmt"
	"strings"
	"time"
)

// LocalLayout is the zone-less ISO 8601 layout used for due dates.
const LocalLayout = "2006-01-02T15:04:05"

// LocalTime is a wall-clock timestamp without a zone. It is interpreted in the
// configured calendar timezone whenever an instant is needed.
type LocalTime struct {
	time.Time
}

// NewLocalTime strips the zone of t and keeps its wall clock.
func NewLocalTime(t time.Time) LocalTime {
	return LocalTime{time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)}
}

// In returns the instant the wall clock denotes in loc.
func (lt LocalTime) In(loc *time.Location) time.Time {
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), 0, loc)
}

func (lt LocalTime) String() string {
	return lt.Format(LocalLayout)
}

// UnmarshalJSON implements the json.Unmarshaler interface for LocalTime.
func (lt *LocalTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		lt.Time = time.Time{}
		return nil
	}

	t, err := time.Parse(LocalLayout, s)
	if err != nil {
		// files written by other tools may carry an offset
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("failed to parse due time '%s': %w", s, err)
		}
		t = NewLocalTime(t).Time
	}
	lt.Time = t
	return nil
}

// MarshalJSON implements the json.Marshaler interface for LocalTime.
func (lt LocalTime) MarshalJSON() ([]byte, error) {
	if lt.Time.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + lt.Format(LocalLayout) + `"`), nil
}
