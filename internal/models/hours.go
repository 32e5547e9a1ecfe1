package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayHours is the opening window of a single weekday. Open and Close are
// empty when the day is closed.
type DayHours struct {
	Open     string `json:"open,omitempty" yaml:"open,omitempty"`
	Close    string `json:"close,omitempty" yaml:"close,omitempty"`
	IsClosed bool   `json:"is_closed" yaml:"is_closed"`
}

// Validate checks the open/close invariant.
func (d DayHours) Validate() error {
	if d.IsClosed {
		if d.Open != "" || d.Close != "" {
			return fmt.Errorf("%w: closed day must not have open/close times", ErrInvalidBusinessHours)
		}
		return nil
	}
	if d.Open == "" || d.Close == "" {
		return fmt.Errorf("%w: open and close are required", ErrInvalidBusinessHours)
	}
	open, err := ParseClock(d.Open)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBusinessHours, err)
	}
	closeAt, err := ParseClock(d.Close)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBusinessHours, err)
	}
	if open >= closeAt {
		return fmt.Errorf("%w: open %s must be before close %s", ErrInvalidBusinessHours, d.Open, d.Close)
	}
	return nil
}

// BusinessHours is an organization's weekly schedule. A nil or empty map
// means the organization has not configured hours yet.
type BusinessHours map[time.Weekday]DayHours

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName returns the lowercase English name used in stored schedules.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// ParseWeekday resolves a weekday name, case-insensitive.
func ParseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range weekdayNames {
		if n == name {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// DefaultBusinessHours is used for organizations that have not finished onboarding.
func DefaultBusinessHours() BusinessHours {
	hours := make(BusinessHours, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours[d] = DayHours{Open: "09:00", Close: "18:00"}
	}
	return hours
}

// IsSet reports whether any day has been configured.
func (h BusinessHours) IsSet() bool {
	return len(h) > 0
}

// Validate checks every configured day.
func (h BusinessHours) Validate() error {
	for d, day := range h {
		if err := day.Validate(); err != nil {
			return fmt.Errorf("%s: %w", WeekdayName(d), err)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (h BusinessHours) Clone() BusinessHours {
	if h == nil {
		return nil
	}
	out := make(BusinessHours, len(h))
	for d, day := range h {
		out[d] = day
	}
	return out
}

// FromNames builds hours from a weekday-name keyed map.
func FromNames(days map[string]DayHours) (BusinessHours, error) {
	if days == nil {
		return nil, nil
	}
	out := make(BusinessHours, len(days))
	for name, day := range days {
		wd, ok := ParseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidBusinessHours, name)
		}
		out[wd] = day
	}
	return out, nil
}

func (h BusinessHours) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	named := make(map[string]DayHours, len(h))
	for d, day := range h {
		named[WeekdayName(d)] = day
	}
	return json.Marshal(named)
}

// UnmarshalJSON decodes a weekday-name keyed object. Unknown keys and days
// whose value does not decode are dropped, so they resolve as closed.
func (h *BusinessHours) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*h = nil
		return nil
	}
	out := make(BusinessHours, len(raw))
	for name, value := range raw {
		wd, ok := ParseWeekday(name)
		if !ok {
			continue
		}
		var day DayHours
		if err := json.Unmarshal(value, &day); err != nil {
			continue
		}
		out[wd] = day
	}
	*h = out
	return nil
}
