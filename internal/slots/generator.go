package slots

import (
	"sort"
	"time"

	"homebooking/internal/models"
)

// DefaultStep is the slot granularity when none is configured.
const DefaultStep = 60 * time.Minute

// Generator expands weekly business hours into bookable slot start times.
type Generator struct {
	step time.Duration
}

// NewGenerator creates a generator with the given slot length.
func NewGenerator(step time.Duration) *Generator {
	if step <= 0 {
		step = DefaultStep
	}
	return &Generator{step: step}
}

// Step returns the slot length.
func (g *Generator) Step() time.Duration {
	return g.step
}

// Resolve returns the effective hours for a weekday. Unset hours fall back
// to the default schedule; a missing or invalid day resolves as closed.
func (g *Generator) Resolve(hours models.BusinessHours, day time.Weekday) models.DayHours {
	if !hours.IsSet() {
		hours = models.DefaultBusinessHours()
	}
	dh, ok := hours[day]
	if !ok || dh.IsClosed || dh.Validate() != nil {
		return models.DayHours{IsClosed: true}
	}
	return dh
}

// IsClosedDay reports whether the organization takes no bookings on day.
func (g *Generator) IsClosedDay(hours models.BusinessHours, day time.Weekday) bool {
	return g.Resolve(hours, day).IsClosed
}

// SlotsForDay returns ascending "HH:MM" slot starts for day. A slot is only
// generated when it ends at or before closing time.
func (g *Generator) SlotsForDay(hours models.BusinessHours, day time.Weekday) []string {
	dh := g.Resolve(hours, day)
	if dh.IsClosed {
		return nil
	}

	// Validate already guaranteed both parse.
	open, _ := models.ParseClock(dh.Open)
	closeAt, _ := models.ParseClock(dh.Close)

	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	startTime := ref.Add(time.Duration(open) * time.Minute)
	endTime := ref.Add(time.Duration(closeAt) * time.Minute)

	var out []string
	for cursor := startTime; !cursor.Add(g.step).After(endTime); cursor = cursor.Add(g.step) {
		out = append(out, cursor.Format(models.ClockLayout))
	}
	return out
}

// SlotsForDate is SlotsForDay for the weekday of date.
func (g *Generator) SlotsForDate(hours models.BusinessHours, date time.Time) []string {
	return g.SlotsForDay(hours, date.Weekday())
}

// AllSlots returns the sorted, deduplicated union of every weekday's slots.
func (g *Generator) AllSlots(hours models.BusinessHours) []string {
	seen := make(map[string]struct{})
	var out []string
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, s := range g.SlotsForDay(hours, day) {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	// "HH:MM" sorts lexically in time order.
	sort.Strings(out)
	return out
}

// Contains reports whether slot is generated for day.
func (g *Generator) Contains(hours models.BusinessHours, day time.Weekday, slot string) bool {
	for _, s := range g.SlotsForDay(hours, day) {
		if s == slot {
			return true
		}
	}
	return false
}
