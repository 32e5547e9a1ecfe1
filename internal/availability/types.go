package availability

import (
	"context"
	"errors"
	"maps"

	"homebooking/internal/models"
)

type DayStatus string

const (
	StatusAvailable DayStatus = "available"
	StatusPartial   DayStatus = "partial"
	StatusFull      DayStatus = "full"
)

var (
	ErrSlotUnavailable      = errors.New("this slot is no longer available, please choose another")
	ErrReservationsDisabled = errors.New("reservations are not configured for this session")
)

// DayAvailability summarizes one calendar day. BookedSlots counts generated
// slots booked to capacity and drives Status; UnavailableSlots also counts
// blocked slots.
type DayAvailability struct {
	Date             string    `json:"date"`
	BookedSlots      int       `json:"booked_slots"`
	UnavailableSlots int       `json:"unavailable_slots"`
	TotalSlots       int       `json:"total_slots"`
	Status           DayStatus `json:"status"`
	IsClosed         bool      `json:"is_closed"`
}

// TimeSlotAvailability is the state of one (date, time) slot.
type TimeSlotAvailability struct {
	Time      string                `json:"time"`
	IsBooked  bool                  `json:"is_booked"`
	IsBlocked bool                  `json:"is_blocked"`
	BlockInfo *models.ScheduleBlock `json:"block_info,omitempty"`
}

// WeekEntry is the cached availability of one week, keyed by its Monday.
type WeekEntry struct {
	WeekStart     string                            `json:"week_start"`
	Days          map[string]DayAvailability        `json:"days"`
	Slots         map[string][]TimeSlotAvailability `json:"slots"`
	Blocks        map[string][]models.ScheduleBlock `json:"blocks"`
	BusinessHours models.BusinessHours              `json:"business_hours"`
}

// RangeRequest asks for occupancy of an organization between two dates, inclusive.
type RangeRequest struct {
	OrganizationID   string `json:"organizationId"`
	StartDate        string `json:"startDate"`
	EndDate          string `json:"endDate"`
	ExcludeBookingID string `json:"excludeBookingId,omitempty"`
}

// RangeResult holds non-cancelled booking counts per date and time, blocks
// per date, and the organization's business hours.
type RangeResult struct {
	Availability  map[string]map[string]int         `json:"availability"`
	Blocks        map[string][]models.ScheduleBlock `json:"blocks"`
	BusinessHours models.BusinessHours              `json:"businessHours"`
}

// NewRangeResult returns an empty result.
func NewRangeResult() *RangeResult {
	return &RangeResult{
		Availability: make(map[string]map[string]int),
		Blocks:       make(map[string][]models.ScheduleBlock),
	}
}

// Count returns the number of active bookings at date and clock.
func (r *RangeResult) Count(date, clock string) int {
	if r == nil {
		return 0
	}
	return r.Availability[date][clock]
}

// Source computes occupancy for a date range.
type Source interface {
	FetchRange(ctx context.Context, req RangeRequest) (*RangeResult, error)
}

// Counter answers uncached per-slot booking counts.
type Counter interface {
	CountActiveBookings(ctx context.Context, organizationID, date, clock string) (int, error)
}

// Reserver commits bookings, refusing with models.ErrSlotTaken once a slot
// holds capacity active bookings and with models.ErrSlotBlocked when a
// schedule block covers it.
type Reserver interface {
	CreateBooking(ctx context.Context, b *models.Booking, capacity int) error
}

// Clone copies the entry's maps so the copy can be modified while readers
// hold the original.
func (w WeekEntry) Clone() WeekEntry {
	out := w
	out.Days = maps.Clone(w.Days)
	out.Slots = maps.Clone(w.Slots)
	out.Blocks = maps.Clone(w.Blocks)
	out.BusinessHours = w.BusinessHours.Clone()
	return out
}
