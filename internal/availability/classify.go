package availability

import (
	"time"

	"homebooking/internal/models"
	"homebooking/internal/slots"
)

// ClassifyDay derives the day status. A day is partial from 60% of its
// slots taken.
func ClassifyDay(totalSlots, bookedSlots int, isClosed bool) DayStatus {
	switch {
	case isClosed, totalSlots <= 0, bookedSlots >= totalSlots:
		return StatusFull
	case bookedSlots > 0 && bookedSlots*10 >= totalSlots*6:
		return StatusPartial
	default:
		return StatusAvailable
	}
}

// ClassifySlot derives a slot's state from its booking count and the
// blocks of its date. A whole-day block wins over a time-specific one.
func ClassifySlot(clock string, bookedCount, capacity int, blocks []models.ScheduleBlock) TimeSlotAvailability {
	if capacity < 1 {
		capacity = 1
	}
	slot := TimeSlotAvailability{
		Time:     clock,
		IsBooked: bookedCount >= capacity,
	}

	var specific *models.ScheduleBlock
	for i := range blocks {
		b := blocks[i]
		if b.IsWholeDay() {
			slot.IsBlocked = true
			slot.BlockInfo = &b
			return slot
		}
		if specific == nil && b.Time == clock {
			specific = &b
		}
	}
	if specific != nil {
		slot.IsBlocked = true
		slot.BlockInfo = specific
	}
	return slot
}

// BuildDay classifies every generated slot of date and summarizes the day.
func BuildDay(gen *slots.Generator, hours models.BusinessHours, res *RangeResult, date time.Time, capacity int) (DayAvailability, []TimeSlotAvailability) {
	key := date.Format(models.DateLayout)
	closed := gen.IsClosedDay(hours, date.Weekday())
	times := gen.SlotsForDate(hours, date)

	var blocks []models.ScheduleBlock
	if res != nil {
		blocks = res.Blocks[key]
	}

	out := make([]TimeSlotAvailability, 0, len(times))
	booked, unavailable := 0, 0
	for _, clock := range times {
		s := ClassifySlot(clock, res.Count(key, clock), capacity, blocks)
		if s.IsBooked {
			booked++
		}
		if s.IsBooked || s.IsBlocked {
			unavailable++
		}
		out = append(out, s)
	}

	return DayAvailability{
		Date:             key,
		BookedSlots:      booked,
		UnavailableSlots: unavailable,
		TotalSlots:       len(times),
		Status:           ClassifyDay(len(times), booked, closed),
		IsClosed:         closed,
	}, out
}

// BuildWeek computes the week entry starting at monday.
func BuildWeek(gen *slots.Generator, res *RangeResult, monday time.Time, capacity int) WeekEntry {
	entry := WeekEntry{
		WeekStart:     monday.Format(models.DateLayout),
		Days:          make(map[string]DayAvailability, 7),
		Slots:         make(map[string][]TimeSlotAvailability, 7),
		Blocks:        make(map[string][]models.ScheduleBlock, 7),
		BusinessHours: res.BusinessHours.Clone(),
	}
	for i := 0; i < 7; i++ {
		d := monday.AddDate(0, 0, i)
		day, slotList := BuildDay(gen, res.BusinessHours, res, d, capacity)
		entry.Days[day.Date] = day
		entry.Slots[day.Date] = slotList
		if blocks := res.Blocks[day.Date]; len(blocks) > 0 {
			entry.Blocks[day.Date] = blocks
		}
	}
	return entry
}
