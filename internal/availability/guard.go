package availability

import (
	"context"
	"errors"
	"time"

	"homebooking/internal/metrics"
	"homebooking/internal/models"
)

// CheckRealTimeAvailability re-verifies a slot right before a booking is
// committed. Hours, blocks and the booking count are read fresh, never from
// the cache. It fails closed: any error reports the slot as unavailable.
func (s *Session) CheckRealTimeAvailability(ctx context.Context, date time.Time, clock string) bool {
	slot, err := models.NormalizeClock(clock)
	if err != nil {
		metrics.IncGuard("invalid")
		return false
	}
	dateKey := date.Format(models.DateLayout)

	res, err := s.fetch(ctx, date, date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", dateKey).Msg("guard: load hours and blocks")
		metrics.IncGuard("error")
		return false
	}
	hours := res.BusinessHours
	if s.gen.IsClosedDay(hours, date.Weekday()) || !s.gen.Contains(hours, date.Weekday(), slot) {
		metrics.IncGuard("closed")
		return false
	}
	if ClassifySlot(slot, 0, 1, res.Blocks[dateKey]).IsBlocked {
		metrics.IncGuard("blocked")
		return false
	}

	count, err := s.counter.CountActiveBookings(ctx, s.orgID, dateKey, slot)
	if err != nil {
		s.logger.Error().Err(err).Str("date", dateKey).Str("time", slot).Msg("guard: count bookings")
		metrics.IncGuard("error")
		return false
	}
	if count >= s.Capacity() {
		metrics.IncGuard("taken")
		return false
	}

	metrics.IncGuard("available")
	return true
}

// Reserve checks the slot and commits b. When the slot was taken or blocked
// in the meantime the day is refetched and ErrSlotUnavailable is returned.
func (s *Session) Reserve(ctx context.Context, b *models.Booking) error {
	if s.reserver == nil {
		return ErrReservationsDisabled
	}
	b.OrganizationID = s.orgID
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	if err := b.Validate(); err != nil {
		return err
	}
	date, err := models.ParseDate(b.SelectedDate)
	if err != nil {
		return err
	}

	if !s.CheckRealTimeAvailability(ctx, date, b.SelectedTime) {
		s.FetchDayAvailability(ctx, date)
		return ErrSlotUnavailable
	}

	if err := s.reserver.CreateBooking(ctx, b, s.Capacity()); err != nil {
		if errors.Is(err, models.ErrSlotTaken) || errors.Is(err, models.ErrSlotBlocked) {
			s.FetchDayAvailability(ctx, date)
			return ErrSlotUnavailable
		}
		return err
	}
	metrics.IncBookingCreated(string(b.Status))
	return nil
}
