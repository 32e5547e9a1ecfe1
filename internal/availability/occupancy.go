package availability

import (
	"context"
	"errors"
	"fmt"

	"homebooking/internal/models"
)

// Store is the read side of the persistence layer.
type Store interface {
	GetBusinessHours(ctx context.Context, organizationID string) (models.BusinessHours, error)
	ListBookings(ctx context.Context, organizationID, startDate, endDate string) ([]models.Booking, error)
	ListBlocks(ctx context.Context, organizationID, startDate, endDate string) ([]models.ScheduleBlock, error)
}

// Aggregator is a Source computing occupancy from a Store with one batch
// read per table for the whole range.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// FetchRange reads hours, bookings and blocks for req and groups them.
func (a *Aggregator) FetchRange(ctx context.Context, req RangeRequest) (*RangeResult, error) {
	hours, err := a.store.GetBusinessHours(ctx, req.OrganizationID)
	if errors.Is(err, models.ErrNotFound) {
		// Organizations without a row yet are still onboarding.
		hours, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get business hours: %w", err)
	}

	bookings, err := a.store.ListBookings(ctx, req.OrganizationID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	blocks, err := a.store.ListBlocks(ctx, req.OrganizationID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	res := Aggregate(bookings, blocks, req.ExcludeBookingID)
	res.BusinessHours = hours
	return res, nil
}

// Aggregate counts occupying bookings per (date, time) and groups blocks
// by date. The booking with excludeID is skipped so a booking being
// rescheduled does not collide with itself.
func Aggregate(bookings []models.Booking, blocks []models.ScheduleBlock, excludeID string) *RangeResult {
	res := NewRangeResult()
	for _, b := range bookings {
		if !b.Status.Occupies() {
			continue
		}
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		byTime := res.Availability[b.SelectedDate]
		if byTime == nil {
			byTime = make(map[string]int)
			res.Availability[b.SelectedDate] = byTime
		}
		byTime[b.SelectedTime]++
	}
	for _, blk := range blocks {
		res.Blocks[blk.Date] = append(res.Blocks[blk.Date], blk)
	}
	return res
}
