package availability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"homebooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRealTimeAvailability_RaceBetweenTwoCustomers(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()

	// Both customers saw the slot open from the cached week.
	entry := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	s, _ := slotByTime(entry.Slots["2024-06-10"], "10:00")
	require.False(t, s.IsBooked)

	assert.True(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))

	f.store.addBooking("2024-06-10", "10:00", models.StatusPending)

	assert.False(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
	// The cached week is still stale; the guard did not read it.
	cached, _ := f.cache.Get(ctx, "2024-06-10")
	s, _ = slotByTime(cached.Slots["2024-06-10"], "10:00")
	assert.False(t, s.IsBooked)
}

func TestCheckRealTimeAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("closed day", func(t *testing.T) {
		f := newFixture("2024-06-01")
		assert.False(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-16"), "10:00"))
	})

	t.Run("time outside business hours", func(t *testing.T) {
		f := newFixture("2024-06-01")
		assert.False(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-15"), "17:00"))
		assert.True(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-15"), "16:00"))
	})

	t.Run("cancelled bookings free the slot", func(t *testing.T) {
		f := newFixture("2024-06-01")
		f.store.addBooking("2024-06-10", "10:00", models.StatusCancelled)
		assert.True(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00:00"))
	})

	t.Run("count failure fails closed", func(t *testing.T) {
		f := newFixture("2024-06-01")
		f.store.countErr = errors.New("timeout")
		assert.False(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
	})

	t.Run("hours failure fails closed", func(t *testing.T) {
		src := new(mockSource)
		src.On("FetchRange", ctx, RangeRequest{OrganizationID: "org-1", StartDate: "2024-06-10", EndDate: "2024-06-10"}).
			Return(nil, errors.New("down"))
		session := NewSession(Config{OrganizationID: "org-1", Source: src, Counter: &memStore{}}, &testLogger)
		assert.False(t, session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
		src.AssertExpectations(t)
	})

	t.Run("malformed time", func(t *testing.T) {
		f := newFixture("2024-06-01")
		assert.False(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "ten"))
	})

	t.Run("respects capacity", func(t *testing.T) {
		store := &memStore{hours: standardHours()}
		session := NewSession(Config{
			OrganizationID: "org-1",
			Source:         NewAggregator(store),
			Counter:        store,
			Capacity:       2,
		}, &testLogger)
		store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)
		assert.True(t, session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
		store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)
		assert.False(t, session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
	})
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("commits an open slot", func(t *testing.T) {
		f := newFixture("2024-06-01")
		b := &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "11:00", CustomerName: "Somchai"}
		require.NoError(t, f.session.Reserve(ctx, b))
		assert.Equal(t, "org-1", b.OrganizationID)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.NotEmpty(t, b.ID)
	})

	t.Run("guard rejection refetches the day", func(t *testing.T) {
		f := newFixture("2024-06-01")
		require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))
		f.store.addBooking("2024-06-10", "11:00", models.StatusConfirmed)

		err := f.session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "11:00"})
		assert.ErrorIs(t, err, ErrSlotUnavailable)

		entry, _ := f.cache.Get(ctx, "2024-06-10")
		s, _ := slotByTime(entry.Slots["2024-06-10"], "11:00")
		assert.True(t, s.IsBooked, "cached week reflects the refetched day")
	})

	t.Run("write-side conflict maps to unavailable", func(t *testing.T) {
		f := newFixture("2024-06-01")
		session := NewSession(Config{
			OrganizationID: "org-1",
			Source:         f.source,
			Counter:        &memStore{},
			Reserver:       f.store,
		}, &testLogger)
		f.store.addBooking("2024-06-10", "12:00", models.StatusConfirmed)

		err := session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "12:00"})
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("without reserver", func(t *testing.T) {
		session := NewSession(Config{OrganizationID: "org-1", Source: &mockSource{}}, &testLogger)
		err := session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "12:00"})
		assert.ErrorIs(t, err, ErrReservationsDisabled)
	})

	t.Run("invalid booking", func(t *testing.T) {
		f := newFixture("2024-06-01")
		err := f.session.Reserve(ctx, &models.Booking{SelectedDate: "June 10", SelectedTime: "12:00"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSlotUnavailable)
	})
}

func TestGuard_BlockedSlots(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		date  string
		clock string
		block string
	}{
		{name: "whole day block", date: "2024-06-10", clock: "10:00", block: ""},
		{name: "slot block", date: "2024-06-11", clock: "10:00", block: "10:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("2024-06-01")
			// Cache the week before the block lands.
			require.NotNil(t, f.session.FetchWeekAvailability(ctx, date(tt.date)))
			f.store.addBlock(tt.date, tt.block, "closed for maintenance")

			assert.False(t, f.session.CheckRealTimeAvailability(ctx, date(tt.date), tt.clock))

			err := f.session.Reserve(ctx, &models.Booking{SelectedDate: tt.date, SelectedTime: tt.clock, CustomerName: "Somchai"})
			assert.ErrorIs(t, err, ErrSlotUnavailable)
			assert.Empty(t, f.store.bookings)

			entry, _ := f.cache.Get(ctx, tt.date)
			s, _ := slotByTime(entry.Slots[tt.date], tt.clock)
			assert.True(t, s.IsBlocked, "cached week reflects the refetched day")
		})
	}

	t.Run("neighbouring slot stays open", func(t *testing.T) {
		f := newFixture("2024-06-01")
		f.store.addBlock("2024-06-11", "10:00", "dentist")
		assert.True(t, f.session.CheckRealTimeAvailability(ctx, date("2024-06-11"), "11:00"))
		require.NoError(t, f.session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-11", SelectedTime: "11:00"}))
	})

	t.Run("write-side block maps to unavailable", func(t *testing.T) {
		f := newFixture("2024-06-01")
		// The guard reads a store that has not seen the block yet.
		stale := &memStore{hours: standardHours()}
		session := NewSession(Config{
			OrganizationID: "org-1",
			Source:         NewAggregator(stale),
			Counter:        stale,
			Reserver:       f.store,
		}, &testLogger)
		f.store.addBlock("2024-06-11", "10:00", "dentist")

		err := session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-11", SelectedTime: "10:00"})
		assert.ErrorIs(t, err, ErrSlotUnavailable)
		assert.Empty(t, f.store.bookings)
	})
}

func TestGuard_CapacityFollowsReload(t *testing.T) {
	ctx := context.Background()
	store := &memStore{hours: standardHours()}
	var capacity atomic.Int32
	capacity.Store(1)
	session := NewSession(Config{
		OrganizationID: "org-1",
		Source:         NewAggregator(store),
		Counter:        store,
		Reserver:       store,
		Capacity:       1,
		CapacityFunc:   func() int { return int(capacity.Load()) },
	}, &testLogger)

	require.NoError(t, session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "10:00"}))
	assert.ErrorIs(t, session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "10:00"}), ErrSlotUnavailable)

	capacity.Store(2)
	assert.Equal(t, 2, session.Capacity())
	require.NoError(t, session.Reserve(ctx, &models.Booking{SelectedDate: "2024-06-10", SelectedTime: "10:00"}))

	capacity.Store(0)
	assert.Equal(t, 1, session.Capacity(), "falls back to the static capacity")
}
