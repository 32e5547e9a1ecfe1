package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitInvalidation(t *testing.T, c *Controller) Invalidation {
	t.Helper()
	select {
	case inv, ok := <-c.Invalidations():
		require.True(t, ok, "invalidations channel closed")
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation emitted")
	}
	return Invalidation{}
}

func TestController_InvalidatesAndRefetches(t *testing.T) {
	f := newFixture("2024-06-01")
	bus := events.NewBus()
	ctx := context.Background()

	c := NewController(f.session, bus, &testLogger)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	for _, table := range WatchedTables {
		assert.Equal(t, 1, bus.SubscriberCount(table), table)
	}

	f.session.FetchMonthAvailability(ctx, date("2024-06-01"))
	require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))
	require.Equal(t, 1, f.cache.Len())
	callsBefore := f.source.calls.Load()

	f.store.addBooking("2024-06-10", "14:00", models.StatusConfirmed)
	require.NoError(t, bus.Publish(ctx, events.ChangeEvent{
		Table:          events.TableBookings,
		Type:           events.Insert,
		OrganizationID: "org-1",
		RecordID:       "bk-1",
	}))

	inv := waitInvalidation(t, c)
	assert.Equal(t, events.TableBookings, inv.Table)
	assert.Equal(t, "bk-1", inv.RecordID)

	// Month and displayed week were both refetched.
	assert.EqualValues(t, callsBefore+2, f.source.calls.Load())
	entry, ok := f.cache.Get(ctx, "2024-06-10")
	require.True(t, ok)
	s, _ := slotByTime(entry.Slots["2024-06-10"], "14:00")
	assert.True(t, s.IsBooked)
}

func TestController_ClearsCacheOnObservation(t *testing.T) {
	f := newFixture("2024-06-01")
	bus := events.NewBus()

	require.NotNil(t, f.session.FetchWeekAvailability(context.Background(), date("2024-06-10")))
	require.NotNil(t, f.session.BusinessHours())

	// A cancelled context stops the refetch worker, leaving only the
	// synchronous invalidation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewController(f.session, bus, &testLogger)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.NoError(t, bus.Publish(context.Background(), events.ChangeEvent{
		Table:          events.TableOrganizations,
		Type:           events.Update,
		OrganizationID: "org-1",
	}))

	assert.Equal(t, 0, f.cache.Len())
	assert.Nil(t, f.session.BusinessHours())
}

func TestController_BusinessHoursChangeIsRefetched(t *testing.T) {
	f := newFixture("2024-06-01")
	bus := events.NewBus()
	ctx := context.Background()

	require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))

	c := NewController(f.session, bus, &testLogger)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	f.store.mu.Lock()
	f.store.hours[time.Monday] = models.DayHours{IsClosed: true}
	f.store.mu.Unlock()

	require.NoError(t, bus.Publish(ctx, events.ChangeEvent{
		Table:          events.TableOrganizations,
		Type:           events.Update,
		OrganizationID: "org-1",
	}))

	waitInvalidation(t, c)
	assert.True(t, f.session.BusinessHours()[time.Monday].IsClosed)
	entry, ok := f.cache.Get(ctx, "2024-06-10")
	require.True(t, ok)
	assert.True(t, entry.Days["2024-06-10"].IsClosed)
	assert.Equal(t, StatusFull, entry.Days["2024-06-10"].Status)
}

func TestController_IgnoresOtherOrganizations(t *testing.T) {
	f := newFixture("2024-06-01")
	bus := events.NewBus()
	ctx := context.Background()

	require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))
	c := NewController(f.session, bus, &testLogger)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.NoError(t, bus.Publish(ctx, events.ChangeEvent{
		Table:          events.TableScheduleBlocks,
		Type:           events.Insert,
		OrganizationID: "org-2",
	}))
	assert.Equal(t, 1, f.cache.Len())
}

func TestController_StopTearsDownSubscriptions(t *testing.T) {
	f := newFixture("2024-06-01")
	bus := events.NewBus()

	c := NewController(f.session, bus, &testLogger)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	c.Stop()
	c.Stop()

	for _, table := range WatchedTables {
		assert.Equal(t, 0, bus.SubscriberCount(table), table)
	}
	_, ok := <-c.Invalidations()
	assert.False(t, ok)

	require.NotNil(t, f.session.FetchWeekAvailability(context.Background(), date("2024-06-10")))
	_ = bus.Publish(context.Background(), events.ChangeEvent{Table: events.TableBookings, OrganizationID: "org-1"})
	assert.Equal(t, 1, f.cache.Len(), "no listener survives Stop")
}

func TestManager_ReusesSessions(t *testing.T) {
	store := &memStore{hours: standardHours()}
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx, func(string) Config {
		return Config{Source: NewAggregator(store), Counter: store, Reserver: store}
	}, bus, &testLogger)

	a, err := m.Session("org-1")
	require.NoError(t, err)
	b, err := m.Session("org-1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "org-1", a.OrganizationID())

	_, err = m.Session("org-2")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, bus.SubscriberCount(events.TableBookings))

	_, err = m.Session("")
	assert.Error(t, err)

	m.Close()
	assert.Equal(t, 0, bus.SubscriberCount(events.TableBookings))
	_, err = m.Session("org-1")
	assert.Error(t, err)
}

func TestManager_InvalidateRecomputesWithNewCapacity(t *testing.T) {
	store := &memStore{hours: standardHours()}
	ctx := context.Background()
	capacity := 1
	var mu sync.Mutex

	m := NewManager(ctx, func(string) Config {
		return Config{
			Source:   NewAggregator(store),
			Counter:  store,
			Reserver: store,
			CapacityFunc: func() int {
				mu.Lock()
				defer mu.Unlock()
				return capacity
			},
		}
	}, nil, &testLogger)
	defer m.Close()

	session, err := m.Session("org-1")
	require.NoError(t, err)
	store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)

	entry := session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, entry)
	s, _ := slotByTime(entry.Slots["2024-06-10"], "10:00")
	require.True(t, s.IsBooked)

	mu.Lock()
	capacity = 2
	mu.Unlock()
	m.Invalidate("org-1")
	m.Invalidate("org-unknown")

	entry = session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, entry)
	s, _ = slotByTime(entry.Slots["2024-06-10"], "10:00")
	assert.False(t, s.IsBooked, "second seat is free after the capacity change")
	assert.True(t, session.CheckRealTimeAvailability(ctx, date("2024-06-10"), "10:00"))
}
