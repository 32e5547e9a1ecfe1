package availability

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"homebooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFetchWeekAvailability_EndToEndScenario(t *testing.T) {
	f := newFixture("2024-06-01")
	f.store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)
	ctx := context.Background()

	// Any day of the week resolves to the Monday key.
	entry := f.session.FetchWeekAvailability(ctx, date("2024-06-12"))
	require.NotNil(t, entry)
	assert.Equal(t, "2024-06-10", entry.WeekStart)

	sunday := entry.Days["2024-06-16"]
	assert.Equal(t, StatusFull, sunday.Status)
	assert.True(t, sunday.IsClosed)
	assert.Empty(t, entry.Slots["2024-06-16"])

	monday := entry.Slots["2024-06-10"]
	require.Len(t, monday, 9)
	for _, s := range monday {
		assert.Equal(t, s.Time == "10:00", s.IsBooked, s.Time)
		assert.False(t, s.IsBlocked)
	}

	saturday := entry.Slots["2024-06-15"]
	require.NotEmpty(t, saturday)
	assert.Equal(t, "16:00", saturday[len(saturday)-1].Time)
	_, has17 := slotByTime(saturday, "17:00")
	assert.False(t, has17)

	day, ok := f.session.GetAvailabilityForDate(date("2024-06-10"))
	require.True(t, ok)
	assert.Equal(t, 1, day.BookedSlots)
	assert.Equal(t, StatusAvailable, day.Status)
	assert.False(t, f.session.Loading())
}

func TestFetchMonthAvailability_ClosedSundaysAreFull(t *testing.T) {
	f := newFixture("2024-06-01")
	days := f.session.FetchMonthAvailability(context.Background(), date("2024-06-20"))
	require.Len(t, days, 30)
	assert.Equal(t, "2024-06-01", days[0].Date)
	assert.Equal(t, "2024-06-30", days[29].Date)

	sundays := 0
	for _, d := range days {
		if date(d.Date).Weekday() == time.Sunday {
			sundays++
			assert.Equal(t, StatusFull, d.Status, d.Date)
			assert.True(t, d.IsClosed)
		} else {
			assert.Equal(t, StatusAvailable, d.Status, d.Date)
		}
	}
	assert.Equal(t, 5, sundays)

	got, ok := f.session.GetAvailabilityForDate(date("2024-06-30"))
	require.True(t, ok)
	assert.Equal(t, StatusFull, got.Status)
}

func TestFetchMonthAvailability_PartialAndBlockedDays(t *testing.T) {
	f := newFixture("2024-06-01")
	for _, clock := range []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00"} {
		f.store.addBooking("2024-06-11", clock, models.StatusConfirmed)
	}
	f.store.addBlock("2024-06-12", "", "Company retreat")

	f.session.FetchMonthAvailability(context.Background(), date("2024-06-01"))

	tue, _ := f.session.GetAvailabilityForDate(date("2024-06-11"))
	assert.Equal(t, StatusPartial, tue.Status)
	assert.Equal(t, 6, tue.BookedSlots)

	wed, _ := f.session.GetAvailabilityForDate(date("2024-06-12"))
	assert.Equal(t, StatusAvailable, wed.Status, "blocks do not count as bookings")
	assert.Zero(t, wed.BookedSlots)
	assert.Equal(t, 9, wed.UnavailableSlots)
	assert.False(t, wed.IsClosed)

	// Bookings and blocks together: only bookings drive the status.
	f.store.addBlock("2024-06-13", "09:00", "Inspection")
	f.store.addBlock("2024-06-13", "10:00", "Inspection")
	f.store.addBooking("2024-06-13", "11:00", models.StatusConfirmed)
	f.session.InvalidateAll(context.Background())
	f.session.FetchMonthAvailability(context.Background(), date("2024-06-01"))
	thu, _ := f.session.GetAvailabilityForDate(date("2024-06-13"))
	assert.Equal(t, 1, thu.BookedSlots)
	assert.Equal(t, 3, thu.UnavailableSlots)
	assert.Equal(t, StatusAvailable, thu.Status)
}

func TestFetchWeekAvailability_UsesCacheUntilInvalidated(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()

	first := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, first)
	assert.EqualValues(t, 1, f.source.calls.Load())

	second := f.session.FetchWeekAvailability(ctx, date("2024-06-14"))
	require.NotNil(t, second)
	assert.EqualValues(t, 1, f.source.calls.Load(), "second fetch is served from cache")

	// Data unchanged: invalidation still forces a fresh computation.
	f.session.InvalidateAll(ctx)
	assert.Equal(t, 0, f.cache.Len())
	assert.Nil(t, f.session.BusinessHours())

	third := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, third)
	assert.EqualValues(t, 2, f.source.calls.Load())
	assert.Equal(t, first.Days, third.Days)

	// A change made after caching is only visible once invalidated.
	f.store.addBooking("2024-06-10", "09:00", models.StatusPending)
	cached := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	s, _ := slotByTime(cached.Slots["2024-06-10"], "09:00")
	assert.False(t, s.IsBooked)

	f.session.InvalidateAll(ctx)
	fresh := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	s, _ = slotByTime(fresh.Slots["2024-06-10"], "09:00")
	assert.True(t, s.IsBooked)
}

func TestFetch_ErrorsYieldEmptyResults(t *testing.T) {
	src := new(mockSource)
	src.On("FetchRange", mock.Anything, mock.Anything).Return(nil, errors.New("network down"))

	session := NewSession(Config{OrganizationID: "org-1", Source: src, Counter: &memStore{}}, &testLogger)
	ctx := context.Background()

	assert.Nil(t, session.FetchMonthAvailability(ctx, date("2024-06-01")))
	assert.Nil(t, session.FetchWeekAvailability(ctx, date("2024-06-10")))
	assert.Nil(t, session.FetchDayAvailability(ctx, date("2024-06-10")))
	assert.False(t, session.Loading())

	_, ok := session.GetAvailabilityForDate(date("2024-06-10"))
	assert.False(t, ok)
	src.AssertNumberOfCalls(t, "FetchRange", 3)
}

func TestFetch_UnsetHoursUseDefaultSchedule(t *testing.T) {
	f := newFixture("2024-06-01")
	f.store.hours = nil

	entry := f.session.FetchWeekAvailability(context.Background(), date("2024-06-10"))
	require.NotNil(t, entry)
	assert.Len(t, entry.Slots["2024-06-16"], 9, "sunday is bookable under the default schedule")
	assert.False(t, entry.Days["2024-06-16"].IsClosed)
	assert.Nil(t, f.session.BusinessHours())
	assert.Equal(t, "09:00", f.session.TimeSlots()[0])
	assert.Equal(t, "17:00", f.session.TimeSlots()[len(f.session.TimeSlots())-1])
}

func TestFetchDayAvailability_PatchesCachedWeek(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()

	require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))
	f.store.addBooking("2024-06-11", "15:00", models.StatusConfirmed)
	f.store.addBlock("2024-06-11", "16:00", "Van service")

	list := f.session.FetchDayAvailability(ctx, date("2024-06-11"))
	booked, _ := slotByTime(list, "15:00")
	assert.True(t, booked.IsBooked)
	blocked, _ := slotByTime(list, "16:00")
	assert.True(t, blocked.IsBlocked)
	assert.Equal(t, "Van service", blocked.BlockInfo.Title)

	entry, ok := f.cache.Get(ctx, "2024-06-10")
	require.True(t, ok)
	s, _ := slotByTime(entry.Slots["2024-06-11"], "15:00")
	assert.True(t, s.IsBooked)
	assert.Len(t, entry.Blocks["2024-06-11"], 1)
	assert.Equal(t, 1, entry.Days["2024-06-11"].BookedSlots)
	assert.Equal(t, 2, entry.Days["2024-06-11"].UnavailableSlots)
}

func TestPrefetchAdjacentWeeks(t *testing.T) {
	ctx := context.Background()

	t.Run("previous week in the past is skipped", func(t *testing.T) {
		f := newFixture("2024-06-12")
		f.session.PrefetchAdjacentWeeks(ctx, date("2024-06-10"))
		f.session.Wait()

		_, prev := f.cache.Get(ctx, "2024-06-03")
		_, next := f.cache.Get(ctx, "2024-06-17")
		assert.False(t, prev)
		assert.True(t, next)
		assert.EqualValues(t, 1, f.source.calls.Load())
		assert.False(t, f.session.Loading())
		_, displayed := f.session.DisplayedWeek()
		assert.False(t, displayed, "prefetch does not change the displayed week")
	})

	t.Run("previous week containing today is fetched", func(t *testing.T) {
		f := newFixture("2024-06-16")
		f.session.PrefetchAdjacentWeeks(ctx, date("2024-06-17"))
		f.session.Wait()

		_, prev := f.cache.Get(ctx, "2024-06-10")
		_, next := f.cache.Get(ctx, "2024-06-24")
		assert.True(t, prev)
		assert.True(t, next)
	})

	t.Run("cached weeks are not refetched", func(t *testing.T) {
		f := newFixture("2024-06-01")
		require.NoError(t, f.cache.Set(ctx, "2024-06-17", WeekEntry{WeekStart: "2024-06-17"}))
		require.NoError(t, f.cache.Set(ctx, "2024-06-03", WeekEntry{WeekStart: "2024-06-03"}))

		f.session.PrefetchAdjacentWeeks(ctx, date("2024-06-10"))
		f.session.Wait()
		assert.EqualValues(t, 0, f.source.calls.Load())
	})

	t.Run("survives caller cancellation", func(t *testing.T) {
		f := newFixture("2024-06-01")
		cctx, cancel := context.WithCancel(ctx)
		f.session.PrefetchAdjacentWeeks(cctx, date("2024-06-10"))
		cancel()
		f.session.Wait()
		_, next := f.cache.Get(ctx, "2024-06-17")
		assert.True(t, next)
	})
}

func TestSnapshotAndTimeSlots(t *testing.T) {
	f := newFixture("2024-06-01")
	assert.Nil(t, f.session.BusinessHours())

	f.session.FetchMonthAvailability(context.Background(), date("2024-06-01"))
	hours := f.session.BusinessHours()
	require.NotNil(t, hours)
	assert.True(t, hours[time.Sunday].IsClosed)

	// The snapshot is a copy.
	hours[time.Monday] = models.DayHours{IsClosed: true}
	assert.False(t, f.session.BusinessHours()[time.Monday].IsClosed)

	slotsUnion := f.session.TimeSlots()
	assert.Equal(t, "09:00", slotsUnion[0])
	assert.Equal(t, "17:00", slotsUnion[len(slotsUnion)-1])
}

func TestFetchDayAvailability_DoesNotMutateReturnedWeek(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()

	entry := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, entry)
	before := entry.Days["2024-06-10"]
	require.Equal(t, 0, before.BookedSlots)

	f.store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)
	f.session.FetchDayAvailability(ctx, date("2024-06-10"))

	assert.Equal(t, before, entry.Days["2024-06-10"])
	s, _ := slotByTime(entry.Slots["2024-06-10"], "10:00")
	assert.False(t, s.IsBooked)

	cached, ok := f.cache.Get(ctx, "2024-06-10")
	require.True(t, ok)
	assert.Equal(t, 1, cached.Days["2024-06-10"].BookedSlots)
}

// Run with -race: readers encode cached weeks while day fetches patch them.
func TestFetchDayAvailability_ConcurrentWithWeekReaders(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()
	require.NotNil(t, f.session.FetchWeekAvailability(ctx, date("2024-06-10")))

	days := []string{"2024-06-10", "2024-06-11", "2024-06-12", "2024-06-13", "2024-06-14"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				entry := f.session.FetchWeekAvailability(ctx, date("2024-06-10"))
				if entry == nil {
					continue
				}
				_, err := json.Marshal(entry)
				assert.NoError(t, err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				f.session.FetchDayAvailability(ctx, date(days[(i+j)%len(days)]))
			}
		}(i)
	}
	wg.Wait()

	cached, ok := f.cache.Get(ctx, "2024-06-10")
	require.True(t, ok)
	assert.Len(t, cached.Days, 7)
}

// gatedSource holds its first fetch after reading the store until released.
type gatedSource struct {
	inner   Source
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource(inner Source) *gatedSource {
	return &gatedSource{inner: inner, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSource) FetchRange(ctx context.Context, req RangeRequest) (*RangeResult, error) {
	res, err := g.inner.FetchRange(ctx, req)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.reached)
		<-g.release
	}
	return res, err
}

func TestInvalidateAll_DiscardsFetchInFlight(t *testing.T) {
	f := newFixture("2024-06-01")
	ctx := context.Background()
	gate := newGatedSource(f.source)
	session := NewSession(Config{
		OrganizationID: "org-1",
		Source:         gate,
		Counter:        f.store,
		Reserver:       f.store,
		Cache:          f.cache,
		Capacity:       1,
	}, &testLogger)

	done := make(chan *WeekEntry, 1)
	go func() { done <- session.FetchWeekAvailability(ctx, date("2024-06-10")) }()
	<-gate.reached

	// A change lands and is announced while the old read is still out.
	f.store.addBooking("2024-06-10", "10:00", models.StatusConfirmed)
	session.InvalidateAll(ctx)
	close(gate.release)

	stale := <-done
	require.NotNil(t, stale, "the caller still gets its result")
	s, _ := slotByTime(stale.Slots["2024-06-10"], "10:00")
	assert.False(t, s.IsBooked)

	assert.Equal(t, 0, f.cache.Len())
	assert.Nil(t, session.BusinessHours())
	_, ok := session.GetAvailabilityForDate(date("2024-06-10"))
	assert.False(t, ok)

	fresh := session.FetchWeekAvailability(ctx, date("2024-06-10"))
	require.NotNil(t, fresh)
	s, _ = slotByTime(fresh.Slots["2024-06-10"], "10:00")
	assert.True(t, s.IsBooked)
	assert.Equal(t, 1, fresh.Days["2024-06-10"].BookedSlots)
	assert.NotNil(t, session.BusinessHours())
}
