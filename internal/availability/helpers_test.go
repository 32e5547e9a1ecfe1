package availability

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"homebooking/internal/cache"
	"homebooking/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

var testLogger = zerolog.New(io.Discard)

// memStore is an in-memory Store, Counter and Reserver.
type memStore struct {
	mu       sync.Mutex
	hours    models.BusinessHours
	bookings []models.Booking
	blocks   []models.ScheduleBlock
	countErr error
	seq      int
}

func (m *memStore) GetBusinessHours(_ context.Context, _ string) (models.BusinessHours, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hours.Clone(), nil
}

func (m *memStore) ListBookings(_ context.Context, _ string, start, end string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.SelectedDate >= start && b.SelectedDate <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ListBlocks(_ context.Context, _ string, start, end string) ([]models.ScheduleBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduleBlock
	for _, b := range m.blocks {
		if b.Date >= start && b.Date <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) CountActiveBookings(_ context.Context, _ string, date, clock string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.countLocked(date, clock), nil
}

func (m *memStore) countLocked(date, clock string) int {
	n := 0
	for _, b := range m.bookings {
		if b.Status.Occupies() && b.SelectedDate == date && b.SelectedTime == clock {
			n++
		}
	}
	return n
}

func (m *memStore) CreateBooking(_ context.Context, b *models.Booking, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countLocked(b.SelectedDate, b.SelectedTime) >= capacity {
		return models.ErrSlotTaken
	}
	for _, blk := range m.blocks {
		if blk.Date == b.SelectedDate && (blk.IsWholeDay() || blk.Time == b.SelectedTime) {
			return models.ErrSlotBlocked
		}
	}
	if b.ID == "" {
		m.seq++
		b.ID = fmt.Sprintf("bk-%d", m.seq)
	}
	m.bookings = append(m.bookings, *b)
	return nil
}

func (m *memStore) addBooking(date, clock string, status models.BookingStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.bookings = append(m.bookings, models.Booking{
		ID:             fmt.Sprintf("bk-%d", m.seq),
		OrganizationID: "org-1",
		SelectedDate:   date,
		SelectedTime:   clock,
		Status:         status,
	})
}

func (m *memStore) addBlock(date, clock, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	typ := models.BlockManual
	if clock == "" {
		typ = models.BlockHoliday
	}
	m.blocks = append(m.blocks, models.ScheduleBlock{
		ID:    fmt.Sprintf("blk-%d", m.seq),
		Date:  date,
		Time:  clock,
		Type:  typ,
		Title: title,
	})
}

// countingSource counts range fetches reaching the store.
type countingSource struct {
	inner Source
	calls atomic.Int32
}

func (c *countingSource) FetchRange(ctx context.Context, req RangeRequest) (*RangeResult, error) {
	c.calls.Add(1)
	return c.inner.FetchRange(ctx, req)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchRange(ctx context.Context, req RangeRequest) (*RangeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RangeResult), args.Error(1)
}

// standardHours: Mon-Fri 09-18, Sat 09-17, Sun closed.
func standardHours() models.BusinessHours {
	hours := models.BusinessHours{
		time.Saturday: {Open: "09:00", Close: "17:00"},
		time.Sunday:   {IsClosed: true},
	}
	for d := time.Monday; d <= time.Friday; d++ {
		hours[d] = models.DayHours{Open: "09:00", Close: "18:00"}
	}
	return hours
}

func date(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	store   *memStore
	source  *countingSource
	cache   *cache.Memory[WeekEntry]
	session *Session
}

func newFixture(now string) *fixture {
	store := &memStore{hours: standardHours()}
	source := &countingSource{inner: NewAggregator(store)}
	c := cache.NewMemory[WeekEntry]()
	session := NewSession(Config{
		OrganizationID: "org-1",
		Source:         source,
		Counter:        store,
		Reserver:       store,
		Cache:          c,
		Capacity:       1,
		Now:            func() time.Time { return date(now).Add(10 * time.Hour) },
	}, &testLogger)
	return &fixture{store: store, source: source, cache: c, session: session}
}

func slotByTime(list []TimeSlotAvailability, clock string) (TimeSlotAvailability, bool) {
	for _, s := range list {
		if s.Time == clock {
			return s, true
		}
	}
	return TimeSlotAvailability{}, false
}
