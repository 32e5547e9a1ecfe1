package availability

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"homebooking/internal/cache"
	"homebooking/internal/metrics"
	"homebooking/internal/models"
	"homebooking/internal/slots"

	"github.com/rs/zerolog"
)

// Config wires a Session to its collaborators.
type Config struct {
	OrganizationID string
	Source         Source
	Counter        Counter
	// Reserver is optional; without it Reserve returns ErrReservationsDisabled.
	Reserver Reserver
	// Cache defaults to an in-memory store.
	Cache    cache.Store[WeekEntry]
	Capacity int
	// CapacityFunc, when set, is consulted on every use so capacity edits
	// apply to open sessions. Values below 1 fall back to Capacity.
	CapacityFunc func() int
	SlotStep     time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// Session is one organization's scheduling view: month and week
// availability, the displayed week, and the business hours snapshot.
// Fetch failures are logged and yield empty results.
type Session struct {
	orgID      string
	source     Source
	counter    Counter
	reserver   Reserver
	cache      cache.Store[WeekEntry]
	gen        *slots.Generator
	capacity   int
	capacityFn func() int
	loc        *time.Location
	now        func() time.Time
	logger     *zerolog.Logger

	// epoch is bumped by InvalidateAll. Results fetched under an older
	// epoch are returned to their caller but never stored.
	epoch    atomic.Uint64
	commitMu sync.Mutex

	mu           sync.RWMutex
	hours        models.BusinessHours
	hoursLoaded  bool
	days         map[string]DayAvailability
	currentMonth time.Time
	currentWeek  time.Time
	loading      int

	prefetch sync.WaitGroup
}

// NewSession creates a session for cfg.OrganizationID.
func NewSession(cfg Config, logger *zerolog.Logger) *Session {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory[WeekEntry]()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := logger.With().Str("organization_id", cfg.OrganizationID).Logger()
	return &Session{
		orgID:      cfg.OrganizationID,
		source:     cfg.Source,
		counter:    cfg.Counter,
		reserver:   cfg.Reserver,
		cache:      cfg.Cache,
		gen:        slots.NewGenerator(cfg.SlotStep),
		capacity:   cfg.Capacity,
		capacityFn: cfg.CapacityFunc,
		loc:        cfg.Location,
		now:        cfg.Now,
		logger:     &l,
		days:       make(map[string]DayAvailability),
	}
}

func (s *Session) OrganizationID() string { return s.orgID }

// Capacity is the number of active bookings a slot holds.
func (s *Session) Capacity() int {
	if s.capacityFn != nil {
		if n := s.capacityFn(); n >= 1 {
			return n
		}
	}
	return s.capacity
}

// FetchMonthAvailability computes the status of every day in date's month.
func (s *Session) FetchMonthAvailability(ctx context.Context, date time.Time) []DayAvailability {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, s.loc)
	last := first.AddDate(0, 1, -1)

	s.mu.Lock()
	s.currentMonth = first
	s.mu.Unlock()

	s.beginLoading()
	defer s.endLoading()

	epoch := s.epoch.Load()
	res, err := s.fetch(ctx, first, last)
	if err != nil {
		s.logger.Error().Err(err).Str("month", first.Format("2006-01")).Msg("fetch month availability")
		metrics.IncFetchError("month")
		return nil
	}
	hours := s.adoptHours(res.BusinessHours, epoch)

	capacity := s.Capacity()
	days := make([]DayAvailability, 0, last.Day())
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		day, _ := BuildDay(s.gen, hours, res, d, capacity)
		days = append(days, day)
	}
	s.storeDays(days, epoch)
	return days
}

// FetchWeekAvailability returns the week containing weekStart, from cache
// when populated. The week becomes the displayed week.
func (s *Session) FetchWeekAvailability(ctx context.Context, weekStart time.Time) *WeekEntry {
	monday := models.MondayOf(weekStart)
	key := monday.Format(models.DateLayout)

	s.mu.Lock()
	s.currentWeek = monday
	s.mu.Unlock()

	if entry, ok := s.cache.Get(ctx, key); ok {
		metrics.IncCacheHit()
		s.adoptCached(entry)
		return &entry
	}
	metrics.IncCacheMiss()

	s.beginLoading()
	defer s.endLoading()

	entry, err := s.loadWeek(ctx, monday)
	if err != nil {
		s.logger.Error().Err(err).Str("week", key).Msg("fetch week availability")
		metrics.IncFetchError("week")
		return nil
	}
	return entry
}

// FetchDayAvailability reads one day bypassing the cache and patches the
// cached week containing it.
func (s *Session) FetchDayAvailability(ctx context.Context, date time.Time) []TimeSlotAvailability {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)

	s.beginLoading()
	defer s.endLoading()

	epoch := s.epoch.Load()
	res, err := s.fetch(ctx, day, day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", day.Format(models.DateLayout)).Msg("fetch day availability")
		metrics.IncFetchError("day")
		return nil
	}
	hours := s.adoptHours(res.BusinessHours, epoch)

	summary, slotList := BuildDay(s.gen, hours, res, day, s.Capacity())
	s.storeDays([]DayAvailability{summary}, epoch)
	s.patchWeek(ctx, epoch, day, summary, slotList, res.Blocks[summary.Date])
	return slotList
}

// PrefetchAdjacentWeeks loads the weeks before and after weekStart in the
// background without touching the loading state. The previous week is
// skipped when it ended before today. Already cached weeks are skipped.
func (s *Session) PrefetchAdjacentWeeks(ctx context.Context, weekStart time.Time) {
	monday := models.MondayOf(weekStart)
	today := s.now().In(s.loc).Format(models.DateLayout)

	var targets []time.Time
	prev := monday.AddDate(0, 0, -7)
	if prev.AddDate(0, 0, 6).Format(models.DateLayout) >= today {
		targets = append(targets, prev)
	}
	targets = append(targets, monday.AddDate(0, 0, 7))

	bg := context.WithoutCancel(ctx)
	for _, wk := range targets {
		if _, ok := s.cache.Get(bg, wk.Format(models.DateLayout)); ok {
			continue
		}
		s.prefetch.Add(1)
		go func(wk time.Time) {
			defer s.prefetch.Done()
			if _, err := s.loadWeek(bg, wk); err != nil {
				s.logger.Warn().Err(err).Str("week", wk.Format(models.DateLayout)).Msg("prefetch week")
				metrics.IncFetchError("prefetch")
			}
		}(wk)
	}
}

// Wait blocks until running prefetches finish.
func (s *Session) Wait() {
	s.prefetch.Wait()
}

// GetAvailabilityForDate returns the last computed summary of date.
func (s *Session) GetAvailabilityForDate(date time.Time) (DayAvailability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.days[date.Format(models.DateLayout)]
	return day, ok
}

// TimeSlots is the union of slot times over the week, for pickers.
func (s *Session) TimeSlots() []string {
	s.mu.RLock()
	hours := s.hours
	s.mu.RUnlock()
	return s.gen.AllSlots(hours)
}

// BusinessHours returns the snapshot from the last fetch, nil when not
// loaded or unset.
func (s *Session) BusinessHours() models.BusinessHours {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hours.Clone()
}

// Loading reports whether a foreground fetch is in flight.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// DisplayedWeek returns the Monday of the last week fetched in the foreground.
func (s *Session) DisplayedWeek() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentWeek, !s.currentWeek.IsZero()
}

// InvalidateAll drops every cached week and the business hours snapshot.
// Fetches still in flight will not store their results.
func (s *Session) InvalidateAll(ctx context.Context) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("invalidate availability cache")
	}
	s.mu.Lock()
	s.epoch.Add(1)
	s.hours = nil
	s.hoursLoaded = false
	s.mu.Unlock()
}

// Refresh refetches the current month and, when one is displayed, the
// current week.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.RLock()
	month, week := s.currentMonth, s.currentWeek
	s.mu.RUnlock()

	if !month.IsZero() {
		s.FetchMonthAvailability(ctx, month)
	}
	if !week.IsZero() {
		s.FetchWeekAvailability(ctx, week)
	}
}

// Days returns the known day summaries in date order.
func (s *Session) Days() []DayAvailability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DayAvailability, 0, len(s.days))
	for _, d := range s.days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (s *Session) loadWeek(ctx context.Context, monday time.Time) (*WeekEntry, error) {
	epoch := s.epoch.Load()
	res, err := s.fetch(ctx, monday, monday.AddDate(0, 0, 6))
	if err != nil {
		return nil, err
	}
	s.adoptHours(res.BusinessHours, epoch)

	entry := BuildWeek(s.gen, res, monday, s.Capacity())
	s.commitWeek(ctx, epoch, entry)

	days := make([]DayAvailability, 0, len(entry.Days))
	for _, d := range entry.Days {
		days = append(days, d)
	}
	s.storeDays(days, epoch)
	return &entry, nil
}

func (s *Session) commitWeek(ctx context.Context, epoch uint64, entry WeekEntry) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.epoch.Load() != epoch {
		s.logger.Debug().Str("week", entry.WeekStart).Msg("discard week fetched before invalidation")
		return
	}
	if err := s.cache.Set(ctx, entry.WeekStart, entry); err != nil {
		s.logger.Warn().Err(err).Str("week", entry.WeekStart).Msg("cache week availability")
	}
}

// patchWeek replaces one day of the cached week containing day. Cached
// entries are shared with readers, so the patch goes into a copy.
func (s *Session) patchWeek(ctx context.Context, epoch uint64, day time.Time, summary DayAvailability, slotList []TimeSlotAvailability, blocks []models.ScheduleBlock) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.epoch.Load() != epoch {
		return
	}

	key := models.WeekKey(day)
	cached, ok := s.cache.Get(ctx, key)
	if !ok {
		return
	}
	entry := cached.Clone()
	if entry.Days == nil {
		entry.Days = make(map[string]DayAvailability)
	}
	if entry.Slots == nil {
		entry.Slots = make(map[string][]TimeSlotAvailability)
	}
	if entry.Blocks == nil {
		entry.Blocks = make(map[string][]models.ScheduleBlock)
	}
	entry.Days[summary.Date] = summary
	entry.Slots[summary.Date] = slotList
	if len(blocks) > 0 {
		entry.Blocks[summary.Date] = blocks
	} else {
		delete(entry.Blocks, summary.Date)
	}
	if err := s.cache.Set(ctx, key, entry); err != nil {
		s.logger.Warn().Err(err).Str("week", key).Msg("patch cached week")
	}
}

func (s *Session) fetch(ctx context.Context, start, end time.Time) (*RangeResult, error) {
	res, err := s.source.FetchRange(ctx, RangeRequest{
		OrganizationID: s.orgID,
		StartDate:      start.Format(models.DateLayout),
		EndDate:        end.Format(models.DateLayout),
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = NewRangeResult()
	}
	return res, nil
}

// adoptHours stores the fetched hours as the snapshot unless the session
// was invalidated since epoch. The fetched hours are returned either way.
func (s *Session) adoptHours(hours models.BusinessHours, epoch uint64) models.BusinessHours {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch.Load() == epoch {
		s.hours = hours.Clone()
		s.hoursLoaded = true
	}
	return hours.Clone()
}

func (s *Session) adoptCached(entry WeekEntry) {
	s.mu.Lock()
	if !s.hoursLoaded {
		s.hours = entry.BusinessHours.Clone()
		s.hoursLoaded = true
	}
	for date, d := range entry.Days {
		s.days[date] = d
	}
	s.mu.Unlock()
}

func (s *Session) storeDays(days []DayAvailability, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch.Load() != epoch {
		return
	}
	for _, d := range days {
		s.days[d.Date] = d
	}
}

func (s *Session) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Session) endLoading() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}
