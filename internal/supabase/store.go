package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	tableOrganizations = "organizations"
	tableBookings      = "bookings"
	tableBlocks        = "schedule_blocks"
)

// Postgres error codes raised by the slot uniqueness and exclusion constraints.
var slotConflictCodes = []string{"(23505)", "(23P01)"}

// check_violation, raised by the blocked-slot trigger.
const slotBlockedCode = "(23514)"

// Store reads and writes scheduling data through PostgREST.
type Store struct {
	client    *supa.Client
	publisher events.Publisher
	logger    *zerolog.Logger
}

// NewClient builds a service-role client.
func NewClient(url, serviceKey string) (*supa.Client, error) {
	client, err := supa.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

// NewStore wraps client. publisher may be nil when database webhooks already
// deliver change events.
func NewStore(client *supa.Client, publisher events.Publisher, logger *zerolog.Logger) *Store {
	return &Store{client: client, publisher: publisher, logger: logger}
}

type organizationRow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	BusinessHours json.RawMessage `json:"business_hours,omitempty"`
}

type bookingRow struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SelectedDate   string    `json:"selected_date"`
	StartTime      string    `json:"start_time"`
	Status         string    `json:"status"`
	CustomerName   *string   `json:"customer_name"`
	CustomerPhone  *string   `json:"customer_phone"`
	ServiceName    *string   `json:"service_name"`
	Notes          *string   `json:"notes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type blockRow struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Date           string    `json:"date"`
	Time           *string   `json:"time"`
	Type           string    `json:"type"`
	Title          *string   `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r bookingRow) toModel() models.Booking {
	return models.Booking{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		SelectedDate:   r.SelectedDate,
		SelectedTime:   r.StartTime,
		Status:         models.BookingStatus(r.Status),
		CustomerName:   deref(r.CustomerName),
		CustomerPhone:  deref(r.CustomerPhone),
		ServiceName:    deref(r.ServiceName),
		Notes:          deref(r.Notes),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func bookingToRow(b models.Booking) bookingRow {
	return bookingRow{
		ID:             b.ID,
		OrganizationID: b.OrganizationID,
		SelectedDate:   b.SelectedDate,
		StartTime:      b.SelectedTime,
		Status:         string(b.Status),
		CustomerName:   optional(b.CustomerName),
		CustomerPhone:  optional(b.CustomerPhone),
		ServiceName:    optional(b.ServiceName),
		Notes:          optional(b.Notes),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func (r blockRow) toModel() models.ScheduleBlock {
	return models.ScheduleBlock{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Date:           r.Date,
		Time:           deref(r.Time),
		Type:           models.BlockType(r.Type),
		Title:          deref(r.Title),
		CreatedAt:      r.CreatedAt,
	}
}

func blockToRow(b models.ScheduleBlock) blockRow {
	return blockRow{
		ID:             b.ID,
		OrganizationID: b.OrganizationID,
		Date:           b.Date,
		Time:           optional(b.Time),
		Type:           string(b.Type),
		Title:          optional(b.Title),
		CreatedAt:      b.CreatedAt,
	}
}

// mapError turns slot constraint violations into models.ErrSlotTaken and
// the blocked-slot trigger into models.ErrSlotBlocked.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, slotBlockedCode) {
		return fmt.Errorf("%w: %s", models.ErrSlotBlocked, msg)
	}
	for _, code := range slotConflictCodes {
		if strings.Contains(msg, code) {
			return fmt.Errorf("%w: %s", models.ErrSlotTaken, msg)
		}
	}
	return err
}

var ascending = &postgrest.OrderOpts{Ascending: true}

// GetBusinessHours returns the organization's hours; nil when unset or unreadable.
func (s *Store) GetBusinessHours(_ context.Context, organizationID string) (models.BusinessHours, error) {
	data, _, err := s.client.From(tableOrganizations).
		Select("id,business_hours", "", false).
		Eq("id", organizationID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("select organization: %w", err)
	}
	var rows []organizationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode organization: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("organization %s: %w", organizationID, models.ErrNotFound)
	}
	raw := rows[0].BusinessHours
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var hours models.BusinessHours
	if err := json.Unmarshal(raw, &hours); err != nil {
		s.logger.Warn().Err(err).Str("organization_id", organizationID).Msg("malformed business hours")
		return nil, nil
	}
	return hours, nil
}

// SaveBusinessHours upserts the weekly schedule.
func (s *Store) SaveBusinessHours(ctx context.Context, organizationID string, hours models.BusinessHours) error {
	if err := hours.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(hours)
	if err != nil {
		return err
	}
	_, _, err = s.client.From(tableOrganizations).
		Insert(organizationRow{ID: organizationID, BusinessHours: raw}, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upsert business hours: %w", err)
	}
	s.publish(ctx, events.TableOrganizations, events.Update, organizationID, organizationID)
	return nil
}

// ListBookings returns bookings between two dates, inclusive.
func (s *Store) ListBookings(_ context.Context, organizationID, startDate, endDate string) ([]models.Booking, error) {
	data, _, err := s.client.From(tableBookings).
		Select("*", "", false).
		Eq("organization_id", organizationID).
		Gte("selected_date", startDate).
		Lte("selected_date", endDate).
		Order("selected_date", ascending).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	var rows []bookingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}

	out := make([]models.Booking, 0, len(rows))
	for _, r := range rows {
		b := r.toModel()
		if err := b.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("skip invalid booking row")
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ListBlocks returns blocks between two dates, inclusive.
func (s *Store) ListBlocks(_ context.Context, organizationID, startDate, endDate string) ([]models.ScheduleBlock, error) {
	data, _, err := s.client.From(tableBlocks).
		Select("*", "", false).
		Eq("organization_id", organizationID).
		Gte("date", startDate).
		Lte("date", endDate).
		Order("date", ascending).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("select blocks: %w", err)
	}
	var rows []blockRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}

	out := make([]models.ScheduleBlock, 0, len(rows))
	for _, r := range rows {
		b := r.toModel()
		if err := b.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("block_id", b.ID).Msg("skip invalid block row")
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// CountActiveBookings counts non-cancelled bookings at one slot.
func (s *Store) CountActiveBookings(_ context.Context, organizationID, date, clock string) (int, error) {
	_, count, err := s.client.From(tableBookings).
		Select("id", "exact", false).
		Eq("organization_id", organizationID).
		Eq("selected_date", date).
		Eq("start_time", clock).
		Neq("status", string(models.StatusCancelled)).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return int(count), nil
}

// CreateBooking counts, checks blocks, then inserts. PostgREST has no
// multi-statement transactions, so the final word belongs to the slot
// constraint and the blocked-slot trigger in schema.sql.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking, capacity int) error {
	if capacity < 1 {
		capacity = 1
	}
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	if b.Status.Occupies() {
		count, err := s.CountActiveBookings(ctx, b.OrganizationID, b.SelectedDate, b.SelectedTime)
		if err != nil {
			return err
		}
		if count >= capacity {
			return models.ErrSlotTaken
		}

		blocks, err := s.ListBlocks(ctx, b.OrganizationID, b.SelectedDate, b.SelectedDate)
		if err != nil {
			return err
		}
		for _, blk := range blocks {
			if blockCovers(blk, b.SelectedTime) {
				return models.ErrSlotBlocked
			}
		}
	}

	_, _, err := s.client.From(tableBookings).
		Insert(bookingToRow(*b), false, "", "minimal", "").
		Execute()
	if err != nil {
		return mapError(fmt.Errorf("insert booking: %w", err))
	}
	s.publish(ctx, events.TableBookings, events.Insert, b.OrganizationID, b.ID)
	return nil
}

// GetBooking returns a booking by id.
func (s *Store) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	data, _, err := s.client.From(tableBookings).
		Select("*", "", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("select booking: %w", err)
	}
	var rows []bookingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode booking: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	b := rows[0].toModel()
	return &b, nil
}

// UpdateBookingStatus applies a lifecycle transition. The update is
// conditioned on the status read, so a concurrent change fails as not found.
func (s *Store) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, b.Status, status)
	}

	updatedAt := time.Now().UTC()
	data, _, err := s.client.From(tableBookings).
		Update(map[string]any{"status": string(status), "updated_at": updatedAt}, "representation", "").
		Eq("id", id).
		Eq("status", string(b.Status)).
		Execute()
	if err != nil {
		return nil, mapError(fmt.Errorf("update booking: %w", err))
	}
	var rows []bookingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode booking: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("booking %s changed concurrently: %w", id, models.ErrNotFound)
	}
	updated := rows[0].toModel()
	s.publish(ctx, events.TableBookings, events.Update, updated.OrganizationID, id)
	return &updated, nil
}

// CreateBlocks inserts blocks in one request.
func (s *Store) CreateBlocks(ctx context.Context, organizationID string, blocks []models.ScheduleBlock) ([]models.ScheduleBlock, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	out := make([]models.ScheduleBlock, len(blocks))
	rows := make([]blockRow, len(blocks))
	for i, b := range blocks {
		b.OrganizationID = organizationID
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.CreatedAt = now
		out[i] = b
		rows[i] = blockToRow(b)
	}

	if _, _, err := s.client.From(tableBlocks).Insert(rows, false, "", "minimal", "").Execute(); err != nil {
		return nil, fmt.Errorf("insert blocks: %w", err)
	}
	for _, b := range out {
		s.publish(ctx, events.TableScheduleBlocks, events.Insert, organizationID, b.ID)
	}
	return out, nil
}

// DeleteBlock removes one of the organization's blocks.
func (s *Store) DeleteBlock(ctx context.Context, organizationID, id string) error {
	data, _, err := s.client.From(tableBlocks).
		Delete("representation", "").
		Eq("organization_id", organizationID).
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	var rows []blockRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("decode deleted block: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("block %s: %w", id, models.ErrNotFound)
	}
	s.publish(ctx, events.TableScheduleBlocks, events.Delete, organizationID, id)
	return nil
}

// EnsureOrganization upserts the organization's display name.
func (s *Store) EnsureOrganization(_ context.Context, id, name string) error {
	_, _, err := s.client.From(tableOrganizations).
		Insert(organizationRow{ID: id, Name: name}, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upsert organization: %w", err)
	}
	return nil
}

// EnsureHoliday adds a whole-day holiday block unless one exists.
func (s *Store) EnsureHoliday(ctx context.Context, organizationID, date, title string) error {
	blocks, err := s.ListBlocks(ctx, organizationID, date, date)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if b.IsWholeDay() {
			return nil
		}
	}
	_, err = s.CreateBlocks(ctx, organizationID, []models.ScheduleBlock{{
		Date:  date,
		Type:  models.BlockHoliday,
		Title: title,
	}})
	return err
}

func (s *Store) publish(ctx context.Context, table string, typ events.ChangeType, orgID, recordID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.ChangeEvent{
		Table:          table,
		Type:           typ,
		OrganizationID: orgID,
		RecordID:       recordID,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("table", table).Str("organization_id", orgID).Msg("publish change event")
	}
}

func blockCovers(blk models.ScheduleBlock, clock string) bool {
	if blk.IsWholeDay() {
		return true
	}
	a, errA := models.NormalizeClock(blk.Time)
	b, errB := models.NormalizeClock(clock)
	return errA == nil && errB == nil && a == b
}
