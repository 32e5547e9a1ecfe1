package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/metrics"
	"homebooking/internal/models"
	"homebooking/internal/report"
)

const monthLayout = "2006-01"

// MonthResponse is the body of GET .../months/{month}.
type MonthResponse struct {
	Month string                         `json:"month"`
	Days  []availability.DayAvailability `json:"days"`
}

// WeekResponse is the body of GET .../weeks/{weekStart}.
type WeekResponse struct {
	*availability.WeekEntry
	TimeSlots []string `json:"time_slots"`
}

// DayResponse is the body of GET .../days/{date}.
type DayResponse struct {
	Date    string                              `json:"date"`
	Summary *availability.DayAvailability       `json:"summary,omitempty"`
	Slots   []availability.TimeSlotAvailability `json:"slots"`
}

// SlotCheckResponse is the body of GET .../slots/{date}/{time}.
type SlotCheckResponse struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// BusinessHoursResponse is the body of GET .../business-hours.
type BusinessHoursResponse struct {
	BusinessHours models.BusinessHours `json:"business_hours"`
	IsDefault     bool                 `json:"is_default"`
	TimeSlots     []string             `json:"time_slots"`
}

// BookingRequest is the body of POST .../bookings.
type BookingRequest struct {
	SelectedDate  string               `json:"selected_date"`
	SelectedTime  string               `json:"selected_time"`
	Status        models.BookingStatus `json:"status,omitempty"`
	CustomerName  string               `json:"customer_name,omitempty"`
	CustomerPhone string               `json:"customer_phone,omitempty"`
	ServiceName   string               `json:"service_name,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

// SlotConflictResponse is returned with 409 when the slot was taken.
type SlotConflictResponse struct {
	Error string                        `json:"error"`
	Day   *availability.DayAvailability `json:"day,omitempty"`
}

// StatusRequest is the body of PATCH .../bookings/{id}.
type StatusRequest struct {
	Status models.BookingStatus `json:"status"`
}

// BlocksRequest is the body of POST .../blocks.
type BlocksRequest struct {
	Blocks []models.ScheduleBlock `json:"blocks"`
}

func (s *HTTPServer) session(w http.ResponseWriter, r *http.Request) (*availability.Session, bool) {
	session, err := s.deps.Sessions.Session(r.PathValue("org"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return session, true
}

func (s *HTTPServer) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduling store not configured")
		return false
	}
	return true
}

func pathDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	d, err := models.ParseDate(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s; expected YYYY-MM-DD", name))
		return time.Time{}, false
	}
	return d, true
}

// GET /api/v1/orgs/{org}/months/{month}
func (s *HTTPServer) handleMonth(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("month")
	month, err := time.Parse(monthLayout, r.PathValue("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month; expected YYYY-MM")
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	days := session.FetchMonthAvailability(r.Context(), month)
	if days == nil {
		writeError(w, http.StatusBadGateway, "failed to load availability")
		return
	}
	writeJSON(w, http.StatusOK, MonthResponse{Month: month.Format(monthLayout), Days: days})
}

// GET /api/v1/orgs/{org}/weeks/{weekStart}
func (s *HTTPServer) handleWeek(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("week")
	weekStart, ok := pathDate(w, r, "weekStart")
	if !ok {
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	entry := session.FetchWeekAvailability(r.Context(), weekStart)
	if entry == nil {
		writeError(w, http.StatusBadGateway, "failed to load availability")
		return
	}
	session.PrefetchAdjacentWeeks(r.Context(), weekStart)
	writeJSON(w, http.StatusOK, WeekResponse{WeekEntry: entry, TimeSlots: session.TimeSlots()})
}

// GET /api/v1/orgs/{org}/weeks/{weekStart}/export.xlsx
func (s *HTTPServer) handleWeekExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("week_export")
	weekStart, ok := pathDate(w, r, "weekStart")
	if !ok {
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	entry := session.FetchWeekAvailability(r.Context(), weekStart)
	if entry == nil {
		writeError(w, http.StatusBadGateway, "failed to load availability")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteWeek(&buf, entry); err != nil {
		s.logger.Error().Err(err).Str("week", entry.WeekStart).Msg("export week")
		writeError(w, http.StatusInternalServerError, "failed to export week")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		report.FileName(session.OrganizationID(), models.MondayOf(weekStart))))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GET /api/v1/orgs/{org}/days/{date}
func (s *HTTPServer) handleDay(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("day")
	date, ok := pathDate(w, r, "date")
	if !ok {
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	slotList := session.FetchDayAvailability(r.Context(), date)
	resp := DayResponse{Date: date.Format(models.DateLayout), Slots: slotList}
	if resp.Slots == nil {
		resp.Slots = []availability.TimeSlotAvailability{}
	}
	if summary, ok := session.GetAvailabilityForDate(date); ok {
		resp.Summary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/orgs/{org}/slots/{date}/{time}
func (s *HTTPServer) handleSlotCheck(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slot_check")
	date, ok := pathDate(w, r, "date")
	if !ok {
		return
	}
	clock, err := models.NormalizeClock(r.PathValue("time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time; expected HH:MM")
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, SlotCheckResponse{
		Date:      date.Format(models.DateLayout),
		Time:      clock,
		Available: session.CheckRealTimeAvailability(r.Context(), date, clock),
	})
}

// GET /api/v1/orgs/{org}/business-hours
func (s *HTTPServer) handleGetBusinessHours(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("business_hours")
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	hours := session.BusinessHours()
	if hours == nil {
		// Load the snapshot through a single-day read.
		session.FetchDayAvailability(r.Context(), time.Now())
		hours = session.BusinessHours()
	}
	resp := BusinessHoursResponse{BusinessHours: hours, IsDefault: !hours.IsSet(), TimeSlots: session.TimeSlots()}
	if resp.IsDefault {
		resp.BusinessHours = models.DefaultBusinessHours()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PUT /api/v1/orgs/{org}/business-hours
func (s *HTTPServer) handlePutBusinessHours(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("business_hours_update")
	if !s.requireStore(w) {
		return
	}
	var hours models.BusinessHours
	if err := json.NewDecoder(r.Body).Decode(&hours); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := hours.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	org := r.PathValue("org")
	if err := s.deps.Store.SaveBusinessHours(r.Context(), org, hours); err != nil {
		s.logger.Error().Err(err).Str("organization_id", org).Msg("save business hours")
		writeError(w, http.StatusInternalServerError, "failed to save business hours")
		return
	}
	writeJSON(w, http.StatusOK, hours)
}

// POST /api/v1/orgs/{org}/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_create")
	var req BookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	b := &models.Booking{
		OrganizationID: session.OrganizationID(),
		SelectedDate:   req.SelectedDate,
		SelectedTime:   req.SelectedTime,
		Status:         req.Status,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		ServiceName:    req.ServiceName,
		Notes:          req.Notes,
	}
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if b.Status != models.StatusPending && b.Status != models.StatusAwaitingPayment && b.Status != models.StatusConfirmed {
		writeError(w, http.StatusBadRequest, "new bookings must be pending, awaiting_payment or confirmed")
		return
	}

	err := session.Reserve(r.Context(), b)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, b)
	case errors.Is(err, availability.ErrSlotUnavailable):
		resp := SlotConflictResponse{Error: err.Error()}
		if d, err := models.ParseDate(b.SelectedDate); err == nil {
			if day, ok := session.GetAvailabilityForDate(d); ok {
				resp.Day = &day
			}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, availability.ErrReservationsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Str("organization_id", b.OrganizationID).Msg("create booking")
		writeError(w, http.StatusInternalServerError, "failed to create booking")
	}
}

// PATCH /api/v1/orgs/{org}/bookings/{id}
func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_update")
	if !s.requireStore(w) {
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "a valid status is required")
		return
	}

	org, id := r.PathValue("org"), r.PathValue("id")
	existing, err := s.deps.Store.GetBooking(r.Context(), id)
	if err != nil || existing.OrganizationID != org {
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to load booking")
			return
		}
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}

	updated, err := s.deps.Store.UpdateBookingStatus(r.Context(), id, req.Status)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, models.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	default:
		s.logger.Error().Err(err).Str("booking_id", id).Msg("update booking status")
		writeError(w, http.StatusInternalServerError, "failed to update booking")
	}
}

// POST /api/v1/orgs/{org}/blocks
func (s *HTTPServer) handleCreateBlocks(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("blocks_create")
	if !s.requireStore(w) {
		return
	}
	var req BlocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Blocks) == 0 {
		writeError(w, http.StatusBadRequest, "at least one block is required")
		return
	}
	for i := range req.Blocks {
		if err := req.Blocks[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("blocks[%d]: %v", i, err))
			return
		}
	}

	org := r.PathValue("org")
	created, err := s.deps.Store.CreateBlocks(r.Context(), org, req.Blocks)
	if err != nil {
		s.logger.Error().Err(err).Str("organization_id", org).Msg("create blocks")
		writeError(w, http.StatusInternalServerError, "failed to create blocks")
		return
	}
	writeJSON(w, http.StatusCreated, BlocksRequest{Blocks: created})
}

// DELETE /api/v1/orgs/{org}/blocks/{id}
func (s *HTTPServer) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("blocks_delete")
	if !s.requireStore(w) {
		return
	}
	org, id := r.PathValue("org"), r.PathValue("id")
	err := s.deps.Store.DeleteBlock(r.Context(), org, id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "block not found")
	default:
		s.logger.Error().Err(err).Str("block_id", id).Msg("delete block")
		writeError(w, http.StatusInternalServerError, "failed to delete block")
	}
}
