package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/metrics"
	"homebooking/internal/models"
)

const (
	// MaxAvailabilityDaysRange is the maximum number of days allowed in availability request.
	MaxAvailabilityDaysRange = 90
)

// handleAvailability returns occupancy counts, blocks and business hours
// for an organization within a date range.
// POST /functions/v1/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	var req availability.RangeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validateRangeRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Source.FetchRange(r.Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Str("organization_id", req.OrganizationID).Msg("availability range")
		metrics.IncFetchError("endpoint")
		writeError(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validateRangeRequest(req *availability.RangeRequest) error {
	if req.OrganizationID == "" || req.StartDate == "" || req.EndDate == "" {
		return fmt.Errorf("organizationId, startDate and endDate are required")
	}

	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return fmt.Errorf("invalid startDate format; expected YYYY-MM-DD")
	}

	endDate, err := time.Parse(models.DateLayout, req.EndDate)
	if err != nil {
		return fmt.Errorf("invalid endDate format; expected YYYY-MM-DD")
	}

	if startDate.After(endDate) {
		return fmt.Errorf("startDate must be before or equal to endDate")
	}

	days := int(endDate.Sub(startDate).Hours() / 24)
	if days > MaxAvailabilityDaysRange {
		return fmt.Errorf("date range exceeds maximum of %d days", MaxAvailabilityDaysRange)
	}
	return nil
}
