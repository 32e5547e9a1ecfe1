package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"homebooking/internal/events"
	"homebooking/internal/metrics"
	"homebooking/internal/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// WebhookSecretHeader carries the shared secret of database webhooks.
const WebhookSecretHeader = "x-webhook-secret"

// DBChangePayload is a database webhook row change notification.
type DBChangePayload struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// ChangeEvent maps the payload to a change event. ok is false for tables
// that do not affect availability.
func (p DBChangePayload) ChangeEvent() (events.ChangeEvent, bool) {
	ev := events.ChangeEvent{
		Table: p.Table,
		Type:  events.ChangeType(strings.ToUpper(p.Type)),
	}
	switch p.Table {
	case events.TableBookings, events.TableScheduleBlocks:
		ev.OrganizationID = firstString("organization_id", p.Record, p.OldRecord)
	case events.TableOrganizations:
		ev.OrganizationID = firstString("id", p.Record, p.OldRecord)
	default:
		return ev, false
	}
	ev.RecordID = firstString("id", p.Record, p.OldRecord)
	switch ev.Type {
	case events.Insert, events.Update, events.Delete:
	default:
		return ev, false
	}
	return ev, ev.OrganizationID != ""
}

func firstString(key string, records ...map[string]any) string {
	for _, rec := range records {
		if v, ok := rec[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// handleDBChange republishes database webhook notifications as change events.
// POST /hooks/db-change
func (s *HTTPServer) handleDBChange(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("db_change")
	if s.opts.WebhookSecret != "" && !secretEqual(r.Header.Get(WebhookSecretHeader), s.opts.WebhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	if s.deps.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "change publisher not configured")
		return
	}

	var payload DBChangePayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, ok := payload.ChangeEvent()
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if err := s.deps.Publisher.Publish(r.Context(), ev); err != nil {
		s.logger.Error().Err(err).Str("table", ev.Table).Msg("publish db change")
		writeError(w, http.StatusInternalServerError, "failed to publish change")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

// Stripe checkout metadata key linking a session to a booking.
const stripeBookingMetadataKey = "booking_id"

// handleStripeWebhook settles bookings awaiting payment: a completed
// checkout confirms the booking, an expired one cancels it and frees the slot.
// POST /hooks/stripe
func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("stripe_webhook")
	if strings.TrimSpace(s.opts.StripeWebhookSecret) == "" {
		writeError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}
	if !s.requireStore(w) {
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, s.opts.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var target models.BookingStatus
	switch evt.Type {
	case "checkout.session.completed":
		target = models.StatusConfirmed
	case "checkout.session.expired":
		target = models.StatusCancelled
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		s.logger.Error().Err(err).Str("event_id", evt.ID).Msg("stripe: invalid checkout session payload")
		writeError(w, http.StatusBadRequest, "invalid checkout session payload")
		return
	}
	bookingID := strings.TrimSpace(session.Metadata[stripeBookingMetadataKey])
	if bookingID == "" {
		s.logger.Warn().Str("event_id", evt.ID).Msg("stripe: checkout session without booking_id metadata")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, err = s.deps.Store.UpdateBookingStatus(r.Context(), bookingID, target)
	switch {
	case err == nil:
		s.logger.Info().Str("booking_id", bookingID).Str("status", string(target)).Str("event_id", evt.ID).Msg("stripe: booking settled")
		writeJSON(w, http.StatusOK, map[string]string{"status": string(target)})
	case errors.Is(err, models.ErrInvalidStatusTransition), errors.Is(err, models.ErrNotFound):
		// Replayed or out-of-order events are acknowledged so Stripe stops retrying.
		s.logger.Info().Err(err).Str("booking_id", bookingID).Str("event_id", evt.ID).Msg("stripe: event not applied")
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
	default:
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("stripe: settle booking")
		writeError(w, http.StatusInternalServerError, "failed to settle booking")
	}
}
