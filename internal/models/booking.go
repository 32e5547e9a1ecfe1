package models

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	StatusPending         BookingStatus = "pending"
	StatusConfirmed       BookingStatus = "confirmed"
	StatusAwaitingPayment BookingStatus = "awaiting_payment"
	StatusCompleted       BookingStatus = "completed"
	StatusCancelled       BookingStatus = "cancelled"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:         {StatusConfirmed, StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusAwaitingPayment, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Occupies reports whether a booking in this status holds its slot.
func (s BookingStatus) Occupies() bool {
	return s.Valid() && s != StatusCancelled
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking occupies one date and one time slot of an organization.
type Booking struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	SelectedDate   string        `json:"selected_date"`
	SelectedTime   string        `json:"selected_time"`
	Status         BookingStatus `json:"status"`
	CustomerName   string        `json:"customer_name,omitempty"`
	CustomerPhone  string        `json:"customer_phone,omitempty"`
	ServiceName    string        `json:"service_name,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks required fields and normalizes SelectedTime to HH:MM.
func (b *Booking) Validate() error {
	if b.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}
	if _, err := ParseDate(b.SelectedDate); err != nil {
		return err
	}
	clock, err := NormalizeClock(b.SelectedTime)
	if err != nil {
		return err
	}
	b.SelectedTime = clock
	if !b.Status.Valid() {
		return fmt.Errorf("invalid status %q", b.Status)
	}
	return nil
}
