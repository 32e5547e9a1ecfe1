package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, organization_id, selected_date, selected_time, status,
	customer_name, customer_phone, service_name, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	var status string
	var name, phone, service, notes sql.NullString
	err := row.Scan(
		&b.ID, &b.OrganizationID, &b.SelectedDate, &b.SelectedTime, &status,
		&name, &phone, &service, &notes, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return b, err
	}
	b.Status = models.BookingStatus(status)
	b.CustomerName = name.String
	b.CustomerPhone = phone.String
	b.ServiceName = service.String
	b.Notes = notes.String
	return b, nil
}

// ListBookings returns every booking of the organization between two dates,
// inclusive, cancelled ones included. Rows failing validation are skipped.
func (db *DB) ListBookings(ctx context.Context, organizationID, startDate, endDate string) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE organization_id = ? AND selected_date BETWEEN ? AND ?
		ORDER BY selected_date, selected_time`,
		organizationID, startDate, endDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		if err := b.Validate(); err != nil {
			db.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("skip invalid booking row")
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountActiveBookings counts non-cancelled bookings at one slot.
func (db *DB) CountActiveBookings(ctx context.Context, organizationID, date, clock string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE organization_id = ? AND selected_date = ? AND selected_time = ?
		  AND status != 'cancelled'`,
		organizationID, date, clock,
	).Scan(&count)
	return count, err
}

// CreateBooking inserts b unless its slot already holds capacity active
// bookings (models.ErrSlotTaken) or is covered by a schedule block
// (models.ErrSlotBlocked). The checks and the insert share one write
// transaction.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking, capacity int) error {
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
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if b.Status.Occupies() {
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE organization_id = ? AND selected_date = ? AND selected_time = ?
			  AND status != 'cancelled'`,
			b.OrganizationID, b.SelectedDate, b.SelectedTime,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count slot bookings: %w", err)
		}
		if count >= capacity {
			return models.ErrSlotTaken
		}

		var blocked int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM schedule_blocks
			WHERE organization_id = ? AND date = ?
			  AND (time IS NULL OR time = '' OR time = ?)`,
			b.OrganizationID, b.SelectedDate, b.SelectedTime,
		).Scan(&blocked)
		if err != nil {
			return fmt.Errorf("check slot blocks: %w", err)
		}
		if blocked > 0 {
			return models.ErrSlotBlocked
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrganizationID, b.SelectedDate, b.SelectedTime, string(b.Status),
		nullString(b.CustomerName), nullString(b.CustomerPhone), nullString(b.ServiceName), nullString(b.Notes),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}

	db.publish(ctx, events.TableBookings, events.Insert, b.OrganizationID, b.ID)
	return nil
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking along its lifecycle. Cancellation is
// a status change; rows are never deleted.
func (db *DB) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := scanBooking(tx.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, b.Status, status)
	}

	b.Status = status
	b.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?",
		string(status), b.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status: %w", err)
	}

	db.publish(ctx, events.TableBookings, events.Update, b.OrganizationID, b.ID)
	return &b, nil
}
