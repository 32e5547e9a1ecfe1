package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/models"
)

// EnsureOrganization creates the organization or updates its name.
func (db *DB) EnsureOrganization(ctx context.Context, id, name string) error {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		id, name, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure organization: %w", err)
	}
	return nil
}

// GetBusinessHours returns the organization's hours; nil when unset.
func (db *DB) GetBusinessHours(ctx context.Context, organizationID string) (models.BusinessHours, error) {
	var raw sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT business_hours FROM organizations WHERE id = ?",
		organizationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", organizationID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var hours models.BusinessHours
	if err := json.Unmarshal([]byte(raw.String), &hours); err != nil {
		// Unreadable hours resolve like unset ones.
		db.logger.Warn().Err(err).Str("organization_id", organizationID).Msg("malformed business hours")
		return nil, nil
	}
	return hours, nil
}

// SaveBusinessHours validates and stores the weekly schedule.
func (db *DB) SaveBusinessHours(ctx context.Context, organizationID string, hours models.BusinessHours) error {
	if err := hours.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(hours)
	if err != nil {
		return fmt.Errorf("marshal business hours: %w", err)
	}

	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO organizations (id, business_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_hours = excluded.business_hours,
			updated_at = excluded.updated_at`,
		organizationID, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("save business hours: %w", err)
	}

	db.publish(ctx, events.TableOrganizations, events.Update, organizationID, organizationID)
	return nil
}
