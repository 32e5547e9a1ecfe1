package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/models"

	"github.com/google/uuid"
)

// ListBlocks returns the organization's blocks between two dates, inclusive.
func (db *DB) ListBlocks(ctx context.Context, organizationID, startDate, endDate string) ([]models.ScheduleBlock, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, organization_id, date, time, type, title, created_at
		FROM schedule_blocks
		WHERE organization_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, time`,
		organizationID, startDate, endDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduleBlock
	for rows.Next() {
		var b models.ScheduleBlock
		var clock, title sql.NullString
		var typ string
		if err := rows.Scan(&b.ID, &b.OrganizationID, &b.Date, &clock, &typ, &title, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Time = clock.String
		b.Type = models.BlockType(typ)
		b.Title = title.String
		if err := b.Validate(); err != nil {
			db.logger.Warn().Err(err).Str("block_id", b.ID).Msg("skip invalid block row")
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBlocks inserts several blocks at once, e.g. a drag selection over
// a range of slots. Either all are stored or none.
func (db *DB) CreateBlocks(ctx context.Context, organizationID string, blocks []models.ScheduleBlock) ([]models.ScheduleBlock, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	now := time.Now()
	out := make([]models.ScheduleBlock, len(blocks))
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
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin blocks tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedule_blocks (id, organization_id, date, time, type, title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare block insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range out {
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.OrganizationID, b.Date, nullString(b.Time), string(b.Type), nullString(b.Title), b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert block: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit blocks: %w", err)
	}

	for _, b := range out {
		db.publish(ctx, events.TableScheduleBlocks, events.Insert, organizationID, b.ID)
	}
	return out, nil
}

// DeleteBlock removes one of the organization's blocks.
func (db *DB) DeleteBlock(ctx context.Context, organizationID, id string) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM schedule_blocks WHERE organization_id = ? AND id = ?",
		organizationID, id,
	)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("block %s: %w", id, models.ErrNotFound)
	}

	db.publish(ctx, events.TableScheduleBlocks, events.Delete, organizationID, id)
	return nil
}

// EnsureHoliday adds a whole-day holiday block unless the date already has one.
func (db *DB) EnsureHoliday(ctx context.Context, organizationID, date, title string) error {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM schedule_blocks
		WHERE organization_id = ? AND date = ? AND time IS NULL`,
		organizationID, date,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check holiday: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.CreateBlocks(ctx, organizationID, []models.ScheduleBlock{{
		Date:  date,
		Type:  models.BlockHoliday,
		Title: title,
	}})
	return err
}
