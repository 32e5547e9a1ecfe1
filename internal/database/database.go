package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"homebooking/internal/events"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQLite store of organizations, bookings and schedule blocks.
// Every committed mutation is announced through the publisher.
type DB struct {
	*sql.DB
	path      string
	publisher events.Publisher
	logger    *zerolog.Logger
}

// NewDB opens the database at path and runs migrations. Transactions start
// IMMEDIATE so concurrent booking writers serialize on the write lock.
func NewDB(path string, publisher events.Publisher, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, path: path, publisher: publisher, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			business_hours TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			selected_date TEXT NOT NULL,
			selected_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			customer_name TEXT,
			customer_phone TEXT,
			service_name TEXT,
			notes TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS schedule_blocks (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT,
			type TEXT NOT NULL DEFAULT 'manual',
			title TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_org_slot ON bookings(organization_id, selected_date, selected_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_org_date ON schedule_blocks(organization_id, date)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// publish announces a committed change. Delivery failures are logged; the
// mutation itself already succeeded.
func (db *DB) publish(ctx context.Context, table string, typ events.ChangeType, orgID, recordID string) {
	if db.publisher == nil {
		return
	}
	err := db.publisher.Publish(ctx, events.ChangeEvent{
		Table:          table,
		Type:           typ,
		OrganizationID: orgID,
		RecordID:       recordID,
	})
	if err != nil {
		db.logger.Error().Err(err).Str("table", table).Str("organization_id", orgID).Msg("publish change event")
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
