package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BackupOptions controls the periodic snapshot loop.
type BackupOptions struct {
	Enabled       bool
	Dir           string
	Interval      time.Duration
	RetentionDays int
}

// BackupService snapshots the database on an interval and prunes old copies.
type BackupService struct {
	db     *DB
	opts   BackupOptions
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, opts BackupOptions, logger *zerolog.Logger) *BackupService {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	return &BackupService{db: db, opts: opts, logger: logger, now: time.Now}
}

// Start blocks until ctx is done, taking one snapshot right away.
func (s *BackupService) Start(ctx context.Context) {
	if !s.opts.Enabled {
		s.logger.Info().Msg("backup service disabled")
		return
	}
	s.logger.Info().Dur("interval", s.opts.Interval).Str("dir", s.opts.Dir).Msg("backup service started")

	if _, err := s.Backup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial backup failed")
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			s.Cleanup()
		}
	}
}

// Backup writes a consistent copy of the live database with VACUUM INTO,
// which is safe while WAL writers are active.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	name := fmt.Sprintf("backup_%s.db", s.now().Format("20060102_150405"))
	path := filepath.Join(s.opts.Dir, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	s.logger.Info().Str("path", path).Msg("database backup written")
	return path, nil
}

// Cleanup removes backups older than the retention window and returns how
// many were deleted.
func (s *BackupService) Cleanup() int {
	if s.opts.RetentionDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("read backup directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.Dir, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("delete old backup")
			continue
		}
		removed++
	}
	return removed
}
