package config

import (
	"context"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// UpdateFunc receives a reloaded organizations config and the ids of the
// organizations whose settings differ from the previous one.
type UpdateFunc func(cfg *OrganizationsConfig, changed []string)

// WatchOrganizations loads organizations.yaml, reports every organization as
// changed, then polls the file. Reloads that leave every organization as it
// was are not reported; an invalid file keeps the last good config.
func WatchOrganizations(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate UpdateFunc) error {
	if path == "" {
		path = "configs/organizations.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	current, err := LoadOrganizations(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(current, ChangedOrganizations(nil, current))
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				next, err := LoadOrganizations(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("organizations config reload failed, keeping previous")
					continue
				}
				changed := ChangedOrganizations(current, next)
				current = next
				if len(changed) == 0 {
					logger.Debug().Str("path", path).Msg("organizations config touched without changes")
					continue
				}
				logger.Info().Str("path", path).Strs("organizations", changed).Msg("organizations config reloaded")
				if onUpdate != nil {
					onUpdate(next, changed)
				}
			}
		}
	}()

	return nil
}

// ChangedOrganizations lists, sorted, the ids added, removed or modified
// between prev and next. A change to the global holidays touches every
// organization.
func ChangedOrganizations(prev, next *OrganizationsConfig) []string {
	if prev == nil {
		prev = &OrganizationsConfig{}
	}
	if next == nil {
		next = &OrganizationsConfig{}
	}
	globalChanged := !reflect.DeepEqual(prev.Holidays, next.Holidays)

	seen := make(map[string]bool)
	var out []string
	for _, org := range next.Organizations {
		seen[org.ID] = true
		old, ok := prev.Find(org.ID)
		if !ok || globalChanged || !reflect.DeepEqual(old, org) {
			out = append(out, org.ID)
		}
	}
	for _, org := range prev.Organizations {
		if !seen[org.ID] {
			out = append(out, org.ID)
		}
	}
	sort.Strings(out)
	return out
}
