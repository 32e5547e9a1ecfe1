package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"homebooking/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// HolidayConfig is a date on which an organization does not take bookings.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// OrganizationConfig seeds one organization.
type OrganizationConfig struct {
	ID            string                     `yaml:"id"`
	Name          string                     `yaml:"name"`
	Capacity      int                        `yaml:"capacity"`
	BusinessHours map[string]models.DayHours `yaml:"business_hours,omitempty"`
	Holidays      []HolidayConfig            `yaml:"holidays,omitempty"`
}

// OrganizationsConfig is the root of organizations.yaml. Holidays listed at
// the root apply to every organization.
type OrganizationsConfig struct {
	Organizations []OrganizationConfig `yaml:"organizations"`
	Holidays      []HolidayConfig      `yaml:"holidays"`
}

// LoadOrganizations loads and validates organizations.yaml.
func LoadOrganizations(path string) (*OrganizationsConfig, error) {
	if path == "" {
		path = "configs/organizations.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organizations config: %w", err)
	}

	var cfg OrganizationsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse organizations config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate organizations config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *OrganizationsConfig) Validate() error {
	ids := make(map[string]bool)
	for i, org := range c.Organizations {
		if org.ID == "" {
			return fmt.Errorf("organization[%d]: id is required", i)
		}
		if ids[org.ID] {
			return fmt.Errorf("organization[%d]: duplicate id '%s'", i, org.ID)
		}
		ids[org.ID] = true

		if org.Capacity < 0 {
			return fmt.Errorf("organization[%d]: capacity cannot be negative", i)
		}
		hours, err := org.Hours()
		if err != nil {
			return fmt.Errorf("organization[%d].business_hours: %w", i, err)
		}
		if err := hours.Validate(); err != nil {
			return fmt.Errorf("organization[%d].business_hours: %w", i, err)
		}
		if err := validateHolidays(org.Holidays, fmt.Sprintf("organization[%d].holidays", i)); err != nil {
			return err
		}
	}
	return validateHolidays(c.Holidays, "holidays")
}

func validateHolidays(holidays []HolidayConfig, prefix string) error {
	for i, h := range holidays {
		if h.Date == "" {
			return fmt.Errorf("%s[%d]: date is required", prefix, i)
		}
		if _, err := time.Parse(models.DateLayout, h.Date); err != nil {
			return fmt.Errorf("%s[%d]: invalid date format '%s', expected YYYY-MM-DD", prefix, i, h.Date)
		}
	}
	return nil
}

// Hours converts the configured schedule; nil when none is configured.
func (o OrganizationConfig) Hours() (models.BusinessHours, error) {
	return models.FromNames(o.BusinessHours)
}

// Find returns the organization with id.
func (c *OrganizationsConfig) Find(id string) (OrganizationConfig, bool) {
	for _, org := range c.Organizations {
		if org.ID == id {
			return org, true
		}
	}
	return OrganizationConfig{}, false
}

// OrganizationWriter persists seeded organization data.
type OrganizationWriter interface {
	EnsureOrganization(ctx context.Context, id, name string) error
	SaveBusinessHours(ctx context.Context, organizationID string, hours models.BusinessHours) error
	EnsureHoliday(ctx context.Context, organizationID, date, title string) error
}

// Sync writes every configured organization, its hours and its holidays.
// Organizations without configured hours keep whatever is stored.
func Sync(ctx context.Context, w OrganizationWriter, cfg *OrganizationsConfig, logger *zerolog.Logger) error {
	for _, org := range cfg.Organizations {
		if err := w.EnsureOrganization(ctx, org.ID, org.Name); err != nil {
			return fmt.Errorf("organization %s: %w", org.ID, err)
		}

		hours, err := org.Hours()
		if err != nil {
			return fmt.Errorf("organization %s: %w", org.ID, err)
		}
		if hours.IsSet() {
			if err := w.SaveBusinessHours(ctx, org.ID, hours); err != nil {
				return fmt.Errorf("organization %s hours: %w", org.ID, err)
			}
		}

		holidays := append(append([]HolidayConfig(nil), cfg.Holidays...), org.Holidays...)
		for _, h := range holidays {
			if err := w.EnsureHoliday(ctx, org.ID, h.Date, h.Name); err != nil {
				return fmt.Errorf("organization %s holiday %s: %w", org.ID, h.Date, err)
			}
		}
		logger.Info().Str("organization_id", org.ID).Int("holidays", len(holidays)).Msg("organization synced")
	}
	return nil
}

// Registry holds the latest organizations config for concurrent readers.
type Registry struct {
	mu  sync.RWMutex
	cfg *OrganizationsConfig
}

func NewRegistry() *Registry {
	return &Registry{cfg: &OrganizationsConfig{}}
}

// Set replaces the current config.
func (r *Registry) Set(cfg *OrganizationsConfig) {
	if cfg == nil {
		cfg = &OrganizationsConfig{}
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Capacity returns the organization's slot capacity, or fallback when unset.
func (r *Registry) Capacity(organizationID string, fallback int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if org, ok := r.cfg.Find(organizationID); ok && org.Capacity > 0 {
		return org.Capacity
	}
	return fallback
}

// IDs lists the configured organization ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cfg.Organizations))
	for _, org := range r.cfg.Organizations {
		ids = append(ids, org.ID)
	}
	return ids
}
