package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
	DriverRemote   = "remote"
)

// Change event transports.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportKafka  = "kafka"
)

type Config struct {
	Server struct {
		Address             string `yaml:"address"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"database"`

	Supabase struct {
		URL        string `yaml:"url"`
		ServiceKey string `yaml:"service_key"`
	} `yaml:"supabase"`

	Remote struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		Bearer          string `yaml:"bearer"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"remote"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		ChannelPrefix   string `yaml:"channel_prefix"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers string `yaml:"brokers"`
		Topic   string `yaml:"topic"`
		GroupID string `yaml:"group_id"`
	} `yaml:"kafka"`

	Realtime struct {
		Transport string `yaml:"transport"`
	} `yaml:"realtime"`

	Scheduling struct {
		SlotMinutes int    `yaml:"slot_minutes"`
		Capacity    int    `yaml:"capacity"`
		Timezone    string `yaml:"timezone"`
	} `yaml:"scheduling"`

	Stripe struct {
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"stripe"`

	API struct {
		APIKey         string  `yaml:"api_key"`
		WebhookSecret  string  `yaml:"webhook_secret"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"api"`

	Monitoring struct {
		LogLevel          string `yaml:"log_level"`
		HealthCheckPort   int    `yaml:"health_check_port"`
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusPort    int    `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	OrganizationsPath string `yaml:"organizations_path"`
}

// Load reads the YAML config at path. Variables from a .env file in the
// working directory are loaded first so ${VAR} placeholders can use them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == DriverSQLite {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/homebooking.db"
	}
	if c.Realtime.Transport == "" {
		c.Realtime.Transport = TransportMemory
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "homebooking:changes:"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "homebooking.changes"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "homebooking-availability"
	}
	if c.Scheduling.Capacity <= 0 {
		c.Scheduling.Capacity = 1
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.OrganizationsPath == "" {
		c.OrganizationsPath = "configs/organizations.yaml"
	}
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("supabase.url and supabase.service_key are required for the supabase driver")
		}
	case DriverRemote:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required for the remote driver")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}

	switch c.Realtime.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis transport")
		}
	case TransportKafka:
		if strings.TrimSpace(c.Kafka.Brokers) == "" {
			return fmt.Errorf("kafka.brokers is required for the kafka transport")
		}
	default:
		return fmt.Errorf("realtime.transport: unknown transport %q", c.Realtime.Transport)
	}

	if c.Scheduling.SlotMinutes < 0 || (c.Scheduling.SlotMinutes > 0 && 24*60%c.Scheduling.SlotMinutes != 0) {
		return fmt.Errorf("scheduling.slot_minutes must divide a day, got %d", c.Scheduling.SlotMinutes)
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("scheduling.timezone: %w", err)
	}
	return nil
}

// SlotStep is the slot length; zero selects the generator default.
func (c *Config) SlotStep() time.Duration {
	return time.Duration(c.Scheduling.SlotMinutes) * time.Minute
}

// Location is the timezone dates are interpreted in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RedisEnabled reports whether a Redis server is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Address != ""
}

// CacheTTL is the lifetime of week entries in the shared Redis cache.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

// RemoteCacheTTL is zero when remote range responses are not cached.
func (c *Config) RemoteCacheTTL() time.Duration {
	return time.Duration(c.Remote.CacheTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}
