package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homebooking/internal/api"
	"homebooking/internal/availability"
	"homebooking/internal/cache"
	"homebooking/internal/config"
	"homebooking/internal/database"
	"homebooking/internal/events"
	"homebooking/internal/metrics"
	"homebooking/internal/remote"
	"homebooking/internal/supabase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// backend is the storage selected by database.driver.
type backend struct {
	store  api.Store
	writer config.OrganizationWriter
	source availability.Source
	count  availability.Counter
	db     *database.DB
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("HOMEBOOKING_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Monitoring.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	feed, publisher, closeFeed := startFeed(ctx, cfg, rdb, &logger)
	defer closeFeed()

	be, err := openBackend(cfg, publisher, rdb, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open storage")
	}
	if be.db != nil {
		defer be.db.Close()
		if cfg.Backup.Enabled {
			backups := database.NewBackupService(be.db, database.BackupOptions{
				Enabled:       true,
				Dir:           cfg.Backup.Path,
				Interval:      cfg.BackupInterval(),
				RetentionDays: cfg.Backup.RetentionDays,
			}, &logger)
			go backups.Start(ctx)
		}
	}

	registry := config.NewRegistry()

	var reserver availability.Reserver
	if be.store != nil {
		reserver = be.store
	}
	sessions := availability.NewManager(ctx, func(orgID string) availability.Config {
		c := availability.Config{
			Source:   be.source,
			Counter:  be.count,
			Reserver: reserver,
			Capacity: cfg.Scheduling.Capacity,
			CapacityFunc: func() int {
				return registry.Capacity(orgID, cfg.Scheduling.Capacity)
			},
			SlotStep: cfg.SlotStep(),
			Location: cfg.Location(),
		}
		if rdb != nil {
			c.Cache = cache.NewRedis[availability.WeekEntry](rdb, "availability:"+orgID+":", cfg.CacheTTL(), &logger)
		}
		return c
	}, feed, &logger)
	defer sessions.Close()

	err = config.WatchOrganizations(ctx, cfg.OrganizationsPath, 0, &logger, func(orgs *config.OrganizationsConfig, changed []string) {
		registry.Set(orgs)
		if be.writer != nil {
			if err := config.Sync(ctx, be.writer, orgs, &logger); err != nil {
				logger.Error().Err(err).Msg("sync organizations")
			}
		}
		for _, id := range changed {
			sessions.Invalidate(id)
		}
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.OrganizationsPath).Msg("organizations config not loaded, using defaults")
	}

	server := api.NewHTTPServer(cfg.Server.Address, api.Deps{
		Store:     be.store,
		Source:    be.source,
		Sessions:  sessions,
		Publisher: publisher,
	}, api.Options{
		APIKey:              cfg.API.APIKey,
		WebhookSecret:       cfg.API.WebhookSecret,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		RateLimitRPS:        cfg.API.RateLimitRPS,
		RateLimitBurst:      cfg.API.RateLimitBurst,
		ReadTimeout:         cfg.ReadTimeout(),
		WriteTimeout:        cfg.WriteTimeout(),
	}, &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, be.db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("http server shutdown")
		}
	}()

	logger.Info().
		Str("address", cfg.Server.Address).
		Str("driver", cfg.Database.Driver).
		Str("transport", cfg.Realtime.Transport).
		Msg("availability service started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
}

// startFeed wires the change event transport. Subscribers always listen on
// the returned feed; publisher is where storage and webhooks announce changes.
func startFeed(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zerolog.Logger) (events.Feed, events.Publisher, func()) {
	switch cfg.Realtime.Transport {
	case config.TransportRedis:
		if rdb == nil {
			logger.Fatal().Msg("redis transport requires redis.address")
		}
		rf := events.NewRedisFeed(rdb, cfg.Redis.ChannelPrefix, logger)
		if err := rf.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("start redis change feed")
		}
		return rf, rf, func() {}
	case config.TransportKafka:
		// Every instance must see every change, so each joins its own group.
		host, _ := os.Hostname()
		kcfg := events.KafkaConfig{Brokers: cfg.Kafka.Brokers, GroupID: cfg.Kafka.GroupID + "-" + host, Topic: cfg.Kafka.Topic}
		kf := events.NewKafkaFeed(kcfg, logger)
		go kf.Run(ctx)
		kp := events.NewKafkaPublisher(kcfg)
		return kf, kp, func() {
			if err := kp.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka publisher")
			}
		}
	default:
		bus := events.NewBus()
		return bus, bus, func() {}
	}
}

func openBackend(cfg *config.Config, publisher events.Publisher, rdb *redis.Client, logger *zerolog.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case config.DriverSupabase:
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, err
		}
		// Row changes reach the feed through the database webhook.
		store := supabase.NewStore(client, nil, logger)
		return &backend{store: store, writer: store, source: availability.NewAggregator(store), count: store}, nil
	case config.DriverRemote:
		client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Bearer)
		if rdb != nil && cfg.RemoteCacheTTL() > 0 {
			client.UseRedisCache(rdb, cfg.RemoteCacheTTL())
		}
		return &backend{source: client, count: client}, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, publisher, logger)
		if err != nil {
			return nil, err
		}
		return &backend{store: db, writer: db, source: availability.NewAggregator(db), count: db, db: db}, nil
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctxPing); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
