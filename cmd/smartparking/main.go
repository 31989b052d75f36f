// Smart Parking Server - realtime parking occupancy pipeline
//
// This is the main entry point for the smart parking server. It serves:
//   - REST API for accounts, parking spaces and durable subscriptions
//   - Authenticated websocket sessions that receive parking_space.updated events
//   - Sensor ingestion over the HTTP webhook and, when enabled, MQTT
//
// Optional backing services (Redis token blacklist, InfluxDB telemetry,
// AMQP event feed) are wired in when enabled in config.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/api"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/amqp"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/influxdb"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/mqtt"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/ingest"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
	"github.com/fortune-cook1e/iot-smart-parking-system/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	log := logging.Default()
	log.Info("starting smart parking server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	m := metrics.New()
	checks := map[string]api.HealthChecker{"database": db}

	// Token blacklist: Redis when shared, memory otherwise
	blacklist, closeBlacklist, err := openBlacklist(ctx, cfg.Redis, checks)
	if err != nil {
		return err
	}
	defer closeBlacklist()

	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.Secret,
		RefreshSecret: cfg.Security.JWT.SigningRefreshSecret(),
		AccessTTL:     cfg.Security.JWT.AccessTTL(),
		RefreshTTL:    cfg.Security.JWT.RefreshTTL(),
		Issuer:        "smartparking",
	}, blacklist)
	users := auth.NewUserRepository(db.DB)
	authSvc := auth.NewService(users, tokens, log.Logger)
	authSvc.SetFailureHook(func(code result.Code) {
		m.AuthFailures.WithLabelValues(string(code)).Inc()
	})

	spaces := parking.NewRepository(db)
	subs := parking.NewSubscriptionRepository(db)

	if cfg.Seed.Enabled {
		if err := seed(ctx, users, spaces, log); err != nil {
			return err
		}
	}

	registry := realtime.NewRegistry(realtime.RegistryConfig{
		Verifier:      tokens,
		Lister:        subs,
		AutoSubscribe: cfg.WebSocket.AutoSubscribe,
		Logger:        log,
		Metrics:       m,
	})
	notifier := realtime.NewNotifier(registry, log, m)

	ingestCfg := ingest.Config{
		Store:     spaces,
		Publisher: notifier,
		Logger:    log,
		Metrics:   m,
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		history, openErr := influxdb.Open(cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		if openErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", openErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := history.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		ingestCfg.Telemetry = history
		checks["influxdb"] = history
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event feed (optional)
	if cfg.AMQP.Enabled {
		feed, feedErr := amqp.NewPublisher(cfg.AMQP)
		if feedErr != nil {
			return fmt.Errorf("creating AMQP publisher: %w", feedErr)
		}
		defer feed.Close() //nolint:errcheck // Shutdown path
		ingestCfg.Feed = feed
		log.Info("AMQP event feed enabled", "queue", feed.Queue())
	} else {
		log.Info("AMQP event feed disabled")
	}

	// Connect to MQTT broker (optional). The client doubles as the
	// retained space status mirror, so it is wired before the handler.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var connErr error
		mqttClient, connErr = mqtt.Dial(cfg.MQTT, mqtt.Hooks{
			Logger:    log,
			OnOnline:  func() { log.Info("MQTT online") },
			OnOffline: func(err error) { log.Warn("MQTT disconnected", "error", err) },
		})
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		ingestCfg.Mirror = mqttClient
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, sensors report over the webhook only")
	}

	handler := ingest.NewHandler(ingestCfg)

	if mqttClient != nil {
		//nolint:gosec // QoS is validated to 0-2 by config.Validate
		source := ingest.NewMQTTSource(handler, mqttClient, cfg.MQTT.SensorTopic, byte(cfg.MQTT.QoS))
		if err := source.Start(); err != nil {
			return fmt.Errorf("starting MQTT ingestion: %w", err)
		}
		defer source.Stop()
	}

	srv, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log,
		Auth:          authSvc,
		Spaces:        spaces,
		Subscriptions: subs,
		Realtime:      registry,
		Ingest:        handler,
		Metrics:       m,
		Checks:        checks,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API server (sessions
	// first), MQTT, AMQP, InfluxDB, blacklist, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SMARTPARKING_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// redisHealth adapts a Redis client to api.HealthChecker.
type redisHealth struct {
	client *redis.Client
}

func (r redisHealth) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// openBlacklist returns the configured token blacklist and its cleanup.
// A Redis blacklist is registered in checks.
//
// Returns:
//   - auth.Blacklist: Shared Redis store when enabled, process memory otherwise
//   - func(): Releases the connection
//   - error: If Redis is enabled but unreachable
func openBlacklist(ctx context.Context, cfg config.RedisConfig, checks map[string]api.HealthChecker) (auth.Blacklist, func(), error) {
	if !cfg.Enabled {
		return auth.NewMemoryBlacklist(nil), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	checks["redis"] = redisHealth{client: client}
	return auth.NewRedisBlacklist(client, cfg.KeyPrefix), func() {
		client.Close() //nolint:errcheck // Shutdown path
	}, nil
}

// seed creates demo accounts and spaces on an empty database.
func seed(ctx context.Context, users auth.UserRepository, spaces parking.Repository, log *logging.Logger) error {
	created, err := auth.SeedUsers(ctx, users, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding users: %w", err)
	}
	if len(created) > 0 {
		log.Info("seeded demo accounts", "count", len(created))
	}

	n, err := parking.SeedSpaces(ctx, spaces, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding parking spaces: %w", err)
	}
	if n > 0 {
		log.Info("seeded demo parking spaces", "count", n)
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
