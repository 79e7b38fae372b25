// AP Gateway - WebSocket gateway for wireless access points
//
// This is the main entry point for the gateway. It terminates the device
// WebSocket connections, tracks live sessions, schedules durable commands,
// and exposes the operator REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ridgelink/apgw-core/migrations"

	"github.com/ridgelink/apgw-core/internal/api"
	"github.com/ridgelink/apgw-core/internal/command"
	"github.com/ridgelink/apgw-core/internal/infrastructure/config"
	"github.com/ridgelink/apgw-core/internal/infrastructure/database"
	"github.com/ridgelink/apgw-core/internal/infrastructure/influxdb"
	"github.com/ridgelink/apgw-core/internal/infrastructure/logging"
	"github.com/ridgelink/apgw-core/internal/infrastructure/mqtt"
	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/metrics"
	"github.com/ridgelink/apgw-core/internal/notify"
	"github.com/ridgelink/apgw-core/internal/session"
	"github.com/ridgelink/apgw-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel the root context on interrupt signals for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting AP Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	metrics.Init()

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Durable stores
	deviceRepo := inventory.NewSQLiteRepository(db.DB)
	commandRepo := command.NewSQLiteRepository(db.DB)

	// Live session registry
	registry := session.NewRegistry(session.MismatchPolicy{
		Allow: cfg.Transport.Mismatch.Allow,
		Depth: cfg.Transport.Mismatch.Depth,
	})
	registry.SetLogger(log)

	// Connect to MQTT broker for push notifications (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Operators can request a remote shutdown over the system topic.
		shutdownTopic := mqtt.Topics{}.SystemShutdown()
		if err := mqttClient.Subscribe(shutdownTopic, 1, func(topic string, _ []byte) error {
			log.Warn("shutdown requested over MQTT", "topic", topic)
			cancel()
			return nil
		}); err != nil {
			log.Warn("subscribing to shutdown topic", "error", err)
		}
	} else {
		log.Info("MQTT disabled, notifications suppressed")
	}

	var notifier *notify.Notifier
	if mqttClient != nil {
		notifier = notify.NewNotifier(mqttClient)
	} else {
		notifier = notify.NewNotifier(nil)
	}
	notifier.SetLogger(log)

	// Connect to InfluxDB event-stream sink (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command orchestrator: in-memory correlation of device replies
	orchestrator := command.NewOrchestrator(registry, commandRepo,
		cfg.Command.ResponseTimeoutDuration(),
		cfg.Command.JanitorIntervalDuration(),
	)
	orchestrator.SetLogger(log)
	orchestrator.Start(ctx)
	defer func() {
		log.Info("stopping command orchestrator")
		orchestrator.Stop()
	}()

	// Command scheduler: delivers pending durable commands
	scheduler := command.NewScheduler(commandRepo, orchestrator, registry,
		cfg.Command.SchedulerIntervalDuration(),
		cfg.Command.SchedulerDelayDuration(),
		cfg.Command.BatchSize,
		cfg.Command.MaxAgeDuration(),
		cfg.Command.RetentionDuration(),
	)
	scheduler.SetLogger(log)
	scheduler.SetHistoryPurger(deviceRepo)
	scheduler.Start(ctx)
	defer func() {
		log.Info("stopping command scheduler")
		scheduler.Stop()
	}()

	// Device-facing WebSocket transport
	var sink transport.EventSink
	if influxClient != nil {
		sink = influxClient
	}
	transportServer, err := transport.New(transport.Deps{
		Options:   transportOptions(cfg.Transport),
		Registry:  registry,
		Responder: orchestrator,
		Results:   commandRepo,
		Inventory: deviceRepo,
		Notifier:  notifier,
		Sink:      sink,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating transport server: %w", err)
	}
	if err := transportServer.Start(ctx); err != nil {
		return fmt.Errorf("starting transport server: %w", err)
	}
	defer func() {
		log.Info("stopping transport server")
		if closeErr := transportServer.Close(); closeErr != nil {
			log.Error("error closing transport server", "error", closeErr)
		}
	}()

	// Operator REST API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log,
		Registry: registry,
		Devices:  deviceRepo,
		Commands: commandRepo,
		Tracker:  orchestrator,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Transport server
	// 3. Scheduler, orchestrator
	// 4. InfluxDB, MQTT (if enabled)
	// 5. Database

	log.Info("AP Gateway stopped")
	return nil
}

// transportOptions maps the transport configuration onto listener options.
func transportOptions(cfg config.TransportConfig) transport.Options {
	return transport.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Path:           cfg.Path,
		MaxMessageSize: cfg.MaxMessageSize,
		PingInterval:   secondsToDuration(cfg.PingInterval),
		PongWait:       secondsToDuration(cfg.PongTimeout),
		SessionTimeout: secondsToDuration(cfg.SessionTimeout),
		SweepInterval:  secondsToDuration(cfg.SweepInterval),
		AutoProvision:  cfg.AutoProvision,
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// getConfigPath returns the configuration file path.
// Uses APGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("APGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy. MQTT and
// InfluxDB are optional and skipped when nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
