// Chimera Core - Laboratory Instrument Telemetry Service
//
// This is the main entry point for the Chimera Core daemon. It catalogues
// networked gas-sensor instruments, subscribes to their push event
// channels over MQTT, derives live calibration and operation state, and
// serves it to consumers over a REST + WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/chimeralabs/chimera-core/migrations"

	"github.com/chimeralabs/chimera-core/internal/api"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/config"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/database"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/logging"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/mqtt"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/tsdb"
	"github.com/chimeralabs/chimera-core/internal/instrument"
	"github.com/chimeralabs/chimera-core/internal/telemetry"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Chimera Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise the instrument catalogue
	repo := instrument.NewSQLiteRepository(db.DB)
	registry := instrument.NewRegistry(repo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading instrument catalogue: %w", refreshErr)
	}
	log.Info("instrument catalogue initialised", "instruments", registry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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

	// Connect the telemetry history sink (optional)
	var tsdbClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		tsdbClient, err = tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		tsdbClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the telemetry derivation subsystem
	manager := buildTelemetry(cfg, registry, mqttClient, tsdbClient, log)
	defer func() {
		log.Info("shutting down telemetry manager")
		manager.Shutdown()
	}()

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Instruments: registry,
		Telemetry:   manager,
		MQTT:        mqttClient,
		DB:          db,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Telemetry manager (closes push channels)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Chimera Core stopped")
	return nil
}

// buildTelemetry wires the timing cache, trackers and manager from
// configuration.
func buildTelemetry(cfg *config.Config, registry *instrument.Registry, mqttClient *mqtt.Client, tsdbClient *tsdb.Client, log *logging.Logger) *telemetry.Manager {
	instClient := instrument.NewClient(time.Duration(cfg.Telemetry.InstrumentTimeout) * time.Second)

	timing := telemetry.NewTimingConfigCache(instClient, telemetry.TimingDefaults{
		Flush:       time.Duration(cfg.Telemetry.DefaultFlushMs) * time.Millisecond,
		ChannelOpen: time.Duration(cfg.Telemetry.DefaultChannelOpenMs) * time.Millisecond,
	})
	timing.SetLogger(log)

	calibration := telemetry.NewCalibrationTracker(
		time.Duration(cfg.Telemetry.WatchdogGraceMs)*time.Millisecond,
		time.Duration(cfg.Telemetry.CompletedLingerMs)*time.Millisecond,
	)
	calibration.SetLogger(log)

	status := telemetry.NewStatusTracker(timing, time.Duration(cfg.Telemetry.StatusGraceMs)*time.Millisecond)
	status.SetLogger(log)

	managerCfg := telemetry.ManagerConfig{
		Transport:   &eventTransport{client: mqttClient},
		Instruments: registry,
		Sensors:     instClient,
		Timing:      timing,
		Calibration: calibration,
		Status:      status,
		Logger:      log,
	}
	if tsdbClient != nil {
		managerCfg.History = tsdbClient
	}

	return telemetry.NewManager(managerCfg)
}

// getConfigPath returns the configuration file path.
// Uses CHIMERA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CHIMERA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, tsdbClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// eventTransport adapts the infrastructure MQTT client to the telemetry
// manager's Transport interface. The concrete *mqtt.EventChannel return
// type does not match the PushChannel interface directly.
type eventTransport struct {
	client *mqtt.Client
}

// OpenEventChannel implements telemetry.Transport.
func (t *eventTransport) OpenEventChannel(serial string, handler func(event string, payload []byte)) (telemetry.PushChannel, error) {
	return t.client.OpenEventChannel(serial, handler)
}
