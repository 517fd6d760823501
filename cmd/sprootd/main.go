// Sproot - Greenhouse Output Controller
//
// This is the main entry point for the Sproot controller daemon. It owns
// every output (PWM channels, smart plugs, subcontroller channels and
// groups), keeps their logical state in sync with hardware, and evaluates
// automation rules on a fixed schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/Ipswich/sproot-sub000/migrations"

	"github.com/Ipswich/sproot-sub000/internal/automation"
	"github.com/Ipswich/sproot-sub000/internal/discovery"
	"github.com/Ipswich/sproot-sub000/internal/hardware/pca9685"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/boltstore"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/config"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/database"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/influxdb"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/logging"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"
	"github.com/Ipswich/sproot-sub000/internal/output"
	"github.com/Ipswich/sproot-sub000/internal/sensor"
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

const (
	// shutdownTimeout bounds driving outputs to their safe state on exit.
	shutdownTimeout = 10 * time.Second

	// pruneInterval is how often old state history is deleted.
	pruneInterval = 6 * time.Hour
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Sproot",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Time conditions and chart buckets use the controller's local time.
	if tz := cfg.Controller.Timezone; tz != "" && tz != "Local" {
		loc, tzErr := time.LoadLocation(tz)
		if tzErr != nil {
			return fmt.Errorf("loading timezone %q: %w", tz, tzErr)
		}
		time.Local = loc
		log.Info("timezone set", "timezone", tz)
	}

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Open last-state snapshot store
	store, err := boltstore.Open(cfg.Snapshot.Path)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer func() {
		log.Info("closing snapshot store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing snapshot store", "error", closeErr)
		}
	}()
	log.Info("snapshot store opened", "path", store.Path())

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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Controller.ID)
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

	qos := mqttClient.QoS()

	// Device directory fed by retained discovery announcements
	dir := discovery.NewDirectory()
	dir.SetLogger(log)
	if subErr := dir.Subscribe(mqttClient, qos); subErr != nil {
		return fmt.Errorf("subscribing to discovery: %w", subErr)
	}

	// Sensor readings for automation conditions
	sensors := sensor.NewProvider(cfg.Sensors.MaxCacheSize)
	sensors.SetLogger(log)
	if influxClient != nil {
		sensors.SetTelemetry(influxClient)
	}
	if subErr := sensors.Subscribe(mqttClient, qos); subErr != nil {
		return fmt.Errorf("subscribing to sensors: %w", subErr)
	}

	// Output engine
	outputRepo := output.NewSQLiteRepository(db.DB)
	settings := output.Settings{
		MaxCacheSize:  cfg.Outputs.MaxCacheSize,
		CacheLookback: cfg.GetCacheLookback(),
		ChartLimit:    cfg.Outputs.MaxChartDataSize,
		ChartInterval: cfg.GetChartInterval(),
	}
	deps := output.Deps{
		Repo:        outputRepo,
		Automations: automation.NewSQLiteRepository(db.DB),
		Snapshots:   output.NewSnapshotStore(store, boltstore.ErrNotFound),
		Publisher:   output.NewMQTTPublisher(mqttClient),
		Logger:      log,
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	policy := output.TransmitPolicy{
		Attempts: cfg.Engine.TransmitAttempts,
		Timeout:  cfg.GetTransmitTimeout(),
	}

	families, closeBus, err := startFamilies(cfg, mqttClient, dir, policy, settings, deps, log)
	if err != nil {
		return err
	}
	defer closeBus()

	registry := output.NewRegistry(settings, deps, families...)
	registry.SetSensors(sensors)
	defer func() {
		log.Info("disposing outputs")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := registry.Close(shutdownCtx); closeErr != nil {
			log.Error("error disposing outputs", "error", closeErr)
		}
	}()

	if recErr := registry.Reconcile(ctx); recErr != nil {
		return fmt.Errorf("loading outputs: %w", recErr)
	}
	log.Info("output registry initialised", "outputs", registry.Len())

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.Run(ctx, output.Schedule{
			Tick:       cfg.GetTickInterval(),
			Automation: cfg.GetAutomationInterval(),
			Reconcile:  cfg.GetReconcileInterval(),
		})
	}()

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		go pruneHistory(ctx, outputRepo, retention, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	<-done

	// Deferred calls run in reverse order:
	// 1. Output registry (outputs driven to their safe state)
	// 2. I2C bus (if opened)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Snapshot store
	// 6. Database

	log.Info("Sproot stopped")
	return nil
}

// startFamilies creates the device family managers enabled in cfg.
//
// Returns:
//   - []output.FamilyManager: Enabled families
//   - func(): Releases the I2C bus; safe to call when none was opened
//   - error: If a family fails to start
func startFamilies(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	dir *discovery.Directory,
	policy output.TransmitPolicy,
	settings output.Settings,
	deps output.Deps,
	log *logging.Logger,
) ([]output.FamilyManager, func(), error) {
	var families []output.FamilyManager
	closeBus := func() {}

	if cfg.PCA9685.Enabled {
		bus, err := pca9685.OpenBus(cfg.PCA9685.Bus)
		if err != nil {
			return nil, closeBus, fmt.Errorf("opening I2C bus: %w", err)
		}
		closeBus = func() {
			log.Info("closing I2C bus")
			if closeErr := bus.Close(); closeErr != nil {
				log.Error("error closing I2C bus", "error", closeErr)
			}
		}
		families = append(families, output.NewPCA9685Family(
			output.I2CBoardOpener(bus, cfg.PCA9685.Frequency), settings, deps,
		))
		log.Info("PCA9685 family enabled", "bus", cfg.PCA9685.Bus, "frequency", cfg.PCA9685.Frequency)
	} else {
		log.Info("PCA9685 family disabled")
	}

	if cfg.SmartPlugs.Enabled {
		plugs := output.NewSmartPlugFamily(mqttClient, dir, policy, settings, deps)
		if err := plugs.Start(); err != nil {
			closeBus()
			return nil, func() {}, fmt.Errorf("starting smart plug family: %w", err)
		}
		families = append(families, plugs)
		log.Info("smart plug family enabled")
	} else {
		log.Info("smart plug family disabled")
	}

	if cfg.Subcontrollers.Enabled {
		subs := output.NewSubcontrollerFamily(dir, &http.Client{}, cfg.Subcontrollers.Scheme, cfg.Subcontrollers.Port, policy, settings, deps)
		if err := subs.Start(); err != nil {
			closeBus()
			return nil, func() {}, fmt.Errorf("starting subcontroller family: %w", err)
		}
		families = append(families, subs)
		log.Info("subcontroller family enabled", "scheme", cfg.Subcontrollers.Scheme, "port", cfg.Subcontrollers.Port)
	} else {
		log.Info("subcontroller family disabled")
	}

	if len(families) == 0 {
		log.Warn("no device families enabled; only groups can be driven")
	}
	return families, closeBus, nil
}

// pruneHistory deletes state history older than retention until ctx is
// cancelled.
func pruneHistory(ctx context.Context, repo *output.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneStates(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Error("pruning state history", "error", err)
		case n > 0:
			log.Info("pruned state history", "rows", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SPROOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SPROOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
