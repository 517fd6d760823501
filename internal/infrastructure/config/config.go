package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Sproot controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller     ControllerConfig     `yaml:"controller"`
	Database       DatabaseConfig       `yaml:"database"`
	MQTT           MQTTConfig           `yaml:"mqtt"`
	InfluxDB       InfluxDBConfig       `yaml:"influxdb"`
	Logging        LoggingConfig        `yaml:"logging"`
	Outputs        OutputsConfig        `yaml:"outputs"`
	Engine         EngineConfig         `yaml:"engine"`
	PCA9685        PCA9685Config        `yaml:"pca9685"`
	SmartPlugs     SmartPlugsConfig     `yaml:"smart_plugs"`
	Subcontrollers SubcontrollersConfig `yaml:"subcontrollers"`
	Sensors        SensorsConfig        `yaml:"sensors"`
	Snapshot       SnapshotConfig       `yaml:"snapshot"`
}

// ControllerConfig identifies this controller instance.
type ControllerConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// OutputsConfig sizes the per-output history cache and chart series.
type OutputsConfig struct {
	// MaxCacheSize is the number of states kept in each output's history cache.
	MaxCacheSize int `yaml:"max_cache_size"`

	// InitialCacheLookback is how far back (minutes) the cache is seeded from storage.
	InitialCacheLookback int `yaml:"initial_cache_lookback"`

	// MaxChartDataSize is the number of buckets in each chart series.
	MaxChartDataSize int `yaml:"max_chart_data_size"`

	// ChartDataPointInterval is the bucket width in minutes.
	ChartDataPointInterval int `yaml:"chart_data_point_interval"`

	// HistoryRetention is how long (days) state history is kept. 0 keeps it forever.
	HistoryRetention int `yaml:"history_retention"`
}

// EngineConfig controls the background scheduler and hardware transmission.
type EngineConfig struct {
	// TickInterval is how often (seconds) cache, chart and persistence run.
	TickInterval int `yaml:"tick_interval"`

	// AutomationInterval is how often (seconds) automations are evaluated.
	AutomationInterval int `yaml:"automation_interval"`

	// ReconcileInterval is how often (seconds) outputs are reconciled against storage.
	// Zero reconciles only at startup.
	ReconcileInterval int `yaml:"reconcile_interval"`

	// TransmitTimeoutMS bounds a single hardware transmission attempt.
	TransmitTimeoutMS int `yaml:"transmit_timeout_ms"`

	// TransmitAttempts is the number of sequential attempts for network devices.
	TransmitAttempts int `yaml:"transmit_attempts"`
}

// PCA9685Config contains settings for PCA9685 boards on the local I2C bus.
type PCA9685Config struct {
	Enabled bool `yaml:"enabled"`

	// Bus is the I2C bus name passed to the host registry ("" selects the first bus).
	Bus string `yaml:"bus"`

	// Frequency is the PWM frequency in Hz.
	Frequency int `yaml:"frequency"`
}

// SmartPlugsConfig contains settings for MQTT-bridged smart plugs.
type SmartPlugsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SubcontrollersConfig contains settings for remote PWM subcontrollers.
type SubcontrollersConfig struct {
	Enabled bool   `yaml:"enabled"`
	Scheme  string `yaml:"scheme"`
	Port    int    `yaml:"port"`
}

// SensorsConfig contains settings for the sensor reading feed.
type SensorsConfig struct {
	// MaxCacheSize is the number of readings kept per sensor and reading type.
	MaxCacheSize int `yaml:"max_cache_size"`
}

// SnapshotConfig contains the last-state snapshot store location.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SPROOT_SECTION_KEY
// For example: SPROOT_DATABASE_PATH, SPROOT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			ID:       "sproot-001",
			Name:     "Sproot",
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/sproot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sproot-core",
			},
			QoS:         1,
			TopicPrefix: "sproot",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/sproot.log",
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Outputs: OutputsConfig{
			MaxCacheSize:           1440,
			InitialCacheLookback:   1440,
			MaxChartDataSize:       288,
			ChartDataPointInterval: 5,
			HistoryRetention:       30,
		},
		Engine: EngineConfig{
			TickInterval:       60,
			AutomationInterval: 1,
			ReconcileInterval:  300,
			TransmitTimeoutMS:  2000,
			TransmitAttempts:   3,
		},
		PCA9685: PCA9685Config{
			Frequency: 800,
		},
		Subcontrollers: SubcontrollersConfig{
			Scheme: "http",
			Port:   80,
		},
		Sensors: SensorsConfig{
			MaxCacheSize: 1440,
		},
		Snapshot: SnapshotConfig{
			Path: "./data/sproot-state.db",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SPROOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SPROOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SPROOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SPROOT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SPROOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SPROOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SPROOT_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SPROOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SPROOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Hardware
	if v := os.Getenv("SPROOT_PCA9685_BUS"); v != "" {
		cfg.PCA9685.Bus = v
	}

	// Snapshot store
	if v := os.Getenv("SPROOT_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
}

// PCA9685 frequency limits derived from the 25 MHz oscillator and 8-bit prescaler.
const (
	minPCA9685Frequency = 24
	maxPCA9685Frequency = 1526
)

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.ID == "" {
		errs = append(errs, "controller.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if c.Outputs.MaxCacheSize < 1 {
		errs = append(errs, "outputs.max_cache_size must be at least 1")
	}
	if c.Outputs.InitialCacheLookback < 0 {
		errs = append(errs, "outputs.initial_cache_lookback cannot be negative")
	}
	if c.Outputs.MaxChartDataSize < 1 {
		errs = append(errs, "outputs.max_chart_data_size must be at least 1")
	}
	if c.Outputs.ChartDataPointInterval < 1 {
		errs = append(errs, "outputs.chart_data_point_interval must be at least 1 minute")
	}
	if c.Outputs.HistoryRetention < 0 {
		errs = append(errs, "outputs.history_retention cannot be negative")
	}

	if c.Engine.TickInterval < 1 {
		errs = append(errs, "engine.tick_interval must be at least 1 second")
	}
	if c.Engine.AutomationInterval < 1 {
		errs = append(errs, "engine.automation_interval must be at least 1 second")
	}
	if c.Engine.ReconcileInterval < 0 {
		errs = append(errs, "engine.reconcile_interval cannot be negative")
	}
	if c.Engine.TransmitTimeoutMS < 100 || c.Engine.TransmitTimeoutMS > 10000 {
		errs = append(errs, "engine.transmit_timeout_ms must be between 100 and 10000")
	}
	if c.Engine.TransmitAttempts < 1 {
		errs = append(errs, "engine.transmit_attempts must be at least 1")
	}

	if c.PCA9685.Enabled && (c.PCA9685.Frequency < minPCA9685Frequency || c.PCA9685.Frequency > maxPCA9685Frequency) {
		errs = append(errs, fmt.Sprintf("pca9685.frequency must be between %d and %d", minPCA9685Frequency, maxPCA9685Frequency))
	}

	if c.Subcontrollers.Enabled {
		switch c.Subcontrollers.Scheme {
		case "http", "https":
		default:
			errs = append(errs, "subcontrollers.scheme must be http or https")
		}
		if c.Subcontrollers.Port < 1 || c.Subcontrollers.Port > 65535 {
			errs = append(errs, "subcontrollers.port must be between 1 and 65535")
		}
	}

	if c.Sensors.MaxCacheSize < 1 {
		errs = append(errs, "sensors.max_cache_size must be at least 1")
	}

	if c.Snapshot.Path == "" {
		errs = append(errs, "snapshot.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetTickInterval returns the data store tick interval as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Engine.TickInterval) * time.Second
}

// GetAutomationInterval returns the automation evaluation interval as a Duration.
func (c *Config) GetAutomationInterval() time.Duration {
	return time.Duration(c.Engine.AutomationInterval) * time.Second
}

// GetReconcileInterval returns the reconcile interval as a Duration.
// Zero means reconcile only at startup.
func (c *Config) GetReconcileInterval() time.Duration {
	return time.Duration(c.Engine.ReconcileInterval) * time.Second
}

// GetTransmitTimeout returns the per-attempt hardware transmission timeout.
func (c *Config) GetTransmitTimeout() time.Duration {
	return time.Duration(c.Engine.TransmitTimeoutMS) * time.Millisecond
}

// GetChartInterval returns the chart bucket width as a Duration.
func (c *Config) GetChartInterval() time.Duration {
	return time.Duration(c.Outputs.ChartDataPointInterval) * time.Minute
}

// GetHistoryRetention returns how long state history is kept. Zero disables pruning.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Outputs.HistoryRetention) * 24 * time.Hour
}

// GetCacheLookback returns the initial cache lookback window as a Duration.
func (c *Config) GetCacheLookback() time.Duration {
	return time.Duration(c.Outputs.InitialCacheLookback) * time.Minute
}
