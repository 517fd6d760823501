package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
controller:
  id: "greenhouse-1"
  name: "North Greenhouse"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
outputs:
  max_cache_size: 60
  chart_data_point_interval: 10
engine:
  transmit_attempts: 5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Controller.ID != "greenhouse-1" {
		t.Errorf("Controller.ID = %q, want %q", cfg.Controller.ID, "greenhouse-1")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.Outputs.MaxCacheSize != 60 {
		t.Errorf("Outputs.MaxCacheSize = %d, want 60", cfg.Outputs.MaxCacheSize)
	}

	if cfg.Outputs.ChartDataPointInterval != 10 {
		t.Errorf("Outputs.ChartDataPointInterval = %d, want 10", cfg.Outputs.ChartDataPointInterval)
	}

	// Unspecified sections keep their defaults.
	if cfg.Outputs.MaxChartDataSize != 288 {
		t.Errorf("Outputs.MaxChartDataSize = %d, want 288", cfg.Outputs.MaxChartDataSize)
	}

	if cfg.Engine.TransmitAttempts != 5 {
		t.Errorf("Engine.TransmitAttempts = %d, want 5", cfg.Engine.TransmitAttempts)
	}

	if cfg.MQTT.TopicPrefix != "sproot" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "sproot")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
controller:
  id: ""
outputs:
  max_cache_size: 0
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}

	// Both problems are reported together.
	for _, want := range []string{"controller.id", "outputs.max_cache_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %q, want it to mention %q", err.Error(), want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing controller ID",
			mutate:  func(c *Config) { c.Controller.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name: "file logging without path",
			mutate: func(c *Config) {
				c.Logging.Output = "file"
				c.Logging.File.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "zero chart interval",
			mutate:  func(c *Config) { c.Outputs.ChartDataPointInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero chart size",
			mutate:  func(c *Config) { c.Outputs.MaxChartDataSize = 0 },
			wantErr: true,
		},
		{
			name:    "transmit timeout too short",
			mutate:  func(c *Config) { c.Engine.TransmitTimeoutMS = 10 },
			wantErr: true,
		},
		{
			name:    "transmit timeout too long",
			mutate:  func(c *Config) { c.Engine.TransmitTimeoutMS = 60000 },
			wantErr: true,
		},
		{
			name:    "zero transmit attempts",
			mutate:  func(c *Config) { c.Engine.TransmitAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative reconcile interval",
			mutate:  func(c *Config) { c.Engine.ReconcileInterval = -1 },
			wantErr: true,
		},
		{
			name: "pca9685 frequency out of range",
			mutate: func(c *Config) {
				c.PCA9685.Enabled = true
				c.PCA9685.Frequency = 2000
			},
			wantErr: true,
		},
		{
			name: "pca9685 frequency ignored when disabled",
			mutate: func(c *Config) {
				c.PCA9685.Enabled = false
				c.PCA9685.Frequency = 2000
			},
			wantErr: false,
		},
		{
			name: "subcontroller scheme invalid",
			mutate: func(c *Config) {
				c.Subcontrollers.Enabled = true
				c.Subcontrollers.Scheme = "ftp"
			},
			wantErr: true,
		},
		{
			name: "subcontroller port invalid",
			mutate: func(c *Config) {
				c.Subcontrollers.Enabled = true
				c.Subcontrollers.Port = 70000
			},
			wantErr: true,
		},
		{
			name:    "missing snapshot path",
			mutate:  func(c *Config) { c.Snapshot.Path = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Outputs: OutputsConfig{
			InitialCacheLookback:   120,
			ChartDataPointInterval: 5,
			HistoryRetention:       7,
		},
		Engine: EngineConfig{
			TickInterval:       60,
			AutomationInterval: 2,
			ReconcileInterval:  300,
			TransmitTimeoutMS:  1500,
		},
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"GetTickInterval", cfg.GetTickInterval(), time.Minute},
		{"GetAutomationInterval", cfg.GetAutomationInterval(), 2 * time.Second},
		{"GetReconcileInterval", cfg.GetReconcileInterval(), 5 * time.Minute},
		{"GetTransmitTimeout", cfg.GetTransmitTimeout(), 1500 * time.Millisecond},
		{"GetChartInterval", cfg.GetChartInterval(), 5 * time.Minute},
		{"GetCacheLookback", cfg.GetCacheLookback(), 2 * time.Hour},
		{"GetHistoryRetention", cfg.GetHistoryRetention(), 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SPROOT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SPROOT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SPROOT_MQTT_PORT", "8883")
	t.Setenv("SPROOT_MQTT_USERNAME", "testuser")
	t.Setenv("SPROOT_MQTT_PASSWORD", "testpass")
	t.Setenv("SPROOT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SPROOT_LOG_LEVEL", "debug")
	t.Setenv("SPROOT_PCA9685_BUS", "/dev/i2c-3")
	t.Setenv("SPROOT_SNAPSHOT_PATH", "/var/lib/sproot/state.db")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	if cfg.PCA9685.Bus != "/dev/i2c-3" {
		t.Errorf("PCA9685.Bus = %q, want %q", cfg.PCA9685.Bus, "/dev/i2c-3")
	}

	if cfg.Snapshot.Path != "/var/lib/sproot/state.db" {
		t.Errorf("Snapshot.Path = %q, want %q", cfg.Snapshot.Path, "/var/lib/sproot/state.db")
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SPROOT_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Controller.ID == "" {
		t.Error("defaultConfig should have non-empty Controller.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.Engine.TransmitAttempts != 3 {
		t.Errorf("defaultConfig Engine.TransmitAttempts = %d, want 3", cfg.Engine.TransmitAttempts)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
