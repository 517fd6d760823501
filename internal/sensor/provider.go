package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/automation"
	"github.com/Ipswich/sproot-sub000/internal/cache"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"
)

// ErrInvalidReading is returned for payloads that carry no numeric value.
var ErrInvalidReading = errors.New("sensor: invalid reading")

// Logger defines the logging interface used by the provider.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Telemetry receives every recorded reading.
type Telemetry interface {
	WriteSensorReading(sensorID int64, readingType string, value float64, at time.Time)
}

// Subscriber is the part of the MQTT client the provider needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

type key struct {
	sensorID    int64
	readingType string
}

// Provider holds a bounded cache of readings per sensor and reading type.
// It implements automation.SensorReadings. Safe for concurrent use.
type Provider struct {
	maxSize int

	mu     sync.RWMutex
	caches map[key]*cache.QueueCache[automation.Reading]

	telemetry Telemetry
	logger    Logger
	now       func() time.Time
}

var _ automation.SensorReadings = (*Provider)(nil)

// NewProvider creates a provider keeping maxSize readings per series.
func NewProvider(maxSize int) *Provider {
	return &Provider{
		maxSize: maxSize,
		caches:  make(map[key]*cache.QueueCache[automation.Reading]),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the provider.
func (p *Provider) SetLogger(logger Logger) {
	p.logger = logger
}

// SetTelemetry forwards every recorded reading to t.
func (p *Provider) SetTelemetry(t Telemetry) {
	p.telemetry = t
}

// Record stores a reading.
func (p *Provider) Record(sensorID int64, readingType string, value float64, at time.Time) {
	k := key{sensorID: sensorID, readingType: readingType}

	p.mu.Lock()
	c, ok := p.caches[k]
	if !ok {
		c = cache.NewQueueCache[automation.Reading](p.maxSize)
		p.caches[k] = c
	}
	p.mu.Unlock()

	c.Add(automation.Reading{Value: value, LogTime: at})
	if p.telemetry != nil {
		p.telemetry.WriteSensorReading(sensorID, readingType, value, at)
	}
}

// CachedReadings returns up to the newest n readings, oldest first.
func (p *Provider) CachedReadings(sensorID int64, readingType string, n int) []automation.Reading {
	p.mu.RLock()
	c, ok := p.caches[key{sensorID: sensorID, readingType: readingType}]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.Last(n)
}

// Latest returns the newest reading.
func (p *Provider) Latest(sensorID int64, readingType string) (automation.Reading, bool) {
	p.mu.RLock()
	c, ok := p.caches[key{sensorID: sensorID, readingType: readingType}]
	p.mu.RUnlock()
	if !ok {
		return automation.Reading{}, false
	}
	return c.Latest()
}

// Subscribe feeds the provider from {prefix}/sensors/{id}/{readingType}.
func (p *Provider) Subscribe(sub Subscriber, qos byte) error {
	topics := sub.Topics()
	err := sub.Subscribe(topics.AllSensorReadings(), qos, func(topic string, payload []byte) error {
		sensorID, readingType, ok := topics.ParseSensorReading(topic)
		if !ok {
			return nil
		}
		value, at, err := parseReading(payload, p.now)
		if err != nil {
			return fmt.Errorf("sensor %d %s: %w", sensorID, readingType, err)
		}
		p.Record(sensorID, readingType, value, at)
		p.logger.Debug("sensor reading", "sensor_id", sensorID, "reading_type", readingType, "value", value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to sensor readings: %w", err)
	}
	return nil
}

// parseReading accepts a bare number or {"value": n, "time": "RFC3339"}.
func parseReading(payload []byte, now func() time.Time) (float64, time.Time, error) {
	s := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(s, "{") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidReading, s)
		}
		return v, now(), nil
	}

	var r struct {
		Value *float64  `json:"value"`
		Time  time.Time `json:"time"`
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if r.Value == nil {
		return 0, time.Time{}, fmt.Errorf("%w: missing value", ErrInvalidReading)
	}
	if r.Time.IsZero() {
		r.Time = now()
	}
	return *r.Value, r.Time, nil
}
