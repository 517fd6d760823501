package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"
)

// Kind is the type of a discovered device.
type Kind string

const (
	KindSmartPlug     Kind = "smart-plug"
	KindSubcontroller Kind = "subcontroller"
)

// ErrInvalidAnnouncement is returned for malformed discovery payloads.
var ErrInvalidAnnouncement = errors.New("discovery: invalid announcement")

// Device is a network device known to the directory.
type Device struct {
	Host     string    `json:"host"`
	Kind     Kind      `json:"kind"`
	Address  string    `json:"address"`
	Children []string  `json:"children,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// Logger defines the logging interface used by the directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber is the part of the MQTT client the directory needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

// Directory tracks announced devices and their availability.
//
// Devices announce themselves with a retained JSON message on
// {prefix}/discovery/{host} and report availability on
// {prefix}/discovery/{host}/availability. An empty announcement removes
// the device. Online and offline transitions are emitted on the event bus.
type Directory struct {
	mu      sync.RWMutex
	devices map[string]Device
	bus     *EventBus
	logger  Logger
	now     func() time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		devices: make(map[string]Device),
		bus:     NewEventBus(noopLogger{}),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the directory and its event bus.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
	d.bus.logger = logger
}

// On registers a handler for EventOnline or EventOffline.
// Returns an unsubscribe function.
func (d *Directory) On(eventType string, handler EventHandler) func() {
	return d.bus.On(eventType, handler)
}

// Subscribe feeds the directory from MQTT.
func (d *Directory) Subscribe(sub Subscriber, qos byte) error {
	topics := sub.Topics()
	handler := func(topic string, payload []byte) error {
		host, availability, ok := topics.ParseDiscovery(topic)
		if !ok {
			return nil
		}
		if availability {
			online, err := parseAvailability(payload)
			if err != nil {
				return err
			}
			d.SetAvailability(host, online)
			return nil
		}
		return d.handleAnnouncement(host, payload)
	}

	if err := sub.Subscribe(topics.AllDeviceAnnouncements(), qos, handler); err != nil {
		return fmt.Errorf("subscribing to announcements: %w", err)
	}
	if err := sub.Subscribe(topics.AllDeviceAvailability(), qos, handler); err != nil {
		return fmt.Errorf("subscribing to availability: %w", err)
	}
	return nil
}

// announcement is the wire format of a discovery message.
type announcement struct {
	Kind     Kind     `json:"kind"`
	Address  string   `json:"address"`
	Children []string `json:"children"`
}

func (d *Directory) handleAnnouncement(host string, payload []byte) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		d.Remove(host)
		return nil
	}

	var a announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidAnnouncement, host, err)
	}
	switch a.Kind {
	case KindSmartPlug, KindSubcontroller:
	default:
		return fmt.Errorf("%w: %s: kind %q", ErrInvalidAnnouncement, host, a.Kind)
	}
	if a.Address == "" {
		return fmt.Errorf("%w: %s: address is required", ErrInvalidAnnouncement, host)
	}

	d.Announce(Device{Host: host, Kind: a.Kind, Address: a.Address, Children: a.Children})
	return nil
}

// parseAvailability accepts "online"/"offline" or {"state":"online"}.
func parseAvailability(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var v struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return false, fmt.Errorf("%w: availability: %w", ErrInvalidAnnouncement, err)
		}
		s = v.State
	}
	switch strings.ToLower(s) {
	case "online":
		return true, nil
	case "offline":
		return false, nil
	default:
		return false, fmt.Errorf("%w: availability %q", ErrInvalidAnnouncement, s)
	}
}

// Announce adds or replaces a device and marks it online.
func (d *Directory) Announce(dev Device) {
	dev.Online = true
	dev.LastSeen = d.now()
	dev.Children = slices.Clone(dev.Children)

	d.mu.Lock()
	prev, existed := d.devices[dev.Host]
	d.devices[dev.Host] = dev
	d.mu.Unlock()

	if existed && prev.Online {
		d.logger.Debug("device re-announced", "host", dev.Host, "address", dev.Address)
		return
	}
	d.logger.Info("device online", "host", dev.Host, "kind", dev.Kind, "address", dev.Address)
	d.bus.Emit(Event{Type: EventOnline, Device: dev})
}

// SetAvailability updates the availability of a known device.
// Unknown hosts are ignored until they announce themselves.
func (d *Directory) SetAvailability(host string, online bool) {
	d.mu.Lock()
	dev, ok := d.devices[host]
	if !ok || dev.Online == online {
		d.mu.Unlock()
		return
	}
	dev.Online = online
	dev.LastSeen = d.now()
	d.devices[host] = dev
	d.mu.Unlock()

	if online {
		d.logger.Info("device online", "host", host)
		d.bus.Emit(Event{Type: EventOnline, Device: dev})
		return
	}
	d.logger.Warn("device offline", "host", host)
	d.bus.Emit(Event{Type: EventOffline, Device: dev})
}

// Remove forgets a device, emitting EventOffline if it was online.
func (d *Directory) Remove(host string) {
	d.mu.Lock()
	dev, ok := d.devices[host]
	delete(d.devices, host)
	d.mu.Unlock()

	if ok && dev.Online {
		dev.Online = false
		d.logger.Info("device removed", "host", host)
		d.bus.Emit(Event{Type: EventOffline, Device: dev})
	}
}

// Resolve returns an online device by host.
func (d *Directory) Resolve(host string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[host]
	if !ok || !dev.Online {
		return Device{}, false
	}
	dev.Children = slices.Clone(dev.Children)
	return dev, true
}

// Hosts returns the sorted hosts of online devices of the given kind.
func (d *Directory) Hosts(kind Kind) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hosts := make([]string, 0, len(d.devices))
	for host, dev := range d.devices {
		if dev.Online && dev.Kind == kind {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}
