package output

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/discovery"
	"github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"
)

// DeviceDirectory resolves discovered network devices.
type DeviceDirectory interface {
	Resolve(host string) (discovery.Device, bool)
	Hosts(kind discovery.Kind) []string
	On(eventType string, handler discovery.EventHandler) func()
}

// PlugClient is the part of the MQTT client the smart plug family needs.
type PlugClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
}

// Plug relay states on the wire.
const (
	plugOn  = "ON"
	plugOff = "OFF"
)

// plugMessage is the payload of plug commands and state reports.
type plugMessage struct {
	State string `json:"state"`
}

// SmartPlugFamily drives smart plug outlets bridged over MQTT. A plug is
// addressed by its discovery host (cfg.Address) and outlet id (cfg.Pin).
type SmartPlugFamily struct {
	familyBase
	client PlugClient
	dir    DeviceDirectory
	policy TransmitPolicy

	mu     sync.Mutex
	bound  map[int64]*Output
	onLost func(ids []int64)
	unsub  func()
}

var (
	_ FamilyManager       = (*SmartPlugFamily)(nil)
	_ LostOutputsNotifier = (*SmartPlugFamily)(nil)
)

// NewSmartPlugFamily creates the family.
func NewSmartPlugFamily(client PlugClient, dir DeviceDirectory, policy TransmitPolicy, settings Settings, deps Deps) *SmartPlugFamily {
	return &SmartPlugFamily{
		familyBase: newFamilyBase(settings, deps),
		client:     client,
		dir:        dir,
		policy:     policy,
		bound:      make(map[int64]*Output),
	}
}

// Start subscribes to plug state reports and device offline events.
func (f *SmartPlugFamily) Start() error {
	if err := f.client.Subscribe(f.client.Topics().AllPlugStates(), f.client.QoS(), f.handleStateReport); err != nil {
		return fmt.Errorf("subscribing to plug states: %w", err)
	}
	f.unsub = f.dir.On(discovery.EventOffline, func(ev discovery.Event) {
		if ev.Device.Kind == discovery.KindSmartPlug {
			f.hostOffline(ev.Device.Host)
		}
	})
	return nil
}

// OnOutputsLost registers fn to be told about outputs dropped because
// their plug went offline.
func (f *SmartPlugFamily) OnOutputsLost(fn func(ids []int64)) {
	f.mu.Lock()
	f.onLost = fn
	f.mu.Unlock()
}

// Model returns ModelSmartPlug.
func (f *SmartPlugFamily) Model() Model { return ModelSmartPlug }

// CreateOutput binds outlet cfg.Pin of the plug cfg.Address. The plug must
// be online.
func (f *SmartPlugFamily) CreateOutput(ctx context.Context, cfg Config) (*Output, error) {
	host, child := cfg.Address, cfg.Pin
	dev, ok := f.dir.Resolve(host)
	if !ok || dev.Kind != discovery.KindSmartPlug {
		return nil, fmt.Errorf("%w: smart plug %q is not online", ErrDeviceUnresolved, host)
	}
	if len(dev.Children) > 0 && !slices.Contains(dev.Children, child) {
		return nil, fmt.Errorf("%w: smart plug %q has no outlet %q", ErrDeviceUnresolved, host, child)
	}

	cfg.IsPwm = false
	topic := f.client.Topics().PlugSet(host, child)
	driver := DriverFunc(func(ctx context.Context, cmd Command) error {
		return f.send(ctx, cfg.ID, topic, cmd)
	})

	o, err := f.build(ctx, cfg, host, driver)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.bound[cfg.ID] = o
	f.mu.Unlock()

	f.deps.Logger.Info("created smart plug output", "output_id", cfg.ID, "host", host, "outlet", child)
	return o, nil
}

func (f *SmartPlugFamily) send(ctx context.Context, outputID int64, topic string, cmd Command) error {
	state := plugOff
	if cmd.Fraction > 0 {
		state = plugOn
	}
	payload, err := json.Marshal(plugMessage{State: state})
	if err != nil {
		return err
	}

	err = f.policy.transmit(ctx, func(context.Context) error {
		return f.client.Publish(topic, payload, f.client.QoS(), false)
	})
	if err != nil {
		f.deps.Logger.Error("smart plug unreachable, potential state mismatch",
			"output_id", outputID, "topic", topic, "state", state, "error", err)
	}
	return err
}

// DisposeOutput switches the outlet off and frees it.
func (f *SmartPlugFamily) DisposeOutput(ctx context.Context, o *Output) error {
	cfg := o.Config()
	err := o.Dispose(ctx)
	f.unbind(cfg)
	return err
}

func (f *SmartPlugFamily) unbind(cfg Config) {
	f.mu.Lock()
	delete(f.bound, cfg.ID)
	f.mu.Unlock()
	f.resources.Release(cfg.Address, cfg.Pin)
}

// output returns the output holding outlet child of host.
func (f *SmartPlugFamily) output(host, child string) *Output {
	id, ok := f.resources.Holder(host, child)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound[id]
}

// AvailableResources lists online plugs when address is empty, otherwise
// the outlets of plug address, skipping bound ones when filterUsed is set.
func (f *SmartPlugFamily) AvailableResources(address string, filterUsed bool) []Resource {
	if address == "" {
		hosts := f.dir.Hosts(discovery.KindSmartPlug)
		out := make([]Resource, 0, len(hosts))
		for _, h := range hosts {
			out = append(out, Resource{Value: h, Label: h})
		}
		return out
	}

	dev, ok := f.dir.Resolve(address)
	if !ok {
		return []Resource{}
	}
	out := make([]Resource, 0, len(dev.Children))
	for _, child := range dev.Children {
		if filterUsed && f.resources.InUse(address, child) {
			continue
		}
		out = append(out, Resource{Value: child, Label: child})
	}
	return out
}

// Close stops listening for state reports and offline events.
func (f *SmartPlugFamily) Close() error {
	if f.unsub != nil {
		f.unsub()
	}
	if err := f.client.Unsubscribe(f.client.Topics().AllPlugStates()); err != nil {
		return fmt.Errorf("unsubscribing from plug states: %w", err)
	}
	return nil
}

// handleStateReport reconciles a plug's reported relay state. In manual
// mode the report overwrites the manual state; in automatic mode the
// controller re-asserts its own state.
func (f *SmartPlugFamily) handleStateReport(topic string, payload []byte) error {
	host, child, ok := f.client.Topics().ParsePlugState(topic)
	if !ok {
		return nil
	}

	o := f.output(host, child)
	if o == nil {
		return nil
	}

	var msg plugMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding plug state: %w", err)
	}
	reported := 0
	switch strings.ToUpper(msg.State) {
	case plugOn:
		reported = 100
	case plugOff:
	default:
		return fmt.Errorf("decoding plug state: unknown state %q", msg.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.policy.Timeout*time.Duration(max(1, f.policy.Attempts))+time.Second)
	defer cancel()

	if o.ControlMode() == ControlModeManual {
		if reported != o.Value() {
			f.deps.Logger.Info("smart plug changed externally", "output_id", o.ID(), "value", reported)
			return o.SetState(ctx, State{Value: reported}, ControlModeManual)
		}
		return nil
	}
	if reported != o.Value() {
		f.deps.Logger.Info("re-asserting smart plug state", "output_id", o.ID(), "reported", reported, "value", o.Value())
		return o.Execute(ctx, true)
	}
	return nil
}

// hostOffline retires every output bound to host.
func (f *SmartPlugFamily) hostOffline(host string) {
	holders := f.resources.Holders(host)

	f.mu.Lock()
	lost := make([]*Output, 0, len(holders))
	for _, id := range holders {
		if o, ok := f.bound[id]; ok {
			lost = append(lost, o)
		}
	}
	notify := f.onLost
	f.mu.Unlock()

	if len(lost) == 0 {
		return
	}
	ids := make([]int64, 0, len(lost))
	for _, o := range lost {
		o.retire()
		f.unbind(o.Config())
		ids = append(ids, o.ID())
	}
	f.deps.Logger.Warn("smart plug offline, outputs disposed", "host", host, "outputs", ids)
	if notify != nil {
		notify(ids)
	}
}
