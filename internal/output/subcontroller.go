package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Ipswich/sproot-sub000/internal/discovery"
	"github.com/Ipswich/sproot-sub000/internal/hardware/pca9685"
)

// subcontrollerPath is the PWM endpoint of a subcontroller.
const subcontrollerPath = "/api/outputs/pca9685/%s/%s"

// subcontrollerRequest is the body of a PWM update.
type subcontrollerRequest struct {
	Value float64 `json:"value"`
}

// binding is an output and the resource key it holds.
type binding struct {
	out *Output
	key string
}

// SubcontrollerFamily drives PCA9685 boards attached to remote
// subcontrollers over HTTP. Subcontrollers are resolved by hostname through
// the discovery directory; pins are tracked per "hostname/address".
type SubcontrollerFamily struct {
	familyBase
	dir    DeviceDirectory
	client *http.Client
	scheme string
	port   int
	policy TransmitPolicy

	mu             sync.Mutex
	subcontrollers map[int64]Subcontroller
	bound          map[int64]binding
	onLost         func(ids []int64)
	unsub          func()
}

var (
	_ FamilyManager       = (*SubcontrollerFamily)(nil)
	_ LostOutputsNotifier = (*SubcontrollerFamily)(nil)
)

// NewSubcontrollerFamily creates the family. scheme is http or https; port
// is used when the discovered address carries none.
func NewSubcontrollerFamily(dir DeviceDirectory, client *http.Client, scheme string, port int, policy TransmitPolicy, settings Settings, deps Deps) *SubcontrollerFamily {
	if client == nil {
		client = &http.Client{}
	}
	if scheme == "" {
		scheme = "http"
	}
	return &SubcontrollerFamily{
		familyBase:     newFamilyBase(settings, deps),
		dir:            dir,
		client:         client,
		scheme:         scheme,
		port:           port,
		policy:         policy,
		subcontrollers: make(map[int64]Subcontroller),
		bound:          make(map[int64]binding),
	}
}

// Start listens for subcontrollers going offline.
func (f *SubcontrollerFamily) Start() error {
	f.unsub = f.dir.On(discovery.EventOffline, func(ev discovery.Event) {
		if ev.Device.Kind == discovery.KindSubcontroller {
			f.hostOffline(ev.Device.Host)
		}
	})
	return nil
}

// OnOutputsLost registers fn to be told about outputs dropped because
// their subcontroller went offline.
func (f *SubcontrollerFamily) OnOutputsLost(fn func(ids []int64)) {
	f.mu.Lock()
	f.onLost = fn
	f.mu.Unlock()
}

// SetSubcontrollers replaces the known subcontrollers and rebinds existing
// outputs to changed records. A changed hostname moves the output's pin
// claim to the new "hostname/address". It returns the IDs of outputs whose
// subcontroller changed.
func (f *SubcontrollerFamily) SetSubcontrollers(subs []Subcontroller) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subcontrollers = make(map[int64]Subcontroller, len(subs))
	for _, s := range subs {
		f.subcontrollers[s.ID] = s
	}

	var changed []int64
	for id, b := range f.bound {
		cfg := b.out.Config()
		if cfg.SubcontrollerID == nil {
			continue
		}
		s, ok := f.subcontrollers[*cfg.SubcontrollerID]
		if !ok || !b.out.setSubcontroller(s) {
			continue
		}
		changed = append(changed, id)
		if key := resourceKey(s.HostName, cfg.Address); key != b.key {
			f.rekeyLocked(id, b, key)
		}
	}
	return changed
}

// rekeyLocked moves the pin claim of a bound output to key. On a conflict
// the old claim is kept. f.mu must be held.
func (f *SubcontrollerFamily) rekeyLocked(id int64, b binding, key string) {
	pin := b.out.Config().Pin
	if err := f.resources.Claim(key, pin, id); err != nil {
		f.deps.Logger.Error("moving subcontroller output", "output_id", id, "from", b.key, "to", key, "error", err)
		return
	}
	f.resources.Release(b.key, pin)
	f.bound[id] = binding{out: b.out, key: key}
}

// Model returns ModelSubcontroller.
func (f *SubcontrollerFamily) Model() Model { return ModelSubcontroller }

// CreateOutput binds channel cfg.Pin of board cfg.Address on the
// subcontroller cfg.SubcontrollerID, which must resolve.
func (f *SubcontrollerFamily) CreateOutput(ctx context.Context, cfg Config) (*Output, error) {
	if cfg.SubcontrollerID == nil {
		return nil, fmt.Errorf("%w: output %d has no subcontroller", ErrDeviceUnresolved, cfg.ID)
	}
	f.mu.Lock()
	sub, ok := f.subcontrollers[*cfg.SubcontrollerID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown subcontroller %d", ErrDeviceUnresolved, *cfg.SubcontrollerID)
	}
	if _, ok := f.dir.Resolve(sub.HostName); !ok {
		return nil, fmt.Errorf("%w: subcontroller %q cannot be resolved", ErrDeviceUnresolved, sub.HostName)
	}
	if ch, err := strconv.Atoi(cfg.Pin); err != nil || ch < 0 || ch >= pca9685.Channels {
		return nil, fmt.Errorf("%w: pin %q", pca9685.ErrInvalidChannel, cfg.Pin)
	}

	var o *Output
	driver := DriverFunc(func(ctx context.Context, cmd Command) error {
		return f.send(ctx, o, cmd)
	})
	key := resourceKey(sub.HostName, cfg.Address)
	o, err := f.build(ctx, cfg, key, driver)
	if err != nil {
		return nil, err
	}
	o.setSubcontroller(sub)

	f.mu.Lock()
	f.bound[cfg.ID] = binding{out: o, key: key}
	f.mu.Unlock()

	f.deps.Logger.Info("created subcontroller output", "output_id", cfg.ID, "host", sub.HostName, "address", cfg.Address, "pin", cfg.Pin)
	return o, nil
}

func (f *SubcontrollerFamily) send(ctx context.Context, o *Output, cmd Command) error {
	cfg := o.Config()
	sub := o.Subcontroller()
	if sub == nil {
		return fmt.Errorf("%w: output %d has no subcontroller", ErrDeviceUnresolved, cfg.ID)
	}
	dev, ok := f.dir.Resolve(sub.HostName)
	if !ok {
		return fmt.Errorf("%w: subcontroller %q is offline", ErrDeviceUnresolved, sub.HostName)
	}

	endpoint := f.endpoint(dev.Address, cfg.Address, cfg.Pin)
	body, err := json.Marshal(subcontrollerRequest{Value: cmd.Fraction})
	if err != nil {
		return err
	}

	err = f.policy.transmit(ctx, func(ctx context.Context) error {
		return f.put(ctx, endpoint, body)
	})
	if err != nil {
		f.deps.Logger.Error("subcontroller unreachable, potential state mismatch",
			"output_id", cfg.ID, "host", sub.HostName, "endpoint", endpoint, "error", err)
	}
	return err
}

func (f *SubcontrollerFamily) put(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subcontroller responded %s", resp.Status)
	}
	return nil
}

// endpoint builds {scheme}://{host}/api/outputs/pca9685/{address}/{pin}.
func (f *SubcontrollerFamily) endpoint(host, address, pin string) string {
	if _, _, err := net.SplitHostPort(host); err != nil && f.port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(f.port))
	}
	return f.scheme + "://" + host + fmt.Sprintf(subcontrollerPath, url.PathEscape(address), url.PathEscape(pin))
}

// DisposeOutput drives the channel off and frees it.
func (f *SubcontrollerFamily) DisposeOutput(ctx context.Context, o *Output) error {
	err := o.Dispose(ctx)
	f.unbind(o)
	return err
}

func (f *SubcontrollerFamily) unbind(o *Output) {
	cfg := o.Config()
	f.mu.Lock()
	b, ok := f.bound[cfg.ID]
	delete(f.bound, cfg.ID)
	f.mu.Unlock()

	if ok {
		f.resources.Release(b.key, cfg.Pin)
	}
}

// AvailableResources lists online subcontrollers when address is empty,
// otherwise the free channels of "hostname/address".
func (f *SubcontrollerFamily) AvailableResources(address string, _ bool) []Resource {
	if address == "" {
		hosts := f.dir.Hosts(discovery.KindSubcontroller)
		out := make([]Resource, 0, len(hosts))
		for _, h := range hosts {
			out = append(out, Resource{Value: h, Label: h})
		}
		return out
	}

	out := make([]Resource, 0, pca9685.Channels)
	for ch := range pca9685.Channels {
		pin := strconv.Itoa(ch)
		if f.resources.InUse(address, pin) {
			continue
		}
		out = append(out, Resource{Value: pin, Label: pin})
	}
	return out
}

// Close stops listening for offline events.
func (f *SubcontrollerFamily) Close() error {
	if f.unsub != nil {
		f.unsub()
	}
	f.client.CloseIdleConnections()
	return nil
}

// hostOffline retires every output holding a pin under host.
func (f *SubcontrollerFamily) hostOffline(host string) {
	var holders []int64
	for _, key := range f.resources.Addresses() {
		if h, _, _ := strings.Cut(key, "/"); strings.EqualFold(h, host) {
			holders = append(holders, f.resources.Holders(key)...)
		}
	}

	f.mu.Lock()
	lost := make([]*Output, 0, len(holders))
	for _, id := range holders {
		if b, ok := f.bound[id]; ok {
			lost = append(lost, b.out)
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
		f.unbind(o)
		ids = append(ids, o.ID())
	}
	f.deps.Logger.Warn("subcontroller offline, outputs disposed", "host", host, "outputs", ids)
	if notify != nil {
		notify(ids)
	}
}

func resourceKey(host, address string) string {
	return host + "/" + address
}
