package discovery

import (
	"errors"
	"sync"
	"testing"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"
)

// fakeSubscriber records handlers and lets tests deliver messages.
type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	failOn   string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failOn {
		return errors.New("mock subscribe failure")
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Topics() mqtt.Topics { return mqtt.Topics{} }

func (f *fakeSubscriber) deliver(t *testing.T, pattern, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[pattern]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", pattern)
	}
	return h(topic, []byte(payload))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─── Directory ──────────────────────────────────────────────────────────────

func TestDirectory_AnnounceAndResolve(t *testing.T) {
	d := NewDirectory()
	rec := &recorder{}
	d.On(EventOnline, rec.handle)

	d.Announce(Device{Host: "plug-a", Kind: KindSmartPlug, Address: "10.0.0.5", Children: []string{"0", "1"}})

	dev, ok := d.Resolve("plug-a")
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if dev.Address != "10.0.0.5" || len(dev.Children) != 2 || !dev.Online {
		t.Errorf("Resolve() = %+v", dev)
	}
	if _, ok := d.Resolve("plug-b"); ok {
		t.Error("Resolve(unknown) ok = true, want false")
	}

	// Re-announcing an online device does not emit again.
	d.Announce(Device{Host: "plug-a", Kind: KindSmartPlug, Address: "10.0.0.6"})
	if got := rec.types(); !equalStrings(got, []string{EventOnline}) {
		t.Errorf("events = %v, want [online]", got)
	}
}

func TestDirectory_Availability(t *testing.T) {
	d := NewDirectory()
	rec := &recorder{}
	d.On(EventOnline, rec.handle)
	d.On(EventOffline, rec.handle)

	d.SetAvailability("ghost", true)
	if len(rec.types()) != 0 {
		t.Error("availability for unknown host should be ignored")
	}

	d.Announce(Device{Host: "esp-1", Kind: KindSubcontroller, Address: "10.0.0.9:80"})
	d.SetAvailability("esp-1", false)
	d.SetAvailability("esp-1", false)

	if _, ok := d.Resolve("esp-1"); ok {
		t.Error("Resolve() of offline device ok = true, want false")
	}

	d.SetAvailability("esp-1", true)
	d.Remove("esp-1")
	d.Remove("esp-1")

	want := []string{EventOnline, EventOffline, EventOnline, EventOffline}
	if got := rec.types(); !equalStrings(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestDirectory_Hosts(t *testing.T) {
	d := NewDirectory()
	d.Announce(Device{Host: "plug-b", Kind: KindSmartPlug, Address: "b"})
	d.Announce(Device{Host: "plug-a", Kind: KindSmartPlug, Address: "a"})
	d.Announce(Device{Host: "esp-1", Kind: KindSubcontroller, Address: "e"})
	d.Announce(Device{Host: "plug-c", Kind: KindSmartPlug, Address: "c"})
	d.SetAvailability("plug-c", false)

	if got := d.Hosts(KindSmartPlug); !equalStrings(got, []string{"plug-a", "plug-b"}) {
		t.Errorf("Hosts(smart-plug) = %v, want [plug-a plug-b]", got)
	}
	if got := d.Hosts(KindSubcontroller); !equalStrings(got, []string{"esp-1"}) {
		t.Errorf("Hosts(subcontroller) = %v, want [esp-1]", got)
	}
}

func TestDirectory_ResolveReturnsCopy(t *testing.T) {
	d := NewDirectory()
	d.Announce(Device{Host: "plug-a", Kind: KindSmartPlug, Address: "a", Children: []string{"0"}})

	dev, _ := d.Resolve("plug-a")
	dev.Children[0] = "changed"

	again, _ := d.Resolve("plug-a")
	if again.Children[0] != "0" {
		t.Errorf("Children[0] = %q, want 0", again.Children[0])
	}
}

// ─── MQTT Feed ──────────────────────────────────────────────────────────────

func TestDirectory_Subscribe(t *testing.T) {
	d := NewDirectory()
	sub := newFakeSubscriber()
	topics := mqtt.Topics{}

	if err := d.Subscribe(sub, 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	announce := topics.AllDeviceAnnouncements()
	avail := topics.AllDeviceAvailability()

	if err := sub.deliver(t, announce, topics.DeviceAnnounce("plug-a"),
		`{"kind":"smart-plug","address":"10.0.0.5","children":["0","1","2"]}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}
	dev, ok := d.Resolve("plug-a")
	if !ok || len(dev.Children) != 3 {
		t.Fatalf("Resolve() = %+v, %v", dev, ok)
	}

	if err := sub.deliver(t, avail, topics.DeviceAvailability("plug-a"), `{"state":"offline"}`); err != nil {
		t.Fatalf("availability error = %v", err)
	}
	if _, ok := d.Resolve("plug-a"); ok {
		t.Error("Resolve() after offline ok = true, want false")
	}

	if err := sub.deliver(t, avail, topics.DeviceAvailability("plug-a"), "online"); err != nil {
		t.Fatalf("availability error = %v", err)
	}
	if _, ok := d.Resolve("plug-a"); !ok {
		t.Error("Resolve() after online ok = false, want true")
	}

	if err := sub.deliver(t, announce, topics.DeviceAnnounce("plug-a"), ""); err != nil {
		t.Fatalf("removal error = %v", err)
	}
	if _, ok := d.Resolve("plug-a"); ok {
		t.Error("Resolve() after removal ok = true, want false")
	}
}

func TestDirectory_SubscribeInvalidPayloads(t *testing.T) {
	d := NewDirectory()
	sub := newFakeSubscriber()
	topics := mqtt.Topics{}
	if err := d.Subscribe(sub, 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		pattern string
		topic   string
		payload string
	}{
		{"bad json", topics.AllDeviceAnnouncements(), topics.DeviceAnnounce("x"), "{"},
		{"unknown kind", topics.AllDeviceAnnouncements(), topics.DeviceAnnounce("x"), `{"kind":"toaster","address":"a"}`},
		{"missing address", topics.AllDeviceAnnouncements(), topics.DeviceAnnounce("x"), `{"kind":"smart-plug"}`},
		{"bad availability", topics.AllDeviceAvailability(), topics.DeviceAvailability("x"), "sleepy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sub.deliver(t, tt.pattern, tt.topic, tt.payload)
			if !errors.Is(err, ErrInvalidAnnouncement) {
				t.Errorf("error = %v, want ErrInvalidAnnouncement", err)
			}
		})
	}
}

func TestDirectory_SubscribeError(t *testing.T) {
	sub := newFakeSubscriber()
	sub.failOn = mqtt.Topics{}.AllDeviceAvailability()
	if err := NewDirectory().Subscribe(sub, 1); err == nil {
		t.Error("Subscribe() error = nil, want error")
	}
}

// ─── Event Bus ──────────────────────────────────────────────────────────────

func TestEventBus_UnsubscribeAndPanic(t *testing.T) {
	bus := NewEventBus(nil)
	rec := &recorder{}

	unsub := bus.On(EventOnline, rec.handle)
	bus.On(EventOnline, func(Event) { panic("boom") })
	all := &recorder{}
	bus.OnAll(all.handle)

	bus.Emit(Event{Type: EventOnline})
	unsub()
	bus.Emit(Event{Type: EventOnline})
	bus.Emit(Event{Type: EventOffline})

	if got := len(rec.types()); got != 1 {
		t.Errorf("unsubscribed handler calls = %d, want 1", got)
	}
	if got := len(all.types()); got != 3 {
		t.Errorf("OnAll handler calls = %d, want 3", got)
	}
}
