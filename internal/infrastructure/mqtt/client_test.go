package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "sproot-test",
		},
		QoS:         1,
		TopicPrefix: "sproot-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to a local broker, skipping the test when none is
// listening.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBrokerAddr, err)
	}
	conn.Close()

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ pahomqtt.Message = fakeMessage{}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Offline Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"single-level wildcard", "sproot/plugs/+/0/set", nil, 1, ErrInvalidTopic},
		{"multi-level wildcard", "sproot/#", nil, 1, ErrInvalidTopic},
		{"invalid qos", "sproot/x", nil, 3, ErrInvalidQoS},
		{"oversized payload", "sproot/x", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
		{"not connected", "sproot/x", []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_MarshalError(t *testing.T) {
	client := &Client{}
	err := client.PublishJSON("sproot/x", make(chan int), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("sproot/x", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("sproot/x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("sproot/x", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if len(client.subscriptions) != 0 {
		t.Errorf("tracked filters = %d, want 0", len(client.subscriptions))
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("sproot/plugs/+/+/state"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestStatusPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var online controllerStatus
	if err := json.Unmarshal(statusPayload("sproot-core-1", "", at), &online); err != nil {
		t.Fatalf("decoding online payload: %v", err)
	}
	if online.Status != "online" || online.ClientID != "sproot-core-1" || online.Reason != "" || !online.Timestamp.Equal(at) {
		t.Errorf("online status = %+v", online)
	}

	var offline controllerStatus
	if err := json.Unmarshal(statusPayload("sproot-core-1", reasonShutdown, at), &offline); err != nil {
		t.Fatalf("decoding offline payload: %v", err)
	}
	if offline.Status != "offline" || offline.Reason != reasonShutdown {
		t.Errorf("offline status = %+v, want offline/%s", offline, reasonShutdown)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "sproot/x"})

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "sproot/sensors/1/temperature", payload: []byte("21.5")})

	if gotTopic != "sproot/sensors/1/temperature" || string(gotPayload) != "21.5" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestUniqueClientID(t *testing.T) {
	a := uniqueClientID("sproot-core")
	b := uniqueClientID("sproot-core")

	if a == b {
		t.Errorf("uniqueClientID() returned %q twice", a)
	}
	if !strings.HasPrefix(a, "sproot-core-") {
		t.Errorf("uniqueClientID() = %q, want sproot-core- prefix", a)
	}
	if len(a) > maxClientIDLen {
		t.Errorf("len(uniqueClientID()) = %d, want <= %d", len(a), maxClientIDLen)
	}

	long := uniqueClientID(strings.Repeat("x", 40))
	if len(long) > maxClientIDLen {
		t.Errorf("len(uniqueClientID(long)) = %d, want <= %d", len(long), maxClientIDLen)
	}
	if got := uniqueClientID(""); len(got) != clientIDSuffixLen {
		t.Errorf("uniqueClientID(\"\") = %q, want %d chars", got, clientIDSuffixLen)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "sproot"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.Username != "sproot" {
		t.Errorf("Username = %q, want sproot", opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig not configured")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}

	configureLWT(opts, Topics{Prefix: "gh"}, "sproot-core")
	if opts.WillTopic != "gh/system/status" || !opts.WillRetained {
		t.Errorf("Will = %q retained=%v, want gh/system/status retained", opts.WillTopic, opts.WillRetained)
	}
	var will controllerStatus
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("decoding will payload: %v", err)
	}
	if will.Status != "offline" || will.Reason != reasonConnection {
		t.Errorf("will = %+v, want offline/%s", will, reasonConnection)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "gh"}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"SystemStatus", topics.SystemStatus(), "gh/system/status"},
		{"OutputState", topics.OutputState(12), "gh/outputs/12/state"},
		{"SensorReading", topics.SensorReading(4, "temperature"), "gh/sensors/4/temperature"},
		{"AllSensorReadings", topics.AllSensorReadings(), "gh/sensors/+/+"},
		{"DeviceAnnounce", topics.DeviceAnnounce("plug-a"), "gh/discovery/plug-a"},
		{"DeviceAvailability", topics.DeviceAvailability("plug-a"), "gh/discovery/plug-a/availability"},
		{"AllDeviceAnnouncements", topics.AllDeviceAnnouncements(), "gh/discovery/+"},
		{"AllDeviceAvailability", topics.AllDeviceAvailability(), "gh/discovery/+/availability"},
		{"PlugSet", topics.PlugSet("plug-a", "0"), "gh/plugs/plug-a/0/set"},
		{"PlugState", topics.PlugState("plug-a", "0"), "gh/plugs/plug-a/0/state"},
		{"AllPlugStates", topics.AllPlugStates(), "gh/plugs/+/+/state"},
		{"DefaultPrefix", Topics{}.SystemStatus(), "sproot/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestParseSensorReading(t *testing.T) {
	topics := Topics{}

	id, rt, ok := topics.ParseSensorReading("sproot/sensors/4/humidity")
	if !ok || id != 4 || rt != "humidity" {
		t.Errorf("ParseSensorReading() = (%d, %q, %v), want (4, humidity, true)", id, rt, ok)
	}

	for _, bad := range []string{
		"sproot/sensors/x/humidity",
		"sproot/sensors/4",
		"sproot/sensors/4/",
		"sproot/sensors/4/a/b",
		"other/sensors/4/humidity",
	} {
		if _, _, ok := topics.ParseSensorReading(bad); ok {
			t.Errorf("ParseSensorReading(%q) ok = true, want false", bad)
		}
	}
}

func TestParseDiscovery(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		topic     string
		wantHost  string
		wantAvail bool
		wantOK    bool
	}{
		{"sproot/discovery/plug-a", "plug-a", false, true},
		{"sproot/discovery/plug-a/availability", "plug-a", true, true},
		{"sproot/discovery/", "", false, false},
		{"sproot/discovery/a/b", "", false, false},
		{"sproot/plugs/a/0/state", "", false, false},
	}
	for _, tt := range tests {
		host, avail, ok := topics.ParseDiscovery(tt.topic)
		if host != tt.wantHost || avail != tt.wantAvail || ok != tt.wantOK {
			t.Errorf("ParseDiscovery(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.topic, host, avail, ok, tt.wantHost, tt.wantAvail, tt.wantOK)
		}
	}
}

func TestParsePlugState(t *testing.T) {
	topics := Topics{}

	host, child, ok := topics.ParsePlugState("sproot/plugs/plug-a/2/state")
	if !ok || host != "plug-a" || child != "2" {
		t.Errorf("ParsePlugState() = (%q, %q, %v), want (plug-a, 2, true)", host, child, ok)
	}
	for _, bad := range []string{
		"sproot/plugs/plug-a/2/set",
		"sproot/plugs/plug-a/state",
		"sproot/plugs//2/state",
	} {
		if _, _, ok := topics.ParsePlugState(bad); ok {
			t.Errorf("ParsePlugState(%q) ok = true, want false", bad)
		}
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
	if client.Topics().Prefix != "sproot-test" {
		t.Errorf("Topics().Prefix = %q, want sproot-test", client.Topics().Prefix)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t)

	topic := client.Topics().SensorReading(1, "temperature")
	received := make(chan string, 1)

	if err := client.Subscribe(client.Topics().AllSensorReadings(), 1, func(tp string, p []byte) error {
		if tp == topic {
			received <- string(p)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, ok := client.subscriptions[client.Topics().AllSensorReadings()]; !ok {
		t.Error("sensor filter not tracked for reconnect")
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(topic, []byte("21.5"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "21.5" {
			t.Errorf("payload = %q, want 21.5", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("message not received")
	}

	if err := client.Unsubscribe(client.Topics().AllSensorReadings()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if len(client.subscriptions) != 0 {
		t.Errorf("tracked filters = %d, want 0", len(client.subscriptions))
	}
}
