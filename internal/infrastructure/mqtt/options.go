package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second

	// disconnectQuiesce is in milliseconds, as paho expects.
	disconnectQuiesce = 1000

	maxQoS = 2

	// maxPayloadSize caps outgoing payloads. Plug commands and state
	// messages are a few hundred bytes.
	maxPayloadSize = 64 << 10

	tlsMinVersion = tls.VersionTLS12

	clientIDSuffixLen = 8

	// maxClientIDLen is the MQTT 3.1 client identifier limit.
	maxClientIDLen = 23
)

// uniqueClientID appends a short random suffix to base so that two
// controllers sharing a config do not take over each other's session.
func uniqueClientID(base string) string {
	suffix := uuid.NewString()[:clientIDSuffixLen]
	if base == "" {
		return suffix
	}
	if limit := maxClientIDLen - clientIDSuffixLen - 1; len(base) > limit {
		base = base[:limit]
	}
	return base + "-" + suffix
}

// brokerURL returns the paho broker address for cfg.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the controller's MQTT config onto paho options.
// The session is clean: subscriptions are restored by the client itself.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the retained offline status the broker publishes
// when the controller drops without calling Close.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload := statusPayload(clientID, reasonConnection, time.Now())
	opts.SetBinaryWill(topics.SystemStatus(), payload, 1, true)
}
