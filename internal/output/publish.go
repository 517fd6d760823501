package output

import "github.com/Ipswich/sproot-sub000/internal/infrastructure/mqtt"

// JSONPublisher is the part of the MQTT client MQTTPublisher needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// MQTTPublisher publishes each output's active state as a retained message
// on {prefix}/outputs/{id}/state.
type MQTTPublisher struct {
	client JSONPublisher
}

// NewMQTTPublisher creates a publisher on client.
func NewMQTTPublisher(client JSONPublisher) *MQTTPublisher {
	return &MQTTPublisher{client: client}
}

// PublishState publishes st for outputID.
func (p *MQTTPublisher) PublishState(outputID int64, st State) error {
	return p.client.PublishJSON(p.client.Topics().OutputState(outputID), st, true)
}
