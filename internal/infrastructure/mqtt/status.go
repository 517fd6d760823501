package mqtt

import (
	"encoding/json"
	"time"
)

// Reasons carried by an offline status message.
const (
	reasonShutdown   = "graceful_shutdown"
	reasonConnection = "unexpected_disconnect"
)

// controllerStatus is the retained payload on Topics.SystemStatus.
type controllerStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusPayload encodes the controller status. An empty reason means online.
func statusPayload(clientID, reason string, at time.Time) []byte {
	st := controllerStatus{Status: "online", ClientID: clientID, Timestamp: at.UTC().Truncate(time.Second)}
	if reason != "" {
		st.Status = "offline"
		st.Reason = reason
	}
	b, _ := json.Marshal(st) //nolint:errcheck // plain struct always encodes
	return b
}
