package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "sproot"

// Topics builds controller MQTT topics under a common prefix.
//
// Hierarchy:
//
//	{prefix}/system/status                        controller online/offline (retained, LWT)
//	{prefix}/outputs/{id}/state                   active output state (retained)
//	{prefix}/sensors/{sensorID}/{readingType}     sensor readings
//	{prefix}/discovery/{host}                     device announcements (retained)
//	{prefix}/discovery/{host}/availability        device online/offline (retained, device LWT)
//	{prefix}/plugs/{host}/{child}/set             smart plug commands
//	{prefix}/plugs/{host}/{child}/state           smart plug state reports
//
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the controller status topic.
//
// Example: sproot/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// =============================================================================
// Output Topics
// =============================================================================

// OutputState returns the retained state topic of an output.
//
// Example: sproot/outputs/12/state
func (t Topics) OutputState(outputID int64) string {
	return fmt.Sprintf("%s/outputs/%d/state", t.prefix(), outputID)
}

// =============================================================================
// Sensor Topics
// =============================================================================

// SensorReading returns the topic a sensor publishes one reading type on.
//
// Example: sproot/sensors/4/temperature
func (t Topics) SensorReading(sensorID int64, readingType string) string {
	return fmt.Sprintf("%s/sensors/%d/%s", t.prefix(), sensorID, readingType)
}

// AllSensorReadings matches every sensor reading topic.
func (t Topics) AllSensorReadings() string {
	return t.prefix() + "/sensors/+/+"
}

// ParseSensorReading extracts the sensor ID and reading type from a
// SensorReading topic.
func (t Topics) ParseSensorReading(topic string) (sensorID int64, readingType string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/sensors/")
	if !found {
		return 0, "", false
	}
	idStr, readingType, found := strings.Cut(rest, "/")
	if !found || readingType == "" || strings.Contains(readingType, "/") {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, readingType, true
}

// =============================================================================
// Discovery Topics
// =============================================================================

// DeviceAnnounce returns the retained announcement topic of a device.
//
// Example: sproot/discovery/plug-kitchen
func (t Topics) DeviceAnnounce(host string) string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), host)
}

// DeviceAvailability returns the availability topic of a device.
//
// Example: sproot/discovery/plug-kitchen/availability
func (t Topics) DeviceAvailability(host string) string {
	return fmt.Sprintf("%s/discovery/%s/availability", t.prefix(), host)
}

// AllDeviceAnnouncements matches every announcement topic.
func (t Topics) AllDeviceAnnouncements() string {
	return t.prefix() + "/discovery/+"
}

// AllDeviceAvailability matches every availability topic.
func (t Topics) AllDeviceAvailability() string {
	return t.prefix() + "/discovery/+/availability"
}

// ParseDiscovery extracts the host from a discovery topic. availability is
// true for DeviceAvailability topics.
func (t Topics) ParseDiscovery(topic string) (host string, availability bool, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/discovery/")
	if !found || rest == "" {
		return "", false, false
	}
	if h, found := strings.CutSuffix(rest, "/availability"); found {
		if h == "" || strings.Contains(h, "/") {
			return "", false, false
		}
		return h, true, true
	}
	if strings.Contains(rest, "/") {
		return "", false, false
	}
	return rest, false, true
}

// =============================================================================
// Smart Plug Topics
// =============================================================================

// PlugSet returns the command topic of a plug outlet.
//
// Example: sproot/plugs/plug-kitchen/0/set
func (t Topics) PlugSet(host, child string) string {
	return fmt.Sprintf("%s/plugs/%s/%s/set", t.prefix(), host, child)
}

// PlugState returns the state report topic of a plug outlet.
//
// Example: sproot/plugs/plug-kitchen/0/state
func (t Topics) PlugState(host, child string) string {
	return fmt.Sprintf("%s/plugs/%s/%s/state", t.prefix(), host, child)
}

// AllPlugStates matches every plug state report.
func (t Topics) AllPlugStates() string {
	return t.prefix() + "/plugs/+/+/state"
}

// ParsePlugState extracts the host and child from a PlugState topic.
func (t Topics) ParsePlugState(topic string) (host, child string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/plugs/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, "/state")
	if !found {
		return "", "", false
	}
	host, child, found = strings.Cut(rest, "/")
	if !found || host == "" || child == "" || strings.Contains(child, "/") {
		return "", "", false
	}
	return host, child, true
}
