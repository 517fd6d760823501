package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementOutputState   = "output_state"
	measurementSensorReading = "sensor_reading"
)

// WriteOutputState records the active state of an output each time the
// history store does. Dropped once the client is closed.
func (c *Client) WriteOutputState(outputID int64, name string, value int, controlMode string, at time.Time) {
	c.write(outputStatePoint(outputID, name, value, controlMode, at))
}

// WriteSensorReading records one sensor sample.
func (c *Client) WriteSensorReading(sensorID int64, readingType string, value float64, at time.Time) {
	c.write(sensorReadingPoint(sensorID, readingType, value, at))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func outputStatePoint(outputID int64, name string, value int, controlMode string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementOutputState,
		map[string]string{
			"output_id":    strconv.FormatInt(outputID, 10),
			"name":         name,
			"control_mode": controlMode,
		},
		map[string]any{"value": value},
		at,
	)
}

func sensorReadingPoint(sensorID int64, readingType string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementSensorReading,
		map[string]string{
			"sensor_id":    strconv.FormatInt(sensorID, 10),
			"reading_type": readingType,
		},
		map[string]any{"value": value},
		at,
	)
}
