// Package influxdb sends controller telemetry to InfluxDB.
//
// Every output state written to the history store is also sent as an
// "output_state" point, and every sensor reading as a "sensor_reading"
// point, so long-range charts can be drawn outside the controller. Points
// are tagged with the controller ID.
//
// Telemetry is optional: Connect returns ErrDisabled when influxdb.enabled
// is false, and the controller runs without it.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Controller.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteOutputState(12, "Exhaust Fan", 75, "automatic", time.Now())
//
// Writes are batched and non-blocking. Batch failures are delivered to the
// SetOnError callback.
package influxdb
