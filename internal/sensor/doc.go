// Package sensor caches sensor readings received over MQTT and serves them to
// automation conditions.
//
// Readings arrive on {prefix}/sensors/{sensorID}/{readingType} as a bare
// number or as {"value": n, "time": "RFC3339"}. A missing time means now.
// Each (sensor, reading type) pair keeps a bounded history; Latest and
// CachedReadings back the sensor conditions of the automation engine.
//
// # Usage
//
//	sensors := sensor.NewProvider(cfg.Sensors.MaxCacheSize)
//	sensors.SetLogger(log)
//	if err := sensors.Subscribe(mqttClient, mqttClient.QoS()); err != nil {
//	    return err
//	}
//	registry.SetSensors(sensors)
package sensor
