// Package discovery tracks network devices (smart plugs and remote PWM
// subcontrollers) announced over MQTT, and notifies subscribers when they
// come online or go offline.
//
// Device family managers use the Directory to resolve a host before binding
// an output to it, and dispose of bound outputs when the device goes offline.
//
// # Usage
//
//	dir := discovery.NewDirectory()
//	dir.SetLogger(log)
//	if err := dir.Subscribe(mqttClient, 1); err != nil {
//	    return err
//	}
//	unsubscribe := dir.On(discovery.EventOffline, func(e discovery.Event) {
//	    log.Warn("lost device", "host", e.Device.Host)
//	})
//	defer unsubscribe()
package discovery
