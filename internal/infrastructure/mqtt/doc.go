// Package mqtt connects the controller to its MQTT broker.
//
// The broker carries everything that is not a direct bus write: smart plug
// commands and state reports, device discovery announcements, sensor
// readings and the retained state of each output.
//
//	sprootd <-> broker <-> smart plugs, sensor nodes, subcontrollers, dashboards
//
// The client reconnects on its own and restores its subscriptions. The
// controller's availability is published retained on {prefix}/system/status,
// with a last will that marks it offline after an unclean drop. Topics builds
// and parses every topic the controller uses.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllPlugStates(), client.QoS(), handleReport)
//	err = client.PublishJSON(client.Topics().OutputState(12), state, true)
package mqtt
