// Package mqtt provides MQTT client connectivity for Chimera Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Per-instrument event channels (chimera/{serial}/events/+)
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Instruments push named telemetry events over the broker; Core opens at
// most one event channel per instrument and derives state from the
// stream. The broker decouples Core from instrument firmware revisions.
//
//	Instruments → MQTT Broker → Chimera Core → UI surfaces
//
// Transport errors are not fatal: paho reconnects with exponential
// backoff and this client restores its subscriptions on reconnect, so an
// open EventChannel keeps delivering once the broker returns.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ch, err := client.OpenEventChannel("CHM-1042",
//	    func(event string, payload []byte) {
//	        log.Printf("event %s: %s", event, payload)
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ch.Close()
package mqtt
