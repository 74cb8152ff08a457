// Package mqtt provides MQTT client connectivity for the aircon bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Traffic counters for the metrics endpoint
//
// The bridge speaks the Gray Logic bridge protocol: it publishes device
// state and health, and receives commands and requests.
//
//	Gray Logic Core ↔ MQTT Broker ↔ aircon bridge ↔ Advantage Air controllers
//
// # Security Considerations
//
//   - Use TLS outside the local network (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: topic, Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("advantageair"), 1, handler)
package mqtt
