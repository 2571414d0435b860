// Package mqtt provides MQTT client connectivity for the Haier bridge.
//
// The bridge uses MQTT as its outward event bus: appliance snapshots and
// gateway status go out, control requests come in. This package owns the
// broker connection; the topic layout lives with the haier bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload validation
//   - Subscriptions restored after every reconnect
//   - Last Will and Testament on <prefix>/bridge/status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("haier/command/+", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
