// Package mqtt connects the devsync core to its transport gateways.
//
// A gateway owns the raw BLE, Wi-Fi or USB link to a device. The core
// publishes commands on devsync/command/{protocol}/{device} and receives
// acknowledgements, telemetry and status callbacks on the matching ack,
// telemetry and status topics:
//
//	devsync core ↔ MQTT broker ↔ transport gateways ↔ devices
//
// The client keeps a retained presence record on devsync/system/status
// (online on connect, offline on Close, and an offline last will if the
// process dies), replays subscriptions after reconnects, and publishes core
// events such as finished sync runs on devsync/core/event/{type}.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceAcks(), 1, transport.HandleAck)
package mqtt
