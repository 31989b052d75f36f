// Package mqtt provides MQTT client connectivity for sensor ingestion.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Retained per-space status mirroring
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Parking sensors that speak MQTT publish occupancy reports to
// smartparking/sensors/<sensorId>/status. The server subscribes to the
// wildcard and feeds each report through the same ingestion path as the
// HTTP webhook.
//
//	Sensor → MQTT Broker → smartparking server → WebSocket subscribers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Dial(cfg.MQTT, mqtt.Hooks{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSensorStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        sensorID, _ := mqtt.SensorIDFromTopic(topic)
//	        return ingest(sensorID, payload)
//	    })
//
// Applied reports are mirrored back out, retained, on
// smartparking/spaces/<spaceId>/status.
package mqtt
