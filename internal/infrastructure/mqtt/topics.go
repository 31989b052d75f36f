package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every smart parking MQTT topic.
const TopicPrefix = "smartparking"

// Topics provides builders for smart parking MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.SensorStatus("SENSOR-001")
//	// Returns: "smartparking/sensors/SENSOR-001/status"
type Topics struct{}

// SensorStatus returns the topic a sensor publishes its occupancy report to.
func (Topics) SensorStatus(sensorID string) string {
	return fmt.Sprintf("%s/sensors/%s/status", TopicPrefix, sensorID)
}

// AllSensorStatus returns the wildcard matching every sensor's status topic.
func (Topics) AllSensorStatus() string {
	return TopicPrefix + "/sensors/+/status"
}

// SpaceStatus returns the retained topic mirroring a parking space's state.
func (Topics) SpaceStatus(spaceID string) string {
	return fmt.Sprintf("%s/spaces/%s/status", TopicPrefix, spaceID)
}

// SystemStatus returns the retained server online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SensorIDFromTopic extracts the sensor id from a topic of the form
// <prefix>/sensors/<id>/status. It returns false for anything else.
func SensorIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "sensors" || parts[3] != "status" || parts[2] == "" { //nolint:mnd // prefix/sensors/id/status
		return "", false
	}
	return parts[2], true
}
