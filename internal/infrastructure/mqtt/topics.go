package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for instrument telemetry.
//
// Each instrument publishes named events under its own subtree:
//
//	chimera/{serial}/events/{event}
//
// where {event} is the push-event name (calibration_progress,
// chimera_status, message). Core itself publishes liveness under
// chimera/core/status.
const (
	// TopicPrefix is the base for all Chimera topics.
	TopicPrefix = "chimera"

	// TopicPrefixCore is the base for core service topics.
	TopicPrefixCore = "chimera/core"

	// eventTopicParts is the number of levels in an instrument event topic.
	eventTopicParts = 4
)

// Topics provides builders for Chimera MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// InstrumentEvents returns the wildcard pattern matching every named event
// from a single instrument.
//
// Pattern: chimera/CHM-1042/events/+
func (Topics) InstrumentEvents(serial string) string {
	return fmt.Sprintf("%s/%s/events/+", TopicPrefix, serial)
}

// InstrumentEvent returns the topic for one named event from an instrument.
//
// Example: chimera/CHM-1042/events/calibration_progress
func (Topics) InstrumentEvent(serial, event string) string {
	return fmt.Sprintf("%s/%s/events/%s", TopicPrefix, serial, event)
}

// SystemStatus returns the core service status topic.
//
// Example: chimera/core/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixCore)
}

// ParseEventTopic splits an instrument event topic into its serial and
// event name. Returns ok=false for topics outside the event subtree.
func ParseEventTopic(topic string) (serial, event string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != eventTopicParts {
		return "", "", false
	}
	if parts[0] != TopicPrefix || parts[2] != "events" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" || parts[3] == "+" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// validSerial reports whether a serial is usable as a topic level.
func validSerial(serial string) bool {
	return serial != "" && !strings.ContainsAny(serial, "/+#")
}
