package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// completionMarker is the literal substring older firmware emits when a
// calibration finishes. It appears both inside a JSON message payload
// and as bare plain text depending on firmware revision; both forms are
// honored.
const completionMarker = "calibration done"

// calibrationPayload is the wire form of a calibration_progress event.
// time_ms arrives as a JSON number; some firmware sends fractional
// values, so it is decoded as float.
type calibrationPayload struct {
	Stage  string  `json:"stage"`
	TimeMs float64 `json:"time_ms"`
}

// statusPayload is the wire form of a chimera_status event. device_id is
// kept raw because firmware sends it as either a number or a string.
type statusPayload struct {
	DeviceID json.RawMessage `json:"device_id"`
	Status   string          `json:"status"`
	Channel  *int            `json:"channel"`
}

// messagePayload is the JSON form of an untyped message event.
type messagePayload struct {
	Message string `json:"message"`
}

// Decode classifies a raw named event from an instrument's push channel
// into one of the typed events, or reports false for anything that does
// not decode. Unclassifiable input is noise from a best-effort channel,
// not an error.
//
// serial is the instrument that owns the delivering channel; status
// events carrying a different device_id are discarded to defend against
// cross-device leakage on a shared transport.
func Decode(serial string, event string, payload []byte) (Event, bool) {
	switch event {
	case EventCalibrationProgress:
		return decodeCalibration(serial, payload)
	case EventChimeraStatus:
		return decodeStatus(serial, payload)
	case EventMessage:
		return decodeMessage(serial, payload)
	default:
		return nil, false
	}
}

func decodeCalibration(serial string, payload []byte) (Event, bool) {
	var p calibrationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}
	if p.Stage == "" || p.TimeMs < 0 {
		return nil, false
	}

	return CalibrationEvent{
		Serial:           serial,
		Stage:            Stage(p.Stage),
		ExpectedDuration: time.Duration(p.TimeMs * float64(time.Millisecond)),
	}, true
}

func decodeStatus(serial string, payload []byte) (Event, bool) {
	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}

	kind := OperationKind(p.Status)
	if kind != OperationFlushing && kind != OperationReading {
		return nil, false
	}

	if !sameInstrument(serial, p.DeviceID) {
		return nil, false
	}

	channel := 0
	if p.Channel != nil && *p.Channel > 0 {
		channel = *p.Channel
	}

	return StatusEvent{
		Serial:  serial,
		Kind:    kind,
		Channel: channel,
	}, true
}

func decodeMessage(serial string, payload []byte) (Event, bool) {
	var p messagePayload
	if err := json.Unmarshal(payload, &p); err == nil {
		if containsMarker(p.Message) {
			return LegacyDoneEvent{Serial: serial}, true
		}
		return nil, false
	}

	// Not JSON; older firmware emits the marker as bare text.
	if containsMarker(string(payload)) {
		return LegacyDoneEvent{Serial: serial}, true
	}
	return nil, false
}

// containsMarker checks for the completion marker, case-insensitively.
func containsMarker(s string) bool {
	return strings.Contains(strings.ToLower(s), completionMarker)
}

// sameInstrument reports whether a device_id field refers to the channel
// owner. An absent device_id is accepted. Values are compared
// numerically when both sides parse as numbers ("007" matches "7"),
// falling back to string equality.
func sameInstrument(serial string, raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return true
	}

	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		trimmed = unquoted
	}

	a, errA := strconv.ParseFloat(trimmed, 64)
	b, errB := strconv.ParseFloat(serial, 64)
	if errA == nil && errB == nil {
		return a == b
	}
	return trimmed == serial
}
