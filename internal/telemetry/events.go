package telemetry

import "time"

// Instrument event names carried as the final MQTT topic level.
const (
	EventCalibrationProgress = "calibration_progress"
	EventChimeraStatus       = "chimera_status"
	EventMessage             = "message"
)

// OperationKind is the instrument's current non-calibration activity.
type OperationKind string

// Operation kinds reported by chimera_status events.
const (
	OperationFlushing OperationKind = "flushing"
	OperationReading  OperationKind = "reading"
)

// Event is a decoded instrument event. The closed set of
// implementations is CalibrationEvent, StatusEvent and LegacyDoneEvent;
// everything else on the wire is dropped by the decoder.
type Event interface {
	// InstrumentSerial is the serial of the instrument whose channel
	// delivered the event.
	InstrumentSerial() string
}

// CalibrationEvent is a calibration stage announcement. ExpectedDuration
// is the instrument's estimate for the announced stage.
type CalibrationEvent struct {
	Serial           string
	Stage            Stage
	ExpectedDuration time.Duration
}

func (e CalibrationEvent) InstrumentSerial() string { return e.Serial }

// StatusEvent is an operational status announcement (flushing a line or
// reading a channel). Channel is 0 when the event carried none.
type StatusEvent struct {
	Serial  string
	Kind    OperationKind
	Channel int
}

func (e StatusEvent) InstrumentSerial() string { return e.Serial }

// LegacyDoneEvent is the completion marker emitted by older firmware in
// place of a calibration_progress complete stage.
type LegacyDoneEvent struct {
	Serial string
}

func (e LegacyDoneEvent) InstrumentSerial() string { return e.Serial }
