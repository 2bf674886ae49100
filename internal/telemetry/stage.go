package telemetry

// Stage is one phase of an instrument's multi-step sensor calibration
// sequence.
type Stage string

// Calibration stages in sequence order. The instrument drives the
// transitions; StageComplete can also be reached by the watchdog or a
// legacy done marker.
const (
	StageStarting  Stage = "starting"
	StageOpening   Stage = "opening"
	StageInfo      Stage = "info"
	StageReading   Stage = "reading"
	StageFinishing Stage = "finishing"
	StageComplete  Stage = "complete"
)

// Valid reports whether the stage is one of the known calibration stages.
func (s Stage) Valid() bool {
	switch s {
	case StageStarting, StageOpening, StageInfo, StageReading, StageFinishing, StageComplete:
		return true
	default:
		return false
	}
}

// MessageForStage derives the display message for a calibration stage.
// Unknown stages get a generic message rather than an error; firmware
// has grown stages before and the UI should still show something.
func MessageForStage(s Stage) string {
	switch s {
	case StageStarting:
		return "Calibration starting"
	case StageOpening:
		return "Opening gas channel"
	case StageInfo:
		return "Reading sensor information"
	case StageReading:
		return "Reading calibration gas"
	case StageFinishing:
		return "Finishing calibration"
	case StageComplete:
		return "Calibration complete"
	default:
		return "Calibrating"
	}
}
