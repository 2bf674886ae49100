package instrument

import (
	"time"

	"github.com/google/uuid"
)

// Instrument is a catalogued laboratory device. The serial is the stable
// identifier used on the wire (MQTT topics, instrument HTTP paths); the
// ID exists for API consumers that want an opaque handle.
type Instrument struct {
	ID        string    `json:"id"`
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateID returns a new unique instrument identifier.
func GenerateID() string {
	return uuid.New().String()
}

// Clone returns a copy of the instrument.
//
// Instrument holds no reference types, so a value copy is a full copy;
// the method exists so the registry cache can hand out copies the same
// way everywhere.
func (i *Instrument) Clone() *Instrument {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// TimingInfo is the per-instrument timing configuration read from the
// instrument's embedded HTTP server. Durations are milliseconds.
type TimingInfo struct {
	FlushTimeMs    int64   `json:"flush_time_ms"`
	ChannelTimesMs []int64 `json:"channel_times_ms"`
}

// CalibrationInfo describes an in-progress calibration reported by the
// instrument's sensor_info endpoint. Timestamp is seconds since epoch on
// the instrument's clock.
type CalibrationInfo struct {
	Stage     string `json:"stage"`
	TimeMs    int64  `json:"time_ms"`
	Timestamp int64  `json:"timestamp"`
}

// SensorInfo is the instrument's self-reported sensor state. A nil
// IsCalibrating means no calibration is running.
type SensorInfo struct {
	IsCalibrating *CalibrationInfo `json:"is_calibrating"`
}
