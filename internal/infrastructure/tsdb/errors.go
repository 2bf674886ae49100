package tsdb

import "errors"

// Sentinel errors for the telemetry history sink. Connect and the write
// path wrap these with detail; callers match them with errors.Is.
var (
	// ErrNotConnected means the client has no live connection, either
	// because Connect never succeeded or Close was already called.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed means the health probe during Connect failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed means a history point could not be written.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled means the history sink is switched off in the
	// configuration; callers run without history recording.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
