package telemetry

import "errors"

// Sentinel errors for the telemetry subsystem.
var (
	// ErrShutdown is returned when subscribing after the manager has
	// been shut down.
	ErrShutdown = errors.New("telemetry: manager shut down")
)
