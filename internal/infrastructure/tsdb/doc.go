// Package tsdb provides time-series history recording for Chimera Core.
//
// It writes to InfluxDB v2 using the official client's non-blocking
// batched write API.
//
// # Purpose
//
// This package records the history of derived telemetry states:
//   - Calibration stage transitions and progress samples
//   - Operational status changes (flushing, reading)
//   - Free-form instrument message events
//
// The live state lives in the telemetry manager; this sink exists so
// operators can look back at what an instrument was doing and when.
//
// # Usage
//
//	client, err := tsdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, tsdb.ErrDisabled) {
//	    // run without history recording
//	}
//	defer client.Close()
//
//	client.WriteCalibrationSample("CHM-1042", "reading", 42.5)
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are reported via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package tsdb
