// Package api implements the HTTP REST API and WebSocket server for
// Chimera Core.
//
// This package provides:
//   - REST endpoints for instrument catalogue CRUD
//   - Telemetry subscription control and derived-state snapshots
//   - WebSocket hub for real-time calibration/status broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between user interfaces and the instrument
// catalogue + telemetry manager. Subscribing to an instrument opens its
// push channel over MQTT; derived calibration and operation state flows
// back through the telemetry manager's observer hook and is broadcast to
// WebSocket clients.
//
// # Graceful Degradation
//
// The server operates without a telemetry history sink and reports a
// degraded health status when the broker or database is unreachable;
// catalogue reads and WebSocket connections keep working.
package api
