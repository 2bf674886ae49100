// Package instrument manages the catalogue of networked laboratory
// instruments and direct reads from their embedded HTTP servers.
//
// The catalogue (Repository + Registry) maps an instrument serial to the
// network details needed to talk to it: the host/port of its embedded
// HTTP server and, implicitly, its MQTT event topics. The Client reads
// the two instrument endpoints the telemetry subsystem depends on:
// timing configuration and self-reported sensor state.
//
// # Architecture
//
//	API handlers ──> Registry ──> Repository (SQLite)
//	                    │
//	telemetry manager ──┴──> Client ──> instrument embedded HTTP server
//
// The Registry caches instruments in memory; reads hit the cache and
// CRUD operations keep it in sync with the database.
package instrument
