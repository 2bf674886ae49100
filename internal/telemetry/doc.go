// Package telemetry derives live calibration and operation state from
// instrument push events.
//
// The Manager owns one push channel per subscribed instrument and the
// state derived from it. Raw named events are classified by the decoder
// into a closed set of typed events and routed to two trackers:
//
//   - CalibrationTracker runs the calibration stage state machine, with
//     a watchdog that force-completes a calibration whose confirmation
//     never arrives. The instrument's "done" signal is not reliable;
//     the watchdog is the core resilience mechanism here.
//   - StatusTracker keeps the transient flushing/reading operation
//     record, expiring it when the estimated phase duration plus a
//     grace period passes without a refreshing event.
//
// Phase durations are estimates from the TimingConfigCache, refreshed on
// every subscribe and fail-soft on fetch errors.
//
// Consumers pull snapshots (CalibrationState/OperationStatus) or
// register an observer callback to re-render on change; any number of
// consumers share the single channel per instrument.
//
// # Data flow
//
//	subscribe(serial)
//	  → timing refresh → reconciliation read → open push channel
//	push event → decoder → tracker → derived state → observers
package telemetry
