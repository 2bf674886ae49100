package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chimeralabs/chimera-core/internal/instrument"
)

// Logger defines the logging interface used by the telemetry components.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PushChannel is an open event stream from one instrument.
// *mqtt.EventChannel satisfies it.
type PushChannel interface {
	Close() error
}

// Transport opens per-instrument push channels. Transport errors after a
// successful open are the transport's own business: it reconnects and
// redelivers without the manager's involvement.
type Transport interface {
	OpenEventChannel(serial string, handler func(event string, payload []byte)) (PushChannel, error)
}

// InstrumentResolver resolves serials to catalogued instruments.
// *instrument.Registry satisfies it.
type InstrumentResolver interface {
	GetBySerial(ctx context.Context, serial string) (*instrument.Instrument, error)
}

// SensorReader reads an instrument's self-reported sensor state.
// *instrument.Client satisfies it.
type SensorReader interface {
	FetchSensorInfo(ctx context.Context, inst *instrument.Instrument) (*instrument.SensorInfo, error)
}

// HistoryRecorder receives derived-state samples for history recording.
// *tsdb.Client satisfies it; recording failures never affect derivation.
type HistoryRecorder interface {
	WriteCalibrationSample(serial string, stage string, progress float64)
	WriteStatusSample(serial string, channel int, state string, progress float64)
}

// ManagerConfig wires a Manager's collaborators. Transport, Instruments,
// Sensors, Timing, Calibration and Status are required; History and
// Logger are optional.
type ManagerConfig struct {
	Transport   Transport
	Instruments InstrumentResolver
	Sensors     SensorReader
	Timing      *TimingConfigCache
	Calibration *CalibrationTracker
	Status      *StatusTracker
	History     HistoryRecorder
	Logger      Logger
}

// Manager owns the per-instrument push channels and the derived
// telemetry state behind them. It upholds one invariant above all:
// at most one open channel per instrument, no matter how many consumers
// subscribe.
//
// Consumers interact through Subscribe/Unsubscribe, the snapshot getters
// and the observer mechanism; the manager exclusively owns all
// per-instrument state and timers.
type Manager struct {
	transport   Transport
	instruments InstrumentResolver
	sensors     SensorReader
	timing      *TimingConfigCache
	calibration *CalibrationTracker
	status      *StatusTracker
	history     HistoryRecorder
	logger      Logger

	mu       sync.Mutex
	channels map[string]PushChannel
	closed   bool

	obsMu     sync.RWMutex
	observers map[string]func(serial string)
}

// NewManager creates a telemetry manager and hooks the trackers' change
// notifications into its observer fan-out and history recording.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	m := &Manager{
		transport:   cfg.Transport,
		instruments: cfg.Instruments,
		sensors:     cfg.Sensors,
		timing:      cfg.Timing,
		calibration: cfg.Calibration,
		status:      cfg.Status,
		history:     cfg.History,
		logger:      logger,
		channels:    make(map[string]PushChannel),
		observers:   make(map[string]func(serial string)),
	}

	m.calibration.SetOnChange(m.calibrationChanged)
	m.status.SetOnChange(m.statusChanged)

	return m
}

// Subscribe ensures a push channel exists for the instrument and that
// its timing configuration is fresh.
//
// The timing refresh happens unconditionally, even when already
// subscribed: timing goes stale and callers expect a refresh on every
// (re-)subscribe. The first subscribe for an instrument also performs a
// one-shot reconciliation read so a calibration already in progress
// shows correct elapsed time immediately.
//
// Subscribe is idempotent; a second call for the same serial refreshes
// timing and returns without touching the existing channel.
func (m *Manager) Subscribe(ctx context.Context, serial string) error {
	if err := instrument.ValidateSerial(serial); err != nil {
		return err
	}

	inst, err := m.instruments.GetBySerial(ctx, serial)
	if err != nil {
		return fmt.Errorf("resolving instrument %s: %w", serial, err)
	}

	// Fail-soft: a failed refresh keeps the previous cached value.
	m.timing.Refresh(ctx, inst)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	_, open := m.channels[serial]
	m.mu.Unlock()
	if open {
		return nil
	}

	// The reconciliation read can take as long as the HTTP client
	// timeout; holding mu across it would stall subscribes for every
	// other instrument. Seed never clobbers a live entry, so running it
	// unlocked is safe even when two first subscribes race.
	m.reconcile(ctx, inst)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		// Shutdown raced the unlocked reconcile; drop whatever it seeded.
		m.calibration.Clear(serial)
		return ErrShutdown
	}
	if _, ok := m.channels[serial]; ok {
		return nil
	}

	ch, err := m.transport.OpenEventChannel(serial, func(event string, payload []byte) {
		m.handleEvent(serial, event, payload)
	})
	if err != nil {
		return fmt.Errorf("opening event channel for %s: %w", serial, err)
	}
	m.channels[serial] = ch

	m.logger.Info("subscribed to instrument events", "serial", serial)
	return nil
}

// Unsubscribe closes and removes the instrument's channel and clears its
// derived state and timers. Calling it for an absent instrument is a
// no-op.
func (m *Manager) Unsubscribe(serial string) {
	m.mu.Lock()
	ch, ok := m.channels[serial]
	if ok {
		delete(m.channels, serial)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := ch.Close(); err != nil {
		m.logger.Warn("closing event channel", "serial", serial, "error", err)
	}

	m.calibration.Clear(serial)
	m.status.Clear(serial)
	m.timing.Forget(serial)

	m.logger.Info("unsubscribed from instrument events", "serial", serial)
}

// Shutdown closes all channels and drops all derived state and timers.
// The manager accepts no new subscriptions afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	channels := m.channels
	m.channels = make(map[string]PushChannel)
	m.mu.Unlock()

	for serial, ch := range channels {
		if err := ch.Close(); err != nil {
			m.logger.Warn("closing event channel", "serial", serial, "error", err)
		}
	}

	m.calibration.Shutdown()
	m.status.Shutdown()
	m.timing.Clear()

	m.logger.Info("telemetry manager shut down", "channels_closed", len(channels))
}

// CalibrationState returns the derived calibration state for an
// instrument. ok is false when no calibration is known.
func (m *Manager) CalibrationState(serial string) (CalibrationState, bool) {
	return m.calibration.State(serial)
}

// OperationStatus returns the derived operation status for an
// instrument. ok is false when no recent status is known.
func (m *Manager) OperationStatus(serial string) (OperationStatus, bool) {
	return m.status.Status(serial)
}

// Subscribed reports whether a push channel is open for the instrument.
func (m *Manager) Subscribed(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[serial]
	return ok
}

// ChannelCount returns the number of open push channels.
func (m *Manager) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Observe registers a change callback and returns an opaque handle for
// Unobserve. The callback receives the serial of the instrument whose
// derived state changed; consumers re-read snapshots as needed.
func (m *Manager) Observe(fn func(serial string)) string {
	id := uuid.New().String()
	m.obsMu.Lock()
	m.observers[id] = fn
	m.obsMu.Unlock()
	return id
}

// Unobserve removes a change callback. Unknown handles are ignored.
func (m *Manager) Unobserve(id string) {
	m.obsMu.Lock()
	delete(m.observers, id)
	m.obsMu.Unlock()
}

// reconcile seeds the calibration tracker from the instrument's
// self-reported state. Read failures are logged and swallowed; the push
// feed will catch us up.
func (m *Manager) reconcile(ctx context.Context, inst *instrument.Instrument) {
	info, err := m.sensors.FetchSensorInfo(ctx, inst)
	if err != nil {
		m.logger.Warn("sensor state reconciliation failed",
			"serial", inst.Serial,
			"error", err,
		)
		return
	}

	cal := info.IsCalibrating
	if cal == nil || cal.Stage == "" {
		return
	}

	// The instrument reports when the stage began on its own clock;
	// seconds since epoch, assumed in sync with ours.
	startedAt := time.Unix(cal.Timestamp, 0)
	expected := time.Duration(cal.TimeMs) * time.Millisecond

	m.calibration.Seed(inst.Serial, Stage(cal.Stage), expected, startedAt)
}

// handleEvent decodes and routes one raw event from a push channel.
// Unclassifiable events are dropped without logging; they are noise on a
// best-effort channel and arrive constantly.
func (m *Manager) handleEvent(serial string, event string, payload []byte) {
	ev, ok := Decode(serial, event, payload)
	if !ok {
		return
	}

	switch e := ev.(type) {
	case CalibrationEvent:
		m.calibration.HandleProgress(e.Serial, e.Stage, e.ExpectedDuration)
	case StatusEvent:
		m.status.HandleStatus(e.Serial, e.Kind, e.Channel)
	case LegacyDoneEvent:
		m.calibration.HandleLegacyDone(e.Serial)
	}
}

// calibrationChanged records history and fans out to observers.
func (m *Manager) calibrationChanged(serial string) {
	if m.history != nil {
		if state, ok := m.calibration.State(serial); ok {
			m.history.WriteCalibrationSample(serial, string(state.Stage), state.Progress(time.Now()))
		}
	}
	m.notifyObservers(serial)
}

// statusChanged records history and fans out to observers.
func (m *Manager) statusChanged(serial string) {
	if m.history != nil {
		if status, ok := m.status.Status(serial); ok {
			m.history.WriteStatusSample(serial, status.Channel, string(status.Kind), status.Progress(time.Now()))
		}
	}
	m.notifyObservers(serial)
}

// notifyObservers invokes all registered callbacks outside any manager
// or tracker lock.
func (m *Manager) notifyObservers(serial string) {
	m.obsMu.RLock()
	callbacks := make([]func(string), 0, len(m.observers))
	for _, fn := range m.observers {
		callbacks = append(callbacks, fn)
	}
	m.obsMu.RUnlock()

	for _, fn := range callbacks {
		fn(serial)
	}
}
