package telemetry

import (
	"sync"
	"time"
)

// DefaultStatusGrace is added to a phase's estimated duration before the
// operation status expires. The instrument protocol has no explicit
// status-clear event; expiry is the defense against a missed end of
// phase.
const DefaultStatusGrace = 5 * time.Second

// OperationStatus is the instrument's current non-calibration activity.
// Channel is 0 when the phase is not channel-specific. Absence of a
// status means the instrument reported nothing recently.
type OperationStatus struct {
	Kind           OperationKind `json:"kind"`
	Channel        int           `json:"channel,omitempty"`
	PhaseStartedAt time.Time     `json:"phase_started_at"`
	PhaseDuration  time.Duration `json:"phase_duration_ms"`
}

// Progress returns the bounded progress percentage through the
// estimated phase duration.
func (s OperationStatus) Progress(now time.Time) float64 {
	if s.PhaseDuration <= 0 {
		return 0
	}

	p := 100 * float64(now.Sub(s.PhaseStartedAt)) / float64(s.PhaseDuration)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// statusEntry is the tracker's internal per-instrument record.
type statusEntry struct {
	status OperationStatus
	expiry *time.Timer
	gen    uint64
}

// StatusTracker maintains the transient operation record per instrument.
// Each status event replaces the record wholesale and re-arms an expiry
// timer for the estimated phase duration plus a grace period.
//
// All methods are safe for concurrent use.
type StatusTracker struct {
	timing   *TimingConfigCache
	grace    time.Duration
	logger   Logger
	onChange func(serial string)

	mu      sync.Mutex
	entries map[string]*statusEntry
}

// NewStatusTracker creates a status tracker. Phase durations are
// estimated through the timing cache; a non-positive grace selects the
// default.
func NewStatusTracker(timing *TimingConfigCache, grace time.Duration) *StatusTracker {
	if grace <= 0 {
		grace = DefaultStatusGrace
	}
	return &StatusTracker{
		timing:  timing,
		grace:   grace,
		logger:  noopLogger{},
		entries: make(map[string]*statusEntry),
	}
}

// SetLogger sets the logger for the tracker.
func (t *StatusTracker) SetLogger(logger Logger) {
	t.mu.Lock()
	t.logger = logger
	t.mu.Unlock()
}

// SetOnChange registers a callback invoked after every state change,
// including expiries. Set it before events start flowing.
func (t *StatusTracker) SetOnChange(fn func(serial string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// HandleStatus applies a status event: the operation record is replaced
// wholesale and the expiry timer re-armed, cancelling any previous one
// first.
func (t *StatusTracker) HandleStatus(serial string, kind OperationKind, channel int) {
	var duration time.Duration
	switch kind {
	case OperationFlushing:
		duration = t.timing.FlushDuration(serial)
	case OperationReading:
		duration = t.timing.ChannelOpenDuration(serial, channel)
	default:
		return
	}

	t.mu.Lock()

	e := t.entries[serial]
	if e == nil {
		e = &statusEntry{}
		t.entries[serial] = e
	}

	e.gen++
	if e.expiry != nil {
		e.expiry.Stop()
	}

	e.status = OperationStatus{
		Kind:           kind,
		Channel:        channel,
		PhaseStartedAt: time.Now(),
		PhaseDuration:  duration,
	}

	gen := e.gen
	e.expiry = time.AfterFunc(duration+t.grace, func() {
		t.expiryFire(serial, gen)
	})

	t.logger.Debug("operation status",
		"serial", serial,
		"kind", kind,
		"channel", channel,
		"duration", duration,
	)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// Status returns a snapshot of the instrument's operation status.
func (t *StatusTracker) Status(serial string) (OperationStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[serial]
	if !ok {
		return OperationStatus{}, false
	}
	return e.status, true
}

// Clear removes an instrument's status and cancels its expiry timer.
func (t *StatusTracker) Clear(serial string) {
	t.mu.Lock()

	e, ok := t.entries[serial]
	if !ok {
		t.mu.Unlock()
		return
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	delete(t.entries, serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// Shutdown cancels all timers and drops all state.
func (t *StatusTracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.expiry != nil {
			e.expiry.Stop()
		}
	}
	t.entries = make(map[string]*statusEntry)
}

// expiryFire removes a status whose phase ran out without a refreshing
// event.
func (t *StatusTracker) expiryFire(serial string, gen uint64) {
	t.mu.Lock()

	e, ok := t.entries[serial]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, serial)

	t.logger.Debug("operation status expired", "serial", serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}
