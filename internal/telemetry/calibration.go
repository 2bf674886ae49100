package telemetry

import (
	"sync"
	"time"
)

// Default timing for the calibration self-healing mechanism.
const (
	// DefaultWatchdogGrace is added to a finishing stage's expected
	// duration before the watchdog force-completes the calibration.
	DefaultWatchdogGrace = 2 * time.Second

	// DefaultCompletedLinger is how long a complete calibration stays
	// visible before its entry is removed.
	DefaultCompletedLinger = 2 * time.Second
)

// CalibrationState is the derived calibration state for one instrument.
// Absence of a state means "not calibrating".
type CalibrationState struct {
	Stage            Stage         `json:"stage"`
	Message          string        `json:"message"`
	ExpectedDuration time.Duration `json:"expected_duration_ms"`
	StartedAt        time.Time     `json:"started_at"`
}

// Progress returns the bounded progress percentage for the current
// stage. With no expected duration there is nothing to divide by; the
// value is pinned to 100 for complete and 0 otherwise, and the stage
// message still carries the display meaning.
func (s CalibrationState) Progress(now time.Time) float64 {
	if s.ExpectedDuration <= 0 {
		if s.Stage == StageComplete {
			return 100
		}
		return 0
	}

	p := 100 * float64(now.Sub(s.StartedAt)) / float64(s.ExpectedDuration)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// calibrationEntry is the tracker's internal per-instrument record. The
// generation counter makes fired-but-not-yet-run timer callbacks no-ops
// after any newer transition.
type calibrationEntry struct {
	state    CalibrationState
	watchdog *time.Timer
	removal  *time.Timer
	gen      uint64
}

// CalibrationTracker maintains the calibration state machine per
// instrument: stage transitions driven by events, a watchdog that
// force-completes a finishing stage whose confirmation never arrives,
// and delayed removal after completion.
//
// All methods are safe for concurrent use; state transitions for a given
// instrument are atomic with respect to each other and to timer fires.
type CalibrationTracker struct {
	watchdogGrace   time.Duration
	completedLinger time.Duration
	logger          Logger
	onChange        func(serial string)

	mu      sync.Mutex
	entries map[string]*calibrationEntry
}

// NewCalibrationTracker creates a calibration tracker. Non-positive
// durations select the defaults.
func NewCalibrationTracker(watchdogGrace, completedLinger time.Duration) *CalibrationTracker {
	if watchdogGrace <= 0 {
		watchdogGrace = DefaultWatchdogGrace
	}
	if completedLinger <= 0 {
		completedLinger = DefaultCompletedLinger
	}
	return &CalibrationTracker{
		watchdogGrace:   watchdogGrace,
		completedLinger: completedLinger,
		logger:          noopLogger{},
		entries:         make(map[string]*calibrationEntry),
	}
}

// SetLogger sets the logger for the tracker.
func (t *CalibrationTracker) SetLogger(logger Logger) {
	t.mu.Lock()
	t.logger = logger
	t.mu.Unlock()
}

// SetOnChange registers a callback invoked after every state change,
// including removals. Set it before events start flowing.
func (t *CalibrationTracker) SetOnChange(fn func(serial string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// HandleProgress applies a calibration stage announcement. Entering
// finishing arms the watchdog; any other stage cancels a pending one, so
// a stale watchdog can never fire after a newer transition. Entering
// complete schedules removal after the linger period.
func (t *CalibrationTracker) HandleProgress(serial string, stage Stage, expected time.Duration) {
	t.mu.Lock()

	e := t.entries[serial]
	if e == nil {
		e = &calibrationEntry{}
		t.entries[serial] = e
	}

	e.gen++
	t.cancelTimersLocked(e)

	e.state = CalibrationState{
		Stage:            stage,
		Message:          MessageForStage(stage),
		ExpectedDuration: expected,
		StartedAt:        time.Now(),
	}

	switch stage {
	case StageFinishing:
		t.armWatchdogLocked(serial, e, expected+t.watchdogGrace)
	case StageComplete:
		t.armRemovalLocked(serial, e, t.completedLinger)
	}

	t.logger.Debug("calibration stage",
		"serial", serial,
		"stage", stage,
		"expected", expected,
	)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// HandleLegacyDone applies an explicit completion marker. The explicit
// signal wins over the inferred one: any pending watchdog is cancelled
// before the transition to complete.
func (t *CalibrationTracker) HandleLegacyDone(serial string) {
	t.mu.Lock()

	e := t.entries[serial]
	if e == nil {
		e = &calibrationEntry{}
		t.entries[serial] = e
	}

	e.gen++
	t.cancelTimersLocked(e)

	e.state = CalibrationState{
		Stage:            StageComplete,
		Message:          MessageForStage(StageComplete),
		ExpectedDuration: 0,
		StartedAt:        time.Now(),
	}
	t.armRemovalLocked(serial, e, t.completedLinger)

	t.logger.Debug("calibration done marker", "serial", serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// Seed installs a synthesized state for a calibration discovered already
// in progress, with StartedAt back-dated so elapsed time is correct
// immediately. A live entry is never clobbered; the push feed is fresher
// than a reconciliation read.
func (t *CalibrationTracker) Seed(serial string, stage Stage, expected time.Duration, startedAt time.Time) {
	t.mu.Lock()

	if _, exists := t.entries[serial]; exists {
		t.mu.Unlock()
		return
	}

	e := &calibrationEntry{
		state: CalibrationState{
			Stage:            stage,
			Message:          MessageForStage(stage),
			ExpectedDuration: expected,
			StartedAt:        startedAt,
		},
	}
	t.entries[serial] = e

	switch stage {
	case StageFinishing:
		remaining := time.Until(startedAt.Add(expected + t.watchdogGrace))
		t.armWatchdogLocked(serial, e, remaining)
	case StageComplete:
		t.armRemovalLocked(serial, e, t.completedLinger)
	}

	t.logger.Info("seeded in-progress calibration",
		"serial", serial,
		"stage", stage,
		"started_at", startedAt,
	)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// State returns a snapshot of the instrument's calibration state.
func (t *CalibrationTracker) State(serial string) (CalibrationState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[serial]
	if !ok {
		return CalibrationState{}, false
	}
	return e.state, true
}

// Clear removes an instrument's state and cancels its timers.
func (t *CalibrationTracker) Clear(serial string) {
	t.mu.Lock()

	e, ok := t.entries[serial]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.cancelTimersLocked(e)
	delete(t.entries, serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// Shutdown cancels all timers and drops all state.
func (t *CalibrationTracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		t.cancelTimersLocked(e)
	}
	t.entries = make(map[string]*calibrationEntry)
}

// armWatchdogLocked arms the force-complete watchdog. Caller holds mu
// and has already cancelled any previous timers.
func (t *CalibrationTracker) armWatchdogLocked(serial string, e *calibrationEntry, d time.Duration) {
	gen := e.gen
	e.watchdog = time.AfterFunc(d, func() {
		t.watchdogFire(serial, gen)
	})
}

// armRemovalLocked schedules removal of a complete entry.
func (t *CalibrationTracker) armRemovalLocked(serial string, e *calibrationEntry, d time.Duration) {
	gen := e.gen
	e.removal = time.AfterFunc(d, func() {
		t.removalFire(serial, gen)
	})
}

// watchdogFire transitions a finishing calibration to complete when the
// instrument never confirmed completion.
func (t *CalibrationTracker) watchdogFire(serial string, gen uint64) {
	t.mu.Lock()

	e, ok := t.entries[serial]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}

	e.gen++
	e.watchdog = nil
	e.state = CalibrationState{
		Stage:            StageComplete,
		Message:          MessageForStage(StageComplete),
		ExpectedDuration: 0,
		StartedAt:        time.Now(),
	}
	t.armRemovalLocked(serial, e, t.completedLinger)

	t.logger.Info("watchdog forced calibration complete", "serial", serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// removalFire drops a complete entry after the linger period.
func (t *CalibrationTracker) removalFire(serial string, gen uint64) {
	t.mu.Lock()

	e, ok := t.entries[serial]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, serial)

	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(serial)
	}
}

// cancelTimersLocked stops any pending watchdog and removal timers.
// Caller holds mu; the generation bump by the caller makes an
// already-fired callback a no-op.
func (t *CalibrationTracker) cancelTimersLocked(e *calibrationEntry) {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
	if e.removal != nil {
		e.removal.Stop()
		e.removal = nil
	}
}
