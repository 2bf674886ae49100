package telemetry

import (
	"sync"
	"testing"
	"time"
)

// waitForState polls until the condition on the instrument's calibration
// state holds or the deadline passes.
func waitForState(t *testing.T, tracker *CalibrationTracker, serial string, timeout time.Duration, cond func(CalibrationState, bool) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, ok := tracker.State(serial)
		if cond(state, ok) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, ok := tracker.State(serial)
	t.Fatalf("condition not reached before timeout; state = %+v, ok = %v", state, ok)
}

func TestCalibrationProgress_Clamping(t *testing.T) {
	started := time.Now()
	state := CalibrationState{
		Stage:            StageReading,
		ExpectedDuration: 60 * time.Second,
		StartedAt:        started,
	}

	tests := []struct {
		name string
		now  time.Time
		want float64
	}{
		{"halfway", started.Add(30 * time.Second), 50},
		{"before start clamps to zero", started.Add(-10 * time.Second), 0},
		{"past expected clamps to hundred", started.Add(2 * time.Minute), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.Progress(tt.now); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalibrationProgress_NoExpectedDuration(t *testing.T) {
	now := time.Now()

	running := CalibrationState{Stage: StageReading, StartedAt: now}
	if got := running.Progress(now); got != 0 {
		t.Errorf("Progress() = %v for running stage without duration, want 0", got)
	}

	complete := CalibrationState{Stage: StageComplete, StartedAt: now}
	if got := complete.Progress(now); got != 100 {
		t.Errorf("Progress() = %v for complete stage, want 100", got)
	}
}

func TestCalibrationTracker_StageTransitions(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	tracker.HandleProgress("8", StageStarting, 0)
	state, ok := tracker.State("8")
	if !ok {
		t.Fatal("State() ok = false after HandleProgress")
	}
	if state.Stage != StageStarting {
		t.Errorf("Stage = %q, want %q", state.Stage, StageStarting)
	}
	if state.Message != "Calibration starting" {
		t.Errorf("Message = %q, want %q", state.Message, "Calibration starting")
	}

	tracker.HandleProgress("8", StageReading, 60*time.Second)
	state, _ = tracker.State("8")
	if state.Stage != StageReading {
		t.Errorf("Stage = %q, want %q", state.Stage, StageReading)
	}
	if state.ExpectedDuration != 60*time.Second {
		t.Errorf("ExpectedDuration = %v, want 60s", state.ExpectedDuration)
	}
}

func TestCalibrationTracker_WatchdogForcesComplete(t *testing.T) {
	tracker := NewCalibrationTracker(30*time.Millisecond, time.Minute)
	defer tracker.Shutdown()

	// Finishing with a short expected duration; the confirmation never
	// arrives, so the watchdog must complete the calibration.
	tracker.HandleProgress("8", StageFinishing, 20*time.Millisecond)

	waitForState(t, tracker, "8", time.Second, func(s CalibrationState, ok bool) bool {
		return ok && s.Stage == StageComplete
	})
}

func TestCalibrationTracker_CompleteEntryRemovedAfterLinger(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, 30*time.Millisecond)
	defer tracker.Shutdown()

	tracker.HandleProgress("8", StageComplete, 0)
	if _, ok := tracker.State("8"); !ok {
		t.Fatal("State() ok = false immediately after complete, want visible during linger")
	}

	waitForState(t, tracker, "8", time.Second, func(_ CalibrationState, ok bool) bool {
		return !ok
	})
}

func TestCalibrationTracker_WatchdogCancelledByNewStage(t *testing.T) {
	tracker := NewCalibrationTracker(30*time.Millisecond, time.Minute)
	defer tracker.Shutdown()

	// A stage announcement after finishing means the calibration is not
	// actually finishing; the armed watchdog must not fire.
	tracker.HandleProgress("8", StageFinishing, 10*time.Millisecond)
	tracker.HandleProgress("8", StageReading, time.Minute)

	time.Sleep(100 * time.Millisecond)

	state, ok := tracker.State("8")
	if !ok {
		t.Fatal("State() ok = false, want reading state")
	}
	if state.Stage != StageReading {
		t.Errorf("Stage = %q after cancelled watchdog window, want %q", state.Stage, StageReading)
	}
}

func TestCalibrationTracker_LegacyDoneWinsOverWatchdog(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	tracker.HandleProgress("8", StageFinishing, time.Minute)
	tracker.HandleLegacyDone("8")

	state, ok := tracker.State("8")
	if !ok {
		t.Fatal("State() ok = false after done marker")
	}
	if state.Stage != StageComplete {
		t.Errorf("Stage = %q, want %q", state.Stage, StageComplete)
	}
}

func TestCalibrationTracker_LegacyDoneWithoutPriorState(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	// The done marker can arrive for a calibration we never saw start.
	tracker.HandleLegacyDone("8")

	state, ok := tracker.State("8")
	if !ok {
		t.Fatal("State() ok = false after done marker")
	}
	if state.Stage != StageComplete {
		t.Errorf("Stage = %q, want %q", state.Stage, StageComplete)
	}
	if state.ExpectedDuration != 0 {
		t.Errorf("ExpectedDuration = %v, want 0", state.ExpectedDuration)
	}
}

func TestCalibrationTracker_SeedBackdatesStart(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	startedAt := time.Now().Add(-30 * time.Second)
	tracker.Seed("8", StageReading, 60*time.Second, startedAt)

	state, ok := tracker.State("8")
	if !ok {
		t.Fatal("State() ok = false after Seed")
	}
	if !state.StartedAt.Equal(startedAt) {
		t.Errorf("StartedAt = %v, want %v", state.StartedAt, startedAt)
	}

	p := state.Progress(time.Now())
	if p < 45 || p > 55 {
		t.Errorf("Progress() = %v for half-elapsed seeded stage, want ~50", p)
	}
}

func TestCalibrationTracker_SeedNeverClobbersLiveEntry(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	tracker.HandleProgress("8", StageReading, 60*time.Second)
	tracker.Seed("8", StageStarting, 0, time.Now().Add(-time.Hour))

	state, _ := tracker.State("8")
	if state.Stage != StageReading {
		t.Errorf("Stage = %q after Seed on live entry, want %q", state.Stage, StageReading)
	}
}

func TestCalibrationTracker_SeedFinishingArmsWatchdog(t *testing.T) {
	tracker := NewCalibrationTracker(20*time.Millisecond, time.Minute)
	defer tracker.Shutdown()

	// The finishing stage already ran its expected course before we
	// reconnected; the watchdog window is mostly spent.
	tracker.Seed("8", StageFinishing, 10*time.Millisecond, time.Now().Add(-5*time.Millisecond))

	waitForState(t, tracker, "8", time.Second, func(s CalibrationState, ok bool) bool {
		return ok && s.Stage == StageComplete
	})
}

func TestCalibrationTracker_Clear(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	tracker.HandleProgress("8", StageReading, time.Minute)
	tracker.Clear("8")

	if _, ok := tracker.State("8"); ok {
		t.Error("State() ok = true after Clear, want false")
	}

	// Clearing an unknown serial is a no-op.
	tracker.Clear("unknown")
}

func TestCalibrationTracker_OnChange(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	var mu sync.Mutex
	var serials []string
	tracker.SetOnChange(func(serial string) {
		mu.Lock()
		serials = append(serials, serial)
		mu.Unlock()
	})

	tracker.HandleProgress("8", StageStarting, 0)
	tracker.HandleProgress("8", StageReading, time.Minute)
	tracker.Clear("8")

	mu.Lock()
	defer mu.Unlock()
	if len(serials) != 3 {
		t.Fatalf("onChange fired %d times, want 3", len(serials))
	}
	for _, s := range serials {
		if s != "8" {
			t.Errorf("onChange serial = %q, want %q", s, "8")
		}
	}
}

func TestCalibrationTracker_OnChangeReentrant(t *testing.T) {
	tracker := NewCalibrationTracker(time.Minute, time.Minute)
	defer tracker.Shutdown()

	// Callbacks read back state through the tracker; this must not
	// deadlock.
	tracker.SetOnChange(func(serial string) {
		tracker.State(serial)
	})

	tracker.HandleProgress("8", StageReading, time.Minute)
}

func TestCalibrationTracker_Shutdown(t *testing.T) {
	tracker := NewCalibrationTracker(10*time.Millisecond, 10*time.Millisecond)

	tracker.HandleProgress("8", StageFinishing, 0)
	tracker.HandleProgress("9", StageReading, time.Minute)
	tracker.Shutdown()

	if _, ok := tracker.State("8"); ok {
		t.Error("State(8) ok = true after Shutdown, want false")
	}
	if _, ok := tracker.State("9"); ok {
		t.Error("State(9) ok = true after Shutdown, want false")
	}
}
