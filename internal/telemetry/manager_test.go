package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chimeralabs/chimera-core/internal/instrument"
)

// mockChannel is a PushChannel recording closes.
type mockChannel struct {
	mu     sync.Mutex
	closed int
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *mockChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mockTransport captures opened channels and their handlers so tests can
// inject events as if the instrument pushed them.
type mockTransport struct {
	mu       sync.Mutex
	opens    int
	err      error
	channels map[string]*mockChannel
	handlers map[string]func(event string, payload []byte)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		channels: make(map[string]*mockChannel),
		handlers: make(map[string]func(event string, payload []byte)),
	}
}

func (m *mockTransport) OpenEventChannel(serial string, handler func(event string, payload []byte)) (PushChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens++
	if m.err != nil {
		return nil, m.err
	}

	ch := &mockChannel{}
	m.channels[serial] = ch
	m.handlers[serial] = handler
	return ch, nil
}

func (m *mockTransport) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// push delivers a raw event through the handler captured at open time.
func (m *mockTransport) push(t *testing.T, serial, event string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[serial]
	m.mu.Unlock()
	if handler == nil {
		t.Fatalf("no open channel for %s", serial)
	}
	handler(event, payload)
}

// mockResolver serves instruments from a fixed map.
type mockResolver struct {
	instruments map[string]*instrument.Instrument
}

func (m *mockResolver) GetBySerial(_ context.Context, serial string) (*instrument.Instrument, error) {
	inst, ok := m.instruments[serial]
	if !ok {
		return nil, instrument.ErrNotFound
	}
	return inst.Clone(), nil
}

// mockSensors returns canned sensor info per serial. When gate is set,
// fetches for gateSerial block until the gate closes.
type mockSensors struct {
	mu         sync.Mutex
	info       map[string]*instrument.SensorInfo
	err        error
	gate       chan struct{}
	gateSerial string
}

func (m *mockSensors) FetchSensorInfo(_ context.Context, inst *instrument.Instrument) (*instrument.SensorInfo, error) {
	m.mu.Lock()
	gate := m.gate
	gated := m.gateSerial == inst.Serial
	err := m.err
	info := m.info[inst.Serial]
	m.mu.Unlock()

	if gate != nil && gated {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if info != nil {
		return info, nil
	}
	return &instrument.SensorInfo{}, nil
}

// mockHistory records written samples.
type mockHistory struct {
	mu          sync.Mutex
	calibration int
	status      int
	lastStage   string
	lastState   string
}

func (m *mockHistory) WriteCalibrationSample(serial string, stage string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration++
	m.lastStage = stage
}

func (m *mockHistory) WriteStatusSample(serial string, channel int, state string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status++
	m.lastState = state
}

// managerFixture bundles a manager with its mocks.
type managerFixture struct {
	manager   *Manager
	transport *mockTransport
	fetcher   *mockTimingFetcher
	sensors   *mockSensors
	history   *mockHistory
}

func newManagerFixture(serials ...string) *managerFixture {
	instruments := make(map[string]*instrument.Instrument, len(serials))
	for _, serial := range serials {
		instruments[serial] = timingTestInstrument(serial)
	}

	fetcher := &mockTimingFetcher{}
	fetcher.set(&instrument.TimingInfo{
		FlushTimeMs:    30000,
		ChannelTimesMs: []int64{60000, 90000},
	}, nil)

	timing := NewTimingConfigCache(fetcher, TimingDefaults{})
	transport := newMockTransport()
	sensors := &mockSensors{info: make(map[string]*instrument.SensorInfo)}
	history := &mockHistory{}

	manager := NewManager(ManagerConfig{
		Transport:   transport,
		Instruments: &mockResolver{instruments: instruments},
		Sensors:     sensors,
		Timing:      timing,
		Calibration: NewCalibrationTracker(time.Minute, time.Minute),
		Status:      NewStatusTracker(timing, time.Minute),
		History:     history,
	})

	return &managerFixture{
		manager:   manager,
		transport: transport,
		fetcher:   fetcher,
		sensors:   sensors,
		history:   history,
	}
}

func TestManagerSubscribe(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !f.manager.Subscribed("8") {
		t.Error("Subscribed() = false, want true")
	}
	if n := f.manager.ChannelCount(); n != 1 {
		t.Errorf("ChannelCount() = %d, want 1", n)
	}
	if n := f.transport.openCount(); n != 1 {
		t.Errorf("transport opens = %d, want 1", n)
	}
}

func TestManagerSubscribe_InvalidSerial(t *testing.T) {
	f := newManagerFixture()
	defer f.manager.Shutdown()

	err := f.manager.Subscribe(context.Background(), "bad/serial")
	if !errors.Is(err, instrument.ErrInvalidSerial) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidSerial", err)
	}
	if n := f.transport.openCount(); n != 0 {
		t.Errorf("transport opens = %d, want 0", n)
	}
}

func TestManagerSubscribe_UnknownInstrument(t *testing.T) {
	f := newManagerFixture()
	defer f.manager.Shutdown()

	err := f.manager.Subscribe(context.Background(), "999")
	if !errors.Is(err, instrument.ErrNotFound) {
		t.Errorf("Subscribe() error = %v, want ErrNotFound", err)
	}
}

func TestManagerSubscribe_IdempotentButRefreshesTiming(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	for i := 0; i < 3; i++ {
		if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
			t.Fatalf("Subscribe() #%d error = %v", i+1, err)
		}
	}

	if n := f.transport.openCount(); n != 1 {
		t.Errorf("transport opens = %d, want exactly 1", n)
	}
	// Timing is refreshed on every subscribe, open channel or not.
	if n := f.fetcher.callCount(); n != 3 {
		t.Errorf("timing fetches = %d, want 3", n)
	}
}

func TestManagerSubscribe_ConcurrentOpensOneChannel(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
				t.Errorf("Subscribe() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.transport.openCount(); n != 1 {
		t.Errorf("transport opens = %d under concurrent subscribes, want 1", n)
	}
	if n := f.manager.ChannelCount(); n != 1 {
		t.Errorf("ChannelCount() = %d, want 1", n)
	}
}

func TestManagerSubscribe_TransportError(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	f.transport.mu.Lock()
	f.transport.err = errors.New("broker unavailable")
	f.transport.mu.Unlock()

	if err := f.manager.Subscribe(context.Background(), "8"); err == nil {
		t.Fatal("Subscribe() error = nil, want transport error")
	}
	if f.manager.Subscribed("8") {
		t.Error("Subscribed() = true after failed open, want false")
	}

	// The failure is not sticky; a later subscribe succeeds.
	f.transport.mu.Lock()
	f.transport.err = nil
	f.transport.mu.Unlock()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() after recovery error = %v", err)
	}
}

func TestManagerSubscribe_TimingFetchFailureIsSoft(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	f.fetcher.set(nil, errors.New("instrument unreachable"))

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v, want nil despite timing failure", err)
	}
	if !f.manager.Subscribed("8") {
		t.Error("Subscribed() = false, want true")
	}
}

func TestManagerSubscribe_ReconcilesInProgressCalibration(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	startedAt := time.Now().Add(-20 * time.Second)
	f.sensors.info["8"] = &instrument.SensorInfo{
		IsCalibrating: &instrument.CalibrationInfo{
			Stage:     "reading",
			TimeMs:    60000,
			Timestamp: startedAt.Unix(),
		},
	}

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	state, ok := f.manager.CalibrationState("8")
	if !ok {
		t.Fatal("CalibrationState() ok = false, want seeded state")
	}
	if state.Stage != StageReading {
		t.Errorf("Stage = %q, want %q", state.Stage, StageReading)
	}

	// Elapsed time carries over from before the subscribe.
	p := state.Progress(time.Now())
	if p < 25 || p > 45 {
		t.Errorf("Progress() = %v for calibration 20s into 60s, want ~33", p)
	}
}

func TestManagerSubscribe_ReconciliationFailureIsSoft(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	f.sensors.mu.Lock()
	f.sensors.err = errors.New("read timeout")
	f.sensors.mu.Unlock()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v, want nil despite reconciliation failure", err)
	}
	if _, ok := f.manager.CalibrationState("8"); ok {
		t.Error("CalibrationState() ok = true, want no seeded state")
	}
}

func TestManagerSubscribe_SlowReconciliationDoesNotBlockOthers(t *testing.T) {
	f := newManagerFixture("8", "9")
	defer f.manager.Shutdown()

	gate := make(chan struct{})
	f.sensors.mu.Lock()
	f.sensors.gate = gate
	f.sensors.gateSerial = "8"
	f.sensors.mu.Unlock()

	slow := make(chan error, 1)
	go func() {
		slow <- f.manager.Subscribe(context.Background(), "8")
	}()

	// Let the slow subscribe reach its reconciliation read.
	time.Sleep(20 * time.Millisecond)

	fast := make(chan error, 1)
	go func() {
		fast <- f.manager.Subscribe(context.Background(), "9")
	}()

	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("Subscribe(9) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscribe(9) stuck behind instrument 8's reconciliation read")
	}

	close(gate)
	if err := <-slow; err != nil {
		t.Fatalf("Subscribe(8) error = %v", err)
	}
	if n := f.manager.ChannelCount(); n != 2 {
		t.Errorf("ChannelCount() = %d, want 2", n)
	}
}

func TestManagerEventRouting(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.transport.push(t, "8", EventCalibrationProgress, []byte(`{"stage": "opening", "time_ms": 90000}`))

	state, ok := f.manager.CalibrationState("8")
	if !ok {
		t.Fatal("CalibrationState() ok = false after progress event")
	}
	if state.Stage != StageOpening {
		t.Errorf("Stage = %q, want %q", state.Stage, StageOpening)
	}

	f.transport.push(t, "8", EventChimeraStatus, []byte(`{"device_id": 8, "status": "reading", "channel": 2}`))

	status, ok := f.manager.OperationStatus("8")
	if !ok {
		t.Fatal("OperationStatus() ok = false after status event")
	}
	if status.Kind != OperationReading || status.Channel != 2 {
		t.Errorf("status = %+v, want reading on channel 2", status)
	}
	// Channel 2 duration comes from the refreshed timing config.
	if status.PhaseDuration != 90*time.Second {
		t.Errorf("PhaseDuration = %v, want 90s from timing config", status.PhaseDuration)
	}

	f.transport.push(t, "8", EventMessage, []byte(`{"message": "Zero Calibration Done, storing results"}`))

	state, ok = f.manager.CalibrationState("8")
	if !ok {
		t.Fatal("CalibrationState() ok = false after done marker")
	}
	if state.Stage != StageComplete {
		t.Errorf("Stage = %q after done marker, want %q", state.Stage, StageComplete)
	}
}

func TestManagerEventRouting_CrossDeviceFiltered(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.transport.push(t, "8", EventChimeraStatus, []byte(`{"device_id": 7, "status": "flushing"}`))

	if _, ok := f.manager.OperationStatus("8"); ok {
		t.Error("OperationStatus() ok = true for another device's event, want filtered")
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	f.transport.push(t, "8", EventCalibrationProgress, []byte(`{"stage": "reading", "time_ms": 60000}`))
	f.transport.push(t, "8", EventChimeraStatus, []byte(`{"status": "flushing"}`))

	f.manager.Unsubscribe("8")

	if f.manager.Subscribed("8") {
		t.Error("Subscribed() = true after Unsubscribe, want false")
	}
	if _, ok := f.manager.CalibrationState("8"); ok {
		t.Error("CalibrationState() ok = true after Unsubscribe, want cleared")
	}
	if _, ok := f.manager.OperationStatus("8"); ok {
		t.Error("OperationStatus() ok = true after Unsubscribe, want cleared")
	}

	f.transport.mu.Lock()
	ch := f.transport.channels["8"]
	f.transport.mu.Unlock()
	if n := ch.closeCount(); n != 1 {
		t.Errorf("channel closed %d times, want 1", n)
	}

	// Unsubscribing again is a no-op, not a double close.
	f.manager.Unsubscribe("8")
	if n := ch.closeCount(); n != 1 {
		t.Errorf("channel closed %d times after repeat Unsubscribe, want 1", n)
	}
}

func TestManagerShutdown(t *testing.T) {
	f := newManagerFixture("8", "9")

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe(8) error = %v", err)
	}
	if err := f.manager.Subscribe(context.Background(), "9"); err != nil {
		t.Fatalf("Subscribe(9) error = %v", err)
	}

	f.manager.Shutdown()

	if n := f.manager.ChannelCount(); n != 0 {
		t.Errorf("ChannelCount() = %d after Shutdown, want 0", n)
	}
	for _, serial := range []string{"8", "9"} {
		f.transport.mu.Lock()
		ch := f.transport.channels[serial]
		f.transport.mu.Unlock()
		if n := ch.closeCount(); n != 1 {
			t.Errorf("channel %s closed %d times, want 1", serial, n)
		}
	}

	if err := f.manager.Subscribe(context.Background(), "8"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Subscribe() after Shutdown error = %v, want ErrShutdown", err)
	}
}

func TestManagerObservers(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var mu sync.Mutex
	notified := 0
	id := f.manager.Observe(func(serial string) {
		mu.Lock()
		notified++
		mu.Unlock()
		// Observers re-read snapshots; this must not deadlock.
		f.manager.CalibrationState(serial)
	})

	f.transport.push(t, "8", EventCalibrationProgress, []byte(`{"stage": "reading", "time_ms": 60000}`))

	mu.Lock()
	after := notified
	mu.Unlock()
	if after != 1 {
		t.Fatalf("observer notified %d times, want 1", after)
	}

	f.manager.Unobserve(id)
	f.transport.push(t, "8", EventCalibrationProgress, []byte(`{"stage": "finishing", "time_ms": 60000}`))

	mu.Lock()
	final := notified
	mu.Unlock()
	if final != after {
		t.Errorf("observer notified after Unobserve (%d -> %d)", after, final)
	}
}

func TestManagerHistoryRecording(t *testing.T) {
	f := newManagerFixture("8")
	defer f.manager.Shutdown()

	if err := f.manager.Subscribe(context.Background(), "8"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.transport.push(t, "8", EventCalibrationProgress, []byte(`{"stage": "reading", "time_ms": 60000}`))
	f.transport.push(t, "8", EventChimeraStatus, []byte(`{"status": "flushing"}`))

	f.history.mu.Lock()
	defer f.history.mu.Unlock()
	if f.history.calibration != 1 {
		t.Errorf("calibration samples = %d, want 1", f.history.calibration)
	}
	if f.history.lastStage != string(StageReading) {
		t.Errorf("last stage sample = %q, want %q", f.history.lastStage, StageReading)
	}
	if f.history.status != 1 {
		t.Errorf("status samples = %d, want 1", f.history.status)
	}
	if f.history.lastState != string(OperationFlushing) {
		t.Errorf("last state sample = %q, want %q", f.history.lastState, OperationFlushing)
	}
}
