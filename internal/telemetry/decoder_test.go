package telemetry

import (
	"testing"
	"time"
)

func TestDecode_CalibrationProgress(t *testing.T) {
	ev, ok := Decode("8", EventCalibrationProgress, []byte(`{"stage": "reading", "time_ms": 60000}`))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}

	cal, isCal := ev.(CalibrationEvent)
	if !isCal {
		t.Fatalf("Decode() returned %T, want CalibrationEvent", ev)
	}
	if cal.Serial != "8" {
		t.Errorf("Serial = %q, want %q", cal.Serial, "8")
	}
	if cal.Stage != StageReading {
		t.Errorf("Stage = %q, want %q", cal.Stage, StageReading)
	}
	if cal.ExpectedDuration != 60*time.Second {
		t.Errorf("ExpectedDuration = %v, want 60s", cal.ExpectedDuration)
	}
}

func TestDecode_CalibrationProgressDropped(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"stage": `},
		{"missing stage", `{"time_ms": 60000}`},
		{"negative duration", `{"stage": "reading", "time_ms": -5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Decode("8", EventCalibrationProgress, []byte(tt.payload)); ok {
				t.Error("Decode() ok = true, want dropped")
			}
		})
	}
}

func TestDecode_Status(t *testing.T) {
	ev, ok := Decode("8", EventChimeraStatus, []byte(`{"device_id": 8, "status": "reading", "channel": 3}`))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}

	st, isStatus := ev.(StatusEvent)
	if !isStatus {
		t.Fatalf("Decode() returned %T, want StatusEvent", ev)
	}
	if st.Kind != OperationReading {
		t.Errorf("Kind = %q, want %q", st.Kind, OperationReading)
	}
	if st.Channel != 3 {
		t.Errorf("Channel = %d, want 3", st.Channel)
	}
}

func TestDecode_StatusCrossDeviceFilter(t *testing.T) {
	// Events leaking from device 7 must not decode for a channel owned
	// by device 8.
	if _, ok := Decode("8", EventChimeraStatus, []byte(`{"device_id": 7, "status": "flushing"}`)); ok {
		t.Error("Decode() accepted an event for a different device")
	}
}

func TestDecode_StatusDeviceIDForms(t *testing.T) {
	tests := []struct {
		name    string
		serial  string
		payload string
		wantOk  bool
	}{
		{"numeric match", "8", `{"device_id": 8, "status": "flushing"}`, true},
		{"string match", "8", `{"device_id": "8", "status": "flushing"}`, true},
		{"numeric equality across forms", "7", `{"device_id": "007", "status": "flushing"}`, true},
		{"absent device_id accepted", "8", `{"status": "flushing"}`, true},
		{"null device_id accepted", "8", `{"device_id": null, "status": "flushing"}`, true},
		{"string mismatch", "CHM-8", `{"device_id": "CHM-7", "status": "flushing"}`, false},
		{"string exact match", "CHM-8", `{"device_id": "CHM-8", "status": "flushing"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Decode(tt.serial, EventChimeraStatus, []byte(tt.payload))
			if ok != tt.wantOk {
				t.Errorf("Decode() ok = %v, want %v", ok, tt.wantOk)
			}
		})
	}
}

func TestDecode_StatusChannelAbsent(t *testing.T) {
	ev, ok := Decode("8", EventChimeraStatus, []byte(`{"status": "flushing"}`))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if st := ev.(StatusEvent); st.Channel != 0 {
		t.Errorf("Channel = %d, want 0 for absent channel", st.Channel)
	}
}

func TestDecode_StatusUnknownKindDropped(t *testing.T) {
	if _, ok := Decode("8", EventChimeraStatus, []byte(`{"status": "rebooting"}`)); ok {
		t.Error("Decode() accepted unknown status kind")
	}
}

func TestDecode_LegacyDoneJSON(t *testing.T) {
	ev, ok := Decode("8", EventMessage, []byte(`{"message": "Zero Calibration Done, storing results"}`))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if _, isDone := ev.(LegacyDoneEvent); !isDone {
		t.Fatalf("Decode() returned %T, want LegacyDoneEvent", ev)
	}
}

func TestDecode_LegacyDonePlainText(t *testing.T) {
	// Older firmware emits the marker as bare text, not JSON.
	ev, ok := Decode("8", EventMessage, []byte(`calibration done`))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if _, isDone := ev.(LegacyDoneEvent); !isDone {
		t.Fatalf("Decode() returned %T, want LegacyDoneEvent", ev)
	}
}

func TestDecode_MessageWithoutMarkerDropped(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"json without marker", `{"message": "span gas connected"}`},
		{"plain text without marker", `warming up`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Decode("8", EventMessage, []byte(tt.payload)); ok {
				t.Error("Decode() ok = true, want dropped")
			}
		})
	}
}

func TestDecode_UnknownEventDropped(t *testing.T) {
	if _, ok := Decode("8", "firmware_update", []byte(`{}`)); ok {
		t.Error("Decode() accepted unknown event name")
	}
}
