package telemetry

import "testing"

func TestStageValid(t *testing.T) {
	valid := []Stage{StageStarting, StageOpening, StageInfo, StageReading, StageFinishing, StageComplete}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Valid() = false for %q, want true", s)
		}
	}

	for _, s := range []Stage{"", "warming", "COMPLETE"} {
		if s.Valid() {
			t.Errorf("Valid() = true for %q, want false", s)
		}
	}
}

func TestMessageForStage(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageStarting, "Calibration starting"},
		{StageOpening, "Opening gas channel"},
		{StageInfo, "Reading sensor information"},
		{StageReading, "Reading calibration gas"},
		{StageFinishing, "Finishing calibration"},
		{StageComplete, "Calibration complete"},
		{Stage("warming"), "Calibrating"},
		{Stage(""), "Calibrating"},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := MessageForStage(tt.stage); got != tt.want {
				t.Errorf("MessageForStage(%q) = %q, want %q", tt.stage, got, tt.want)
			}
		})
	}
}
