package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chimeralabs/chimera-core/internal/instrument"
	"github.com/chimeralabs/chimera-core/internal/telemetry"
)

// CalibrationResponse is the wire form of a derived calibration state.
type CalibrationResponse struct {
	Serial     string    `json:"serial"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	Progress   float64   `json:"progress"`
	ExpectedMs int64     `json:"expected_duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// StatusResponse is the wire form of a derived operation status.
type StatusResponse struct {
	Serial         string    `json:"serial"`
	Kind           string    `json:"kind"`
	Channel        int       `json:"channel,omitempty"`
	Progress       float64   `json:"progress"`
	PhaseStartedAt time.Time `json:"phase_started_at"`
	PhaseMs        int64     `json:"phase_duration_ms"`
}

func calibrationResponse(serial string, state telemetry.CalibrationState) CalibrationResponse {
	return CalibrationResponse{
		Serial:     serial,
		Stage:      string(state.Stage),
		Message:    state.Message,
		Progress:   state.Progress(time.Now()),
		ExpectedMs: state.ExpectedDuration.Milliseconds(),
		StartedAt:  state.StartedAt,
	}
}

func statusResponse(serial string, status telemetry.OperationStatus) StatusResponse {
	return StatusResponse{
		Serial:         serial,
		Kind:           string(status.Kind),
		Channel:        status.Channel,
		Progress:       status.Progress(time.Now()),
		PhaseStartedAt: status.PhaseStartedAt,
		PhaseMs:        status.PhaseDuration.Milliseconds(),
	}
}

// handleSubscribe opens the instrument's push channel (idempotently) and
// refreshes its timing configuration.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	if err := s.telemetry.Subscribe(r.Context(), serial); err != nil {
		switch {
		case errors.Is(err, instrument.ErrInvalidSerial):
			writeValidationError(w, err.Error())
		case errors.Is(err, instrument.ErrNotFound):
			writeNotFound(w, "instrument not found")
		case errors.Is(err, telemetry.ErrShutdown):
			writeUnavailable(w, "telemetry subsystem is shut down")
		default:
			s.logger.Error("subscribe failed", "serial", serial, "error", err)
			writeInternalError(w, "failed to subscribe to instrument events")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serial":     serial,
		"subscribed": true,
	})
}

// handleUnsubscribe closes the instrument's push channel and drops its
// derived state. Unsubscribing an instrument with no channel is a no-op.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	s.telemetry.Unsubscribe(serial)

	writeJSON(w, http.StatusOK, map[string]any{
		"serial":     serial,
		"subscribed": false,
	})
}

// handleCalibrationState returns the derived calibration state, or 404
// when the instrument is not calibrating.
func (s *Server) handleCalibrationState(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	state, ok := s.telemetry.CalibrationState(serial)
	if !ok {
		writeNotFound(w, "no calibration in progress")
		return
	}

	writeJSON(w, http.StatusOK, calibrationResponse(serial, state))
}

// handleOperationStatus returns the derived operation status, or 404
// when no recent status is known.
func (s *Server) handleOperationStatus(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	status, ok := s.telemetry.OperationStatus(serial)
	if !ok {
		writeNotFound(w, "no operation in progress")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse(serial, status))
}
