package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chimeralabs/chimera-core/internal/instrument"
)

// CreateInstrumentRequest is the body for POST /api/instruments.
type CreateInstrumentRequest struct {
	Serial  string `json:"serial"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// UpdateInstrumentRequest is the body for PUT /api/instruments/{serial}.
// Nil fields are left unchanged; the serial itself is immutable.
type UpdateInstrumentRequest struct {
	Name    *string `json:"name,omitempty"`
	Host    *string `json:"host,omitempty"`
	Port    *int    `json:"port,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// isValidationError reports whether the error is one of the instrument
// field validation sentinels.
func isValidationError(err error) bool {
	return errors.Is(err, instrument.ErrInvalid) ||
		errors.Is(err, instrument.ErrInvalidSerial) ||
		errors.Is(err, instrument.ErrInvalidName) ||
		errors.Is(err, instrument.ErrInvalidHost) ||
		errors.Is(err, instrument.ErrInvalidPort)
}

// handleListInstruments returns all catalogued instruments.
func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.instruments.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list instruments", "error", err)
		writeInternalError(w, "failed to list instruments")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": instruments,
		"count":       len(instruments),
	})
}

// handleCreateInstrument catalogues a new instrument.
func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	inst := &instrument.Instrument{
		Serial:  req.Serial,
		Name:    req.Name,
		Host:    req.Host,
		Port:    req.Port,
		Enabled: true,
	}
	if req.Enabled != nil {
		inst.Enabled = *req.Enabled
	}

	if err := s.instruments.Create(r.Context(), inst); err != nil {
		switch {
		case errors.Is(err, instrument.ErrExists):
			writeConflict(w, "instrument with this serial already exists")
		case isValidationError(err):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("failed to create instrument", "serial", req.Serial, "error", err)
			writeInternalError(w, "failed to create instrument")
		}
		return
	}

	s.logger.Info("instrument catalogued", "serial", inst.Serial, "id", inst.ID)
	writeJSON(w, http.StatusCreated, inst)
}

// handleGetInstrument returns one instrument by serial.
func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	inst, err := s.instruments.GetBySerial(r.Context(), serial)
	if err != nil {
		if errors.Is(err, instrument.ErrNotFound) {
			writeNotFound(w, "instrument not found")
			return
		}
		s.logger.Error("failed to get instrument", "serial", serial, "error", err)
		writeInternalError(w, "failed to get instrument")
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

// handleUpdateInstrument updates an instrument's mutable fields.
func (s *Server) handleUpdateInstrument(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req UpdateInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	inst, err := s.instruments.GetBySerial(r.Context(), serial)
	if err != nil {
		if errors.Is(err, instrument.ErrNotFound) {
			writeNotFound(w, "instrument not found")
			return
		}
		s.logger.Error("failed to get instrument", "serial", serial, "error", err)
		writeInternalError(w, "failed to get instrument")
		return
	}

	if req.Name != nil {
		inst.Name = *req.Name
	}
	if req.Host != nil {
		inst.Host = *req.Host
	}
	if req.Port != nil {
		inst.Port = *req.Port
	}
	if req.Enabled != nil {
		inst.Enabled = *req.Enabled
	}

	if err := s.instruments.Update(r.Context(), inst); err != nil {
		switch {
		case errors.Is(err, instrument.ErrNotFound):
			writeNotFound(w, "instrument not found")
		case isValidationError(err):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("failed to update instrument", "serial", serial, "error", err)
			writeInternalError(w, "failed to update instrument")
		}
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

// handleDeleteInstrument removes an instrument from the catalogue. Any
// open telemetry channel for it is torn down first.
func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	inst, err := s.instruments.GetBySerial(r.Context(), serial)
	if err != nil {
		if errors.Is(err, instrument.ErrNotFound) {
			writeNotFound(w, "instrument not found")
			return
		}
		s.logger.Error("failed to get instrument", "serial", serial, "error", err)
		writeInternalError(w, "failed to get instrument")
		return
	}

	s.telemetry.Unsubscribe(serial)

	if err := s.instruments.Delete(r.Context(), inst.ID); err != nil {
		if errors.Is(err, instrument.ErrNotFound) {
			writeNotFound(w, "instrument not found")
			return
		}
		s.logger.Error("failed to delete instrument", "serial", serial, "error", err)
		writeInternalError(w, "failed to delete instrument")
		return
	}

	s.logger.Info("instrument removed from catalogue", "serial", serial)
	w.WriteHeader(http.StatusNoContent)
}
