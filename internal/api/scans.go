package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/dispatch"
)

// SubmitScanRequest is the body of POST /scans.
type SubmitScanRequest struct {
	ID string `json:"id"`
}

// ModeRequest is the body of PUT /mode.
type ModeRequest struct {
	Mode attendance.Mode `json:"mode"`
}

// handleSubmitScan runs an operator-typed identifier through the dispatcher.
// The body is always the Outcome; the status code reflects its kind.
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req SubmitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	out := s.scans.SubmitManualID(r.Context(), req.ID)
	writeJSON(w, outcomeStatus(out.Kind), out)
}

// outcomeStatus maps an outcome kind to an HTTP status.
func outcomeStatus(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindAccepted:
		return http.StatusCreated
	case dispatch.KindInvalidFormat, dispatch.KindNoise:
		return http.StatusUnprocessableEntity
	case dispatch.KindNotFound:
		return http.StatusNotFound
	case dispatch.KindAlreadyCheckedIn, dispatch.KindAlreadyCheckedOut, dispatch.KindNoActiveSession:
		return http.StatusConflict
	case dispatch.KindLedgerWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleGetMode returns the active scan mode.
func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ModeRequest{Mode: s.scans.Mode()})
}

// handleSetMode changes the scan mode for subsequent scans.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	from := s.scans.Mode()
	if err := s.scans.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "mode must be check-in, check-out or toggle")
		return
	}
	to := s.scans.Mode()
	if from != to && s.onModeChange != nil {
		s.onModeChange(from, to)
	}

	writeJSON(w, http.StatusOK, ModeRequest{Mode: to})
}
