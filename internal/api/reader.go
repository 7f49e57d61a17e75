package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/rollcall/internal/reader"
)

// ConnectRequest is the body of POST /reader/connect. An empty device
// uses the configured one.
type ConnectRequest struct {
	Device string `json:"device"`
}

// handleReaderStatus returns the reader's state and counters.
func (s *Server) handleReaderStatus(w http.ResponseWriter, _ *http.Request) {
	if s.reader == nil {
		writeUnavailable(w, "no reader configured")
		return
	}
	s.reader.Detect()
	writeJSON(w, http.StatusOK, s.reader.Stats())
}

// handleListPorts returns serial ports, known reader models first.
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	if s.ports == nil {
		writeUnavailable(w, "port discovery not available")
		return
	}
	ports, err := s.ports.Ports()
	if err != nil {
		s.logger.Error("listing serial ports", "error", err)
		writeInternalError(w, "failed to list serial ports")
		return
	}
	if ports == nil {
		ports = []reader.PortInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ports": ports,
		"count": len(ports),
	})
}

// handleReaderConnect opens the reader and starts the read loop.
func (s *Server) handleReaderConnect(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeUnavailable(w, "no reader configured")
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// The read loop outlives this request.
	if err := s.reader.Connect(r.Context(), req.Device); err != nil {
		writeReaderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.reader.Stats())
}

// handleReaderDisconnect stops the read loop and closes the device.
func (s *Server) handleReaderDisconnect(w http.ResponseWriter, _ *http.Request) {
	if s.reader == nil {
		writeUnavailable(w, "no reader configured")
		return
	}
	if err := s.reader.Disconnect(); err != nil {
		s.logger.Warn("reader disconnect", "error", err)
	}
	writeJSON(w, http.StatusOK, s.reader.Stats())
}

func writeReaderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reader.ErrAlreadyScanning):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, reader.ErrNoDevice), errors.Is(err, reader.ErrUnsupportedDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, reader.ErrUnavailable):
		writeUnavailable(w, err.Error())
	case errors.Is(err, reader.ErrDevice):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceFailed, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
