package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/audit"
	"github.com/nerrad567/rollcall/internal/directory"
)

// EnrolRequest is the body of PUT /people/{id}.
type EnrolRequest struct {
	DisplayName  string   `json:"display_name"`
	CredentialID string   `json:"credential_id"`
	Aliases      []string `json:"aliases,omitempty"`
}

// PersonStatus is the response of GET /people/{id}/status.
type PersonStatus struct {
	PersonID string                  `json:"person_id"`
	Status   attendance.Status       `json:"status"`
	Person   *directory.PersonRecord `json:"person,omitempty"`
	Latest   *attendance.Record      `json:"latest,omitempty"`
}

// handleGetPerson returns one enrolled person.
func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	if s.people == nil {
		writeUnavailable(w, "people store not configured")
		return
	}
	id := chi.URLParam(r, "id")

	p, err := s.people.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeNotFound(w, "person not found")
			return
		}
		s.logger.Error("failed to get person", "person_id", id, "error", err)
		writeInternalError(w, "failed to get person")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleEnrolPerson creates or replaces a person and refreshes the local
// directory so the next scan sees the change.
func (s *Server) handleEnrolPerson(w http.ResponseWriter, r *http.Request) {
	if s.people == nil {
		writeUnavailable(w, "people store not configured")
		return
	}
	id := chi.URLParam(r, "id")

	var req EnrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	p := directory.PersonRecord{
		PersonID:     id,
		DisplayName:  req.DisplayName,
		CredentialID: req.CredentialID,
		Aliases:      req.Aliases,
	}
	if err := s.people.Upsert(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, directory.ErrInvalidPerson):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, directory.ErrCredentialInUse):
			writeError(w, http.StatusConflict, ErrCodeConflict, "credential or alias is enrolled to someone else")
		default:
			s.logger.Error("failed to enrol person", "person_id", id, "error", err)
			writeInternalError(w, "failed to enrol person")
		}
		return
	}

	if s.cache != nil {
		if err := s.cache.Refresh(r.Context(), s.people); err != nil {
			s.logger.Warn("directory refresh after enrolment failed", "error", err)
		}
	}

	stored, err := s.people.Get(r.Context(), id)
	if err != nil {
		stored = p
	}

	details := map[string]any{"credential_id": stored.CredentialID}
	if s.mirror != nil && stored.CredentialID != "" {
		mirrored := true
		if err := s.mirror.Publish(r.Context(), stored); err != nil {
			// The local enrolment stands; other sites pick it up on their
			// next full sync.
			s.logger.Warn("publishing enrolment to remote directory failed", "person_id", id, "error", err)
			mirrored = false
		}
		details["mirrored"] = mirrored
	}
	s.auditLog(audit.ActionPersonEnrolled, audit.EntityPerson, id, details)
	writeJSON(w, http.StatusOK, stored)
}

// handlePersonStatus derives a person's status from the ledger. A person
// with no records is "unknown".
func (s *Server) handlePersonStatus(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "ledger not configured")
		return
	}
	id := chi.URLParam(r, "id")

	latest, err := s.ledger.Latest(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read ledger", "person_id", id, "error", err)
		writeInternalError(w, "failed to read attendance ledger")
		return
	}

	resp := PersonStatus{
		PersonID: id,
		Status:   attendance.ComputeStatus(latest),
		Latest:   latest,
	}
	if s.people != nil {
		if p, err := s.people.Get(r.Context(), id); err == nil {
			resp.Person = &p
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListAttendance returns ledger records newest first.
//
// Query parameters:
//   - person_id: restrict to one person
//   - since: RFC 3339 lower bound on the record timestamp
//   - limit: max results (default 50, max 500)
func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "ledger not configured")
		return
	}

	q := r.URL.Query()
	filter := attendance.Filter{PersonID: q.Get("person_id")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	records, err := s.ledger.History(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list attendance", "error", err)
		writeInternalError(w, "failed to list attendance")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}
