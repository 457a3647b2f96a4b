package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/satchel/internal/backup"
	"github.com/mattjoyce/satchel/internal/lock"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	archives, err := s.service.List(false, false)
	if err != nil {
		s.logger.Error("failed to list archives", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Archives:      len(archives),
	})
}

// handleList handles GET /backups?with_info=true&human_readable=true
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	archives, err := s.service.List(queryBool(q.Get("with_info")), queryBool(q.Get("human_readable")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ListResponse{Archives: archives})
}

// handleInfo handles GET /backups/{name}
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := s.service.Info(chi.URLParam(r, "name"), queryBool(q.Get("with_details")), queryBool(q.Get("human_readable")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// handleCreate handles POST /backups
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var opts backup.CreateOptions
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	res, err := s.service.Create(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// handleRestore handles POST /backups/{name}/restore. There is no operator to
// ask over HTTP, so restoring onto an installed system needs "force": true.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var opts backup.RestoreOptions
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	opts.Name = chi.URLParam(r, "name")

	res, err := s.service.Restore(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleDelete handles DELETE /backups/{name}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVerify handles GET /backups/{name}/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Verify(r.Context(), chi.URLParam(r, "name"))
	if err != nil && !errors.Is(err, backup.ErrChecksumMismatch) {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleHistory handles GET /history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Operations: entries})
}

func queryBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, lock.ErrLocked) {
		return http.StatusConflict
	}
	switch backup.KindOf(err) {
	case backup.KindConfig:
		return http.StatusBadRequest
	case backup.KindNotFound:
		return http.StatusNotFound
	case backup.KindRefused:
		return http.StatusConflict
	case backup.KindNothingDone, backup.KindIntegrity:
		return http.StatusUnprocessableEntity
	case backup.KindResource:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("backup operation failed", "error", err)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(backup.KindOf(err))})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
