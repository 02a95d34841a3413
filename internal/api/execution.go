package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/offload/internal/engine"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	// maxTimeoutMS is the largest timeout_ms that fits a time.Duration.
	maxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)
)

// executionRequest is the JSON body for POST /v1/executions and
// POST /v1/executions/async.
type executionRequest struct {
	Task         string              `json:"task"`
	Mode         model.Mode          `json:"mode"`
	Args         []any               `json:"args"`
	Context      map[string]any      `json:"context"`
	Capabilities map[string][]string `json:"capabilities"`
	Boundary     string              `json:"boundary"`
	TimeoutMS    *int                `json:"timeout_ms"`
}

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// decodeExecutionRequest reads and validates the request body. It writes
// the error response itself and reports whether decoding succeeded.
func (s *Server) decodeExecutionRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req executionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return engine.Request{}, false
	}

	if req.Task == "" {
		s.writeError(w, http.StatusBadRequest, "task is required")
		return engine.Request{}, false
	}
	if req.Mode != "" && !req.Mode.Valid() {
		s.writeError(w, http.StatusBadRequest, "mode must be one_shot or stream")
		return engine.Request{}, false
	}
	if req.TimeoutMS != nil && *req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return engine.Request{}, false
	}
	if req.TimeoutMS != nil && int64(*req.TimeoutMS) > maxTimeoutMS {
		s.writeError(w, http.StatusBadRequest, "timeout_ms is too large")
		return engine.Request{}, false
	}

	out := engine.Request{
		Unit: model.WorkUnit{
			Task:         req.Task,
			Mode:         req.Mode,
			Args:         req.Args,
			Context:      req.Context,
			Capabilities: req.Capabilities,
		},
		Boundary: req.Boundary,
	}
	if req.TimeoutMS != nil {
		out.Timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}
	return out, true
}

func (s *Server) handleRunExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	// Delegations may outlive the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for execution", "error", err)
	}

	rec, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.logger.Error("run execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run execution")
		return
	}

	status := http.StatusOK
	if rec.State != model.StateCompleted {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, rec)
}

func (s *Server) handleAsyncExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		s.logger.Error("submit async execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit execution")
		return
	}

	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*model.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// handleCancelExecution cancels an in-flight execution. Settlement is
// asynchronous; the response carries the record as of the request.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution for cancel", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	if err := s.engine.Cancel(id); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, "execution not running")
			return
		}
		s.logger.Error("cancel execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel execution")
		return
	}

	s.writeJSON(w, http.StatusAccepted, rec)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
