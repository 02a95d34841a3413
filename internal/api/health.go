package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status          string `json:"status"`
	DefaultBoundary string `json:"default_boundary"`
	Boundaries      int    `json:"boundaries"`
	Tasks           int    `json:"tasks"`
	Running         int    `json:"running"`
}

// handleHealthz reports liveness with a summary of what the daemon can
// delegate and how much it is delegating now.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		DefaultBoundary: s.boundaries.Default(),
		Boundaries:      len(s.boundaries.List()),
		Tasks:           len(s.tasks.List()),
		Running:         s.engine.Running(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
