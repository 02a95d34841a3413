package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByState       map[string]int `json:"by_state"`
	ByTask        map[string]int `json:"by_task"`
	ByBoundary    map[string]int `json:"by_boundary"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	TotalSteps    int            `json:"total_steps"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByState:       stats.CountByState,
		ByTask:        stats.CountByTask,
		ByBoundary:    stats.CountByBoundary,
		AvgDurationMS: stats.AvgDurationMS,
		TotalSteps:    stats.TotalSteps,
	})
}
