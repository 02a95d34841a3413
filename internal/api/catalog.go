package api

import (
	"net/http"

	"github.com/seantiz/offload/internal/task"
)

type listBoundariesResponse struct {
	Boundaries []string `json:"boundaries"`
	Default    string   `json:"default"`
}

func (s *Server) handleListBoundaries(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listBoundariesResponse{
		Boundaries: s.boundaries.List(),
		Default:    s.boundaries.Default(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	defs := s.tasks.List()
	if defs == nil {
		defs = []task.Definition{}
	}
	s.writeJSON(w, http.StatusOK, defs)
}
