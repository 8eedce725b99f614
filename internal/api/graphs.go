package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// validateGraph checks a graph without running it. The body is the graph
// itself. Invalid graphs are reported with 200 and valid=false so editors
// can show every problem.
func (s *Server) validateGraph(w http.ResponseWriter, r *http.Request) {
	var g nodeflow.Graph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		badRequest(w, "invalid graph body: "+err.Error())
		return
	}
	err := s.runner.Engine().Validate(&g)
	var verr *nodeflow.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "problems": verr.Problems})
	default:
		writeError(w, err, nil)
	}
}

// GET /api/tools
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	if s.toolReg == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.toolReg.List())
}

// GET /api/scheduler/stats
func (s *Server) getSchedulerStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.limiter != nil {
		resp["concurrency"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
