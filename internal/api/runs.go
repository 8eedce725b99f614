package api

import (
	"encoding/json"
	"net/http"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// RunRequest is the body of POST /api/runs.
type RunRequest struct {
	Graph  *nodeflow.Graph `json:"graph"`
	Input  any             `json:"input"`
	Stream *bool           `json:"stream,omitempty"`
	Async  bool            `json:"async,omitempty"`
}

// startRun starts an execution in one of three modes: SSE stream of this
// invocation, background (202 with the id) or blocking JSON.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	switch {
	case req.Async:
		id, err := s.runner.StartAsync(r.Context(), req.Graph, req.Input)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})

	case wantsStream(r, req.Stream):
		s.streamInvocation(w, r, func(sink ports.ProgressSink) (*nodeflow.Execution, error) {
			return s.runner.Start(r.Context(), req.Graph, req.Input, sink)
		})

	default:
		exec, err := s.runner.Start(r.Context(), req.Graph, req.Input, nil)
		if err != nil {
			writeError(w, err, exec)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}
