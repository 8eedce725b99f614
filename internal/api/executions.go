package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// listExecutions returns the most recent executions, optionally of one workflow.
// GET /api/executions?workflow_id=wf&limit=20
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	execs, err := s.runner.Engine().List(r.Context(), r.URL.Query().Get("workflow_id"), limit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if execs == nil {
		execs = []*nodeflow.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.runner.Engine().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// streamExecutionEvents replays buffered events of an execution and follows
// new ones until a terminal event. Reconnecting clients send Last-Event-ID.
// GET /api/executions/{id}/events
func (s *Server) streamExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	startSeq := 0
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			startSeq = n + 1
		}
	}

	runs := s.runner.Runs()
	events, notify, idle, found := runs.Subscribe(id, startSeq)
	if !found {
		// Buffer expired or never existed; fall back to the record.
		exec, err := s.runner.Engine().Get(r.Context(), id)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		flusher, ok := startSSE(w)
		if !ok {
			return
		}
		writeSSE(w, -1, finalEvent(exec))
		flusher.Flush()
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	for {
		for _, rec := range events {
			writeSSE(w, rec.Seq, rec.Event)
		}
		flusher.Flush()
		if len(events) > 0 {
			startSeq = events[len(events)-1].Seq + 1
		}
		if idle {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			events, notify, idle, _ = runs.Subscribe(id, startSeq)
		}
	}
}

// ResumeRequest is the body of POST /api/executions/{id}/resume. When
// Decision is set the pending approval is resolved before resuming.
type ResumeRequest struct {
	Decision    string `json:"decision,omitempty"`
	RespondedBy string `json:"responded_by,omitempty"`
	Stream      *bool  `json:"stream,omitempty"`
}

func (s *Server) resumeExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	if req.Decision != "" {
		decision, err := nodeflow.ParseDecision(req.Decision)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := s.decide(r, id, decision, req.RespondedBy); err != nil {
			writeError(w, err, nil)
			return
		}
	}

	if wantsStream(r, req.Stream) {
		s.streamInvocation(w, r, func(sink ports.ProgressSink) (*nodeflow.Execution, error) {
			return s.runner.Resume(r.Context(), id, sink)
		})
		return
	}
	exec, err := s.runner.Resume(r.Context(), id, nil)
	if err != nil {
		writeError(w, err, exec)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decide resolves the approval the execution is paused on. An approval that
// was already resolved is left as is; Resume acts on the stored decision.
func (s *Server) decide(r *http.Request, executionID string, decision nodeflow.ApprovalStatus, by string) error {
	exec, err := s.runner.Engine().Get(r.Context(), executionID)
	if err != nil {
		return err
	}
	if exec.Status != nodeflow.StatusPaused {
		return &nodeflow.StateConflictError{ID: executionID, Actual: string(exec.Status), Err: nodeflow.ErrNotPaused}
	}
	gate := s.runner.Engine().Approvals()
	req, err := gate.ForNode(r.Context(), executionID, exec.CurrentNodeID)
	if err != nil {
		return err
	}
	if _, err := gate.Resolve(r.Context(), req.ID, decision, by); err != nil && !errors.Is(err, nodeflow.ErrAlreadyResolved) {
		return err
	}
	return nil
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.runner.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
