package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// ApprovalDecision is the body of POST /api/approvals/{id}.
type ApprovalDecision struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

// listApprovals returns approval requests, pending ones unless status says
// otherwise. status=all drops the filter.
// GET /api/approvals?status=pending&workflow_id=wf&limit=20
func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := nodeflow.ApprovalStatus(q.Get("status"))
	switch status {
	case "":
		status = nodeflow.ApprovalPending
	case "all":
		status = ""
	case nodeflow.ApprovalPending, nodeflow.ApprovalApproved, nodeflow.ApprovalRejected:
	default:
		badRequest(w, "invalid status "+strconv.Quote(string(status)))
		return
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	reqs, err := s.runner.Engine().Approvals().List(r.Context(), status, q.Get("workflow_id"), limit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if reqs == nil {
		reqs = []*nodeflow.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": reqs})
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.runner.Engine().Approvals().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// resolveApproval records a decision. It does not resume the execution;
// POST /api/executions/{id}/resume does.
func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request) {
	var body ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	decision, err := nodeflow.ParseDecision(body.Action)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	req, err := s.runner.Engine().Approvals().Resolve(r.Context(), chi.URLParam(r, "id"), decision, body.UserID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
