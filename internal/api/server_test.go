package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soochol/nodeflow/internal/approval"
	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodes"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/soochol/nodeflow/internal/services"
	"github.com/soochol/nodeflow/internal/tools"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	stores := repository.NewMemory()
	eng := engine.New(stores.Executions, approval.NewGate(stores.Approvals, nil), nodes.DefaultRegistry(nil), nodes.Capabilities{})
	rm := services.NewRunManager(time.Minute)
	t.Cleanup(rm.Stop)
	limiter := services.NewConcurrencyLimiter(config.SchedulerConfig{})
	srv := NewServer(services.NewRunner(eng, limiter, rm, nil), nil)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetToolRegistry(tools.Default(nil, nil))
	return srv
}

// gateGraph is condition -> approval -> condition.
func gateGraph() *nodeflow.Graph {
	return &nodeflow.Graph{
		ID:   "wf-gate",
		Name: "gate",
		Nodes: []nodeflow.Node{
			{ID: "check", Kind: nodeflow.NodeKindCondition, Config: map[string]any{"expression": "input > 3"}},
			{ID: "ok", Kind: nodeflow.NodeKindApproval, Config: map[string]any{"message": "Ship {{input}}?"}},
			{ID: "after", Kind: nodeflow.NodeKindCondition, Config: map[string]any{"expression": "input == 5"}},
		},
		Edges: []nodeflow.Edge{
			{Source: "check", Target: "ok"},
			{Source: "ok", Target: "after"},
		},
	}
}

func do(t *testing.T, srv *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeExec(t *testing.T, w *httptest.ResponseRecorder) *nodeflow.Execution {
	t.Helper()
	var exec nodeflow.Execution
	if err := json.Unmarshal(w.Body.Bytes(), &exec); err != nil {
		t.Fatalf("decode execution: %v (%s)", err, w.Body.String())
	}
	return &exec
}

func TestRun_PauseApproveResume(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5})
	if w.Code != http.StatusOK {
		t.Fatalf("run: got %d: %s", w.Code, w.Body.String())
	}
	exec := decodeExec(t, w)
	if exec.Status != nodeflow.StatusPaused || exec.CurrentNodeID != "ok" {
		t.Fatalf("expected paused at ok, got %s at %q", exec.Status, exec.CurrentNodeID)
	}

	w = do(t, srv, "POST", "/api/executions/"+exec.ID+"/resume", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("resume while pending: got %d, want 409", w.Code)
	}

	w = do(t, srv, "POST", "/api/executions/"+exec.ID+"/resume", ResumeRequest{Decision: "approve", RespondedBy: "ops"})
	if w.Code != http.StatusOK {
		t.Fatalf("resume: got %d: %s", w.Code, w.Body.String())
	}
	done := decodeExec(t, w)
	if done.Status != nodeflow.StatusCompleted {
		t.Fatalf("status: got %s", done.Status)
	}
	if done.Output != true {
		t.Errorf("output: got %v, want true", done.Output)
	}

	w = do(t, srv, "POST", "/api/executions/"+exec.ID+"/resume", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("resume after completion: got %d, want 409", w.Code)
	}
}

func TestApprovalEndpoints_Reject(t *testing.T) {
	srv := newTestServer(t)
	exec := decodeExec(t, do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5}))

	req, err := srv.runner.Engine().Approvals().ForNode(context.Background(), exec.ID, "ok")
	if err != nil {
		t.Fatal(err)
	}
	approvalID := req.ID

	w := do(t, srv, "GET", "/api/approvals/"+approvalID, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending"`) {
		t.Fatalf("get approval: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", "/api/approvals/"+approvalID, ApprovalDecision{Action: "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad action: got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/approvals/"+approvalID, ApprovalDecision{Action: "reject", UserID: "alice"}); w.Code != http.StatusOK {
		t.Fatalf("reject: got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/approvals/"+approvalID, ApprovalDecision{Action: "approve", UserID: "bob"}); w.Code != http.StatusConflict {
		t.Errorf("second decision: got %d, want 409", w.Code)
	}

	final := decodeExec(t, do(t, srv, "POST", "/api/executions/"+exec.ID+"/resume", nil))
	if final.Status != nodeflow.StatusFailed || !strings.Contains(final.Error, "alice") {
		t.Errorf("expected rejection by alice, got %s %q", final.Status, final.Error)
	}
	if _, ran := final.NodeResults["after"]; ran {
		t.Error("rejected run must not continue")
	}
}

func TestListApprovals(t *testing.T) {
	srv := newTestServer(t)
	first := decodeExec(t, do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5}))
	decodeExec(t, do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 4}))

	req, err := srv.runner.Engine().Approvals().ForNode(context.Background(), first.ID, "ok")
	if err != nil {
		t.Fatal(err)
	}
	if w := do(t, srv, "POST", "/api/approvals/"+req.ID, ApprovalDecision{Action: "approve", UserID: "alice"}); w.Code != http.StatusOK {
		t.Fatalf("approve: got %d", w.Code)
	}

	list := func(query string) []*nodeflow.ApprovalRequest {
		t.Helper()
		w := do(t, srv, "GET", "/api/approvals"+query, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list %q: got %d %s", query, w.Code, w.Body.String())
		}
		var body struct {
			Approvals []*nodeflow.ApprovalRequest `json:"approvals"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		return body.Approvals
	}

	pending := list("")
	if len(pending) != 1 || pending[0].ExecutionID == first.ID || pending[0].Status != nodeflow.ApprovalPending {
		t.Errorf("pending: %+v", pending)
	}
	if got := list("?status=approved&workflow_id=wf-gate"); len(got) != 1 || got[0].ID != req.ID {
		t.Errorf("approved: %+v", got)
	}
	if got := list("?status=all"); len(got) != 2 {
		t.Errorf("all: got %d, want 2", len(got))
	}
	if got := list("?workflow_id=other"); len(got) != 0 {
		t.Errorf("other workflow: %+v", got)
	}
	if w := do(t, srv, "GET", "/api/approvals?status=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status: got %d", w.Code)
	}
}

func TestRun_InvalidGraph(t *testing.T) {
	srv := newTestServer(t)
	g := &nodeflow.Graph{ID: "bad", Nodes: []nodeflow.Node{{ID: "x", Kind: "teleport"}}}

	w := do(t, srv, "POST", "/api/runs", RunRequest{Graph: g})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["execution_id"] == nil || body["problems"] == nil {
		t.Errorf("expected execution id and problems, got %v", body)
	}

	w = do(t, srv, "GET", "/api/executions/"+body["execution_id"].(string), nil)
	if exec := decodeExec(t, w); exec.Status != nodeflow.StatusFailed {
		t.Errorf("failed record not persisted: %s", exec.Status)
	}

	if w := do(t, srv, "POST", "/api/runs", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty body: got %d", w.Code)
	}
}

func TestRun_Stream(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5}, "Accept", "text/event-stream")

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"id: 1\nevent: start\n", "event: node_update\n", "event: paused\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "event: complete") {
		t.Error("paused run must not complete")
	}
}

func TestRun_AsyncAndReplay(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5, Async: true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("got %d, want 202", w.Code)
	}
	var accepted map[string]string
	json.Unmarshal(w.Body.Bytes(), &accepted)
	id := accepted["execution_id"]

	deadline := time.Now().Add(2 * time.Second)
	for {
		exec := decodeExec(t, do(t, srv, "GET", "/api/executions/"+id, nil))
		if exec.Status == nodeflow.StatusPaused {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution never paused: %s", exec.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	full := do(t, srv, "GET", "/api/executions/"+id+"/events", nil).Body.String()
	if !strings.Contains(full, "id: 0\nevent: start") || !strings.Contains(full, "event: paused") {
		t.Fatalf("replay:\n%s", full)
	}

	tail := do(t, srv, "GET", "/api/executions/"+id+"/events", nil, "Last-Event-ID", "0").Body.String()
	if strings.Contains(tail, "event: start") || !strings.Contains(tail, "event: paused") {
		t.Errorf("replay after Last-Event-ID 0:\n%s", tail)
	}
}

func TestEvents_FallsBackToRecord(t *testing.T) {
	srv := newTestServer(t)
	exec := decodeExec(t, do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5}))
	if _, err := srv.runner.Cancel(context.Background(), exec.ID); err != nil {
		t.Fatal(err)
	}

	// Drop the buffer to simulate expiry.
	empty := services.NewRunManager(time.Minute)
	t.Cleanup(empty.Stop)
	srv2 := NewServer(services.NewRunner(srv.runner.Engine(), services.NewConcurrencyLimiter(config.SchedulerConfig{}), empty, nil), nil)
	body := do(t, srv2, "GET", "/api/executions/"+exec.ID+"/events", nil).Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "cancelled") {
		t.Errorf("fallback event:\n%s", body)
	}

	if w := do(t, srv, "GET", "/api/executions/nope/events", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown execution: got %d", w.Code)
	}
}

func TestCancel(t *testing.T) {
	srv := newTestServer(t)
	exec := decodeExec(t, do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5}))

	w := do(t, srv, "POST", "/api/executions/"+exec.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: got %d", w.Code)
	}
	if got := decodeExec(t, w); got.Status != nodeflow.StatusFailed || got.Error != "cancelled" {
		t.Errorf("cancelled record: %s %q", got.Status, got.Error)
	}
	if w := do(t, srv, "POST", "/api/executions/"+exec.ID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("second cancel: got %d, want 409", w.Code)
	}
}

func TestListAndGet(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, "POST", "/api/runs", RunRequest{Graph: gateGraph(), Input: 5})
	do(t, srv, "POST", "/api/runs", RunRequest{Graph: &nodeflow.Graph{ID: "other", Nodes: []nodeflow.Node{
		{ID: "c", Kind: nodeflow.NodeKindCondition, Config: map[string]any{"expression": "true"}},
	}}})

	var list struct {
		Executions []*nodeflow.Execution `json:"executions"`
	}
	json.Unmarshal(do(t, srv, "GET", "/api/executions?workflow_id=wf-gate", nil).Body.Bytes(), &list)
	if len(list.Executions) != 1 || list.Executions[0].WorkflowID != "wf-gate" {
		t.Errorf("filtered list: %+v", list.Executions)
	}
	json.Unmarshal(do(t, srv, "GET", "/api/executions", nil).Body.Bytes(), &list)
	if len(list.Executions) != 2 {
		t.Errorf("list: got %d, want 2", len(list.Executions))
	}

	if w := do(t, srv, "GET", "/api/executions/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d", w.Code)
	}
}

func TestValidateGraph(t *testing.T) {
	srv := newTestServer(t)

	var resp map[string]any
	json.Unmarshal(do(t, srv, "POST", "/api/graphs/validate", gateGraph()).Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("valid graph: %v", resp)
	}

	cyclic := gateGraph()
	cyclic.Edges = append(cyclic.Edges, nodeflow.Edge{Source: "after", Target: "check"})
	json.Unmarshal(do(t, srv, "POST", "/api/graphs/validate", cyclic).Body.Bytes(), &resp)
	if resp["valid"] != false || resp["problems"] == nil {
		t.Errorf("cyclic graph: %v", resp)
	}
}

func TestToolsAndStats(t *testing.T) {
	srv := newTestServer(t)

	var list []map[string]any
	json.Unmarshal(do(t, srv, "GET", "/api/tools", nil).Body.Bytes(), &list)
	if len(list) != 3 || list[0]["name"] != "fetch_rss" {
		t.Errorf("tools: %v", list)
	}

	w := do(t, srv, "GET", "/api/scheduler/stats", nil)
	if !strings.Contains(w.Body.String(), `"global_max":10`) {
		t.Errorf("stats: %s", w.Body.String())
	}
}
