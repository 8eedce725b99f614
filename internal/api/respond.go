package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *nodeflow.ValidationError
	var conflict *nodeflow.StateConflictError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, nodeflow.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.Is(err, nodeflow.ErrStillPending):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"error": ...}, adding the problem list for validation
// errors and the execution id when a record exists.
func writeError(w http.ResponseWriter, err error, exec *nodeflow.Execution) {
	body := map[string]any{"error": err.Error()}
	var verr *nodeflow.ValidationError
	if errors.As(err, &verr) {
		body["problems"] = verr.Problems
	}
	if exec != nil {
		body["execution_id"] = exec.ID
		body["status"] = exec.Status
	}
	writeJSON(w, statusFor(err), body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
