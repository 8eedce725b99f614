package nodeflow

import (
	"fmt"
	"strings"
	"time"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is the suspension point of one paused execution.
type ApprovalRequest struct {
	ID          string         `json:"approval_id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	NodeID      string         `json:"node_id"`
	Message     string         `json:"message"`
	Status      ApprovalStatus `json:"status"`
	RespondedBy string         `json:"responded_by,omitempty"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ParseDecision accepts both the verb and the status spelling.
func ParseDecision(s string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return ApprovalApproved, nil
	case "reject", "rejected":
		return ApprovalRejected, nil
	}
	return "", fmt.Errorf("unknown decision %q: want approve or reject", s)
}
