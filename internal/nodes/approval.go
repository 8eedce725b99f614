package nodes

import (
	"context"
	"fmt"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

const defaultApprovalMessage = "Approval required"

// ApprovalExecutor always suspends the run.
type ApprovalExecutor struct{}

func (*ApprovalExecutor) Kind() nodeflow.NodeKind { return nodeflow.NodeKindApproval }
func (*ApprovalExecutor) Capability() string      { return "" }

func (*ApprovalExecutor) Validate(n *nodeflow.Node) error {
	if raw, ok := n.Config["message"]; ok && raw != nil {
		if _, isString := raw.(string); !isString {
			return fmt.Errorf("message must be a string")
		}
	}
	return nil
}

func (*ApprovalExecutor) Execute(_ context.Context, n *nodeflow.Node, vars nodeflow.Variables, _ Capabilities) (Outcome, error) {
	msg := Render(n.String("message"), vars)
	if msg == "" {
		msg = defaultApprovalMessage
	}
	return Outcome{Suspend: &Suspend{Message: msg}}, nil
}
