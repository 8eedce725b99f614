package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/nodeflow/internal/llmutil"
	"github.com/soochol/nodeflow/internal/nodeflow"
)

// maxExtractAttempts is the first call plus one corrective follow-up.
const maxExtractAttempts = 2

// ExtractExecutor asks the model for JSON conforming to the node schema.
//
// Config keys: schema (required), model, instructions, prompt.
type ExtractExecutor struct{}

func (*ExtractExecutor) Kind() nodeflow.NodeKind { return nodeflow.NodeKindExtract }
func (*ExtractExecutor) Capability() string      { return CapabilityModel }

func (*ExtractExecutor) Validate(n *nodeflow.Node) error {
	_, _, err := compileSchema(n.Config["schema"])
	return err
}

func (*ExtractExecutor) Execute(ctx context.Context, n *nodeflow.Node, vars nodeflow.Variables, caps Capabilities) (Outcome, error) {
	if caps.Model == nil {
		return Outcome{}, capabilityErr(n, CapabilityModel, errors.New("no model provider configured"))
	}
	sch, schemaDoc, err := compileSchema(n.Config["schema"])
	if err != nil {
		return Outcome{}, fmt.Errorf("node %s: %w", n.ID, err)
	}
	schemaText, _ := json.MarshalIndent(schemaDoc, "", "  ")

	req := modelRequest(n, vars)
	req.Schema = schemaDoc
	req.System = strings.TrimSpace(Render(n.String("instructions"), vars) +
		"\n\nRespond only with a JSON document that conforms to this JSON Schema:\n" + string(schemaText))

	var lastErr error
	for attempt := 1; attempt <= maxExtractAttempts; attempt++ {
		resp, err := caps.Model.Invoke(ctx, req)
		if err != nil {
			return Outcome{Attempts: attempt}, capabilityErr(n, CapabilityModel, err)
		}
		doc, err := decodeResponse(resp)
		if err == nil {
			err = conform(sch, doc)
		}
		if err == nil {
			return Outcome{Output: doc, ToolTrace: resp.ToolTrace, Attempts: attempt}, nil
		}
		lastErr = err
		caps.logger().Info("extract response did not conform", "node", n.ID, "attempt", attempt, "err", err)
		req.Messages = append(req.Messages,
			nodeflow.Message{Role: "assistant", Content: resp.Text},
			nodeflow.Message{Role: "user", Content: repairPrompt(err)},
		)
	}
	return Outcome{Attempts: maxExtractAttempts}, capabilityErr(n, CapabilityModel,
		fmt.Errorf("response does not conform to schema after %d attempts: %w", maxExtractAttempts, lastErr))
}

func decodeResponse(resp *nodeflow.ModelResponse) (any, error) {
	if resp.JSON != nil {
		return resp.JSON, nil
	}
	return llmutil.DecodeJSON(resp.Text)
}

func repairPrompt(err error) string {
	return "Your previous response did not conform to the required JSON Schema:\n" +
		err.Error() +
		"\n\nReply again with only the corrected JSON document and no other text."
}
