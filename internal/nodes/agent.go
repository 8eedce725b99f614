package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

const defaultPrompt = "{{input}}"

// AgentExecutor calls the model with the node instructions, the rendered
// prompt and the declared inputs as context.
//
// Config keys: model, instructions, prompt, tools, temperature, max_tokens.
type AgentExecutor struct {
	Tools ports.ToolCaller
}

func (*AgentExecutor) Kind() nodeflow.NodeKind { return nodeflow.NodeKindAgent }
func (*AgentExecutor) Capability() string      { return CapabilityModel }

func (a *AgentExecutor) Validate(n *nodeflow.Node) error {
	if n.String("instructions") == "" && n.String("prompt") == "" {
		return fmt.Errorf("instructions or prompt is required")
	}
	for _, name := range n.Strings("tools") {
		if a.Tools == nil || !a.Tools.Has(name) {
			return fmt.Errorf("unknown tool %q", name)
		}
	}
	if raw, ok := n.Config["temperature"]; ok && raw != nil {
		if _, ok := n.Float("temperature"); !ok {
			return fmt.Errorf("temperature must be a number")
		}
	}
	return nil
}

func (a *AgentExecutor) Execute(ctx context.Context, n *nodeflow.Node, vars nodeflow.Variables, caps Capabilities) (Outcome, error) {
	if caps.Model == nil {
		return Outcome{}, capabilityErr(n, CapabilityModel, errors.New("no model provider configured"))
	}
	req := modelRequest(n, vars)
	req.System = Render(n.String("instructions"), vars)
	req.Tools = n.Strings("tools")

	resp, err := caps.Model.Invoke(ctx, req)
	if err != nil {
		return Outcome{}, capabilityErr(n, CapabilityModel, err)
	}
	return Outcome{Output: resp.Text, ToolTrace: resp.ToolTrace, Attempts: 1}, nil
}

// modelRequest builds the user turn shared by agent and extract nodes.
func modelRequest(n *nodeflow.Node, vars nodeflow.Variables) nodeflow.ModelRequest {
	prompt := n.String("prompt")
	if prompt == "" {
		prompt = defaultPrompt
	}
	content := Render(prompt, vars)
	if ctxText := inputContext(n, prompt, vars); ctxText != "" {
		content = content + "\n\n" + ctxText
	}
	req := nodeflow.ModelRequest{
		Model:    n.String("model"),
		Messages: []nodeflow.Message{{Role: "user", Content: content}},
	}
	if t, ok := n.Float("temperature"); ok {
		req.Temperature = &t
	}
	if mt, ok := n.Float("max_tokens"); ok {
		req.MaxTokens = int(mt)
	}
	return req
}

// inputContext renders the declared inputs that the prompt does not already
// reference.
func inputContext(n *nodeflow.Node, prompt string, vars nodeflow.Variables) string {
	referenced := make(map[string]bool)
	for _, name := range References(prompt) {
		referenced[name] = true
	}
	var b strings.Builder
	for _, in := range n.Inputs {
		if referenced[in.Name] {
			continue
		}
		v, ok := vars[in.Name]
		if !ok {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Context:\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s\n", in.Name, v.Text())
	}
	return strings.TrimRight(b.String(), "\n")
}
