package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxOutput caps any text a tool hands back to the model.
const maxOutput = 100 * 1024

// Tool is a function an agent node's model may call during its tool loop.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a plain function to Tool.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) InputSchema() map[string]any {
	if f.Schema == nil {
		return map[string]any{"type": "object"}
	}
	return f.Schema
}

func (f *Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// decodeArgs copies model-supplied arguments into a typed struct.
func decodeArgs(name string, args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%s: encode args: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: invalid args: %w", name, err)
	}
	return nil
}

// capText truncates s to maxOutput bytes and reports whether it did.
func capText(s string) (string, bool) {
	if len(s) <= maxOutput {
		return s, false
	}
	return s[:maxOutput] + "\n... [truncated at 100KB]", true
}
