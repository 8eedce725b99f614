package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/nodeflow/internal/llmutil"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

const defaultMaxToolRounds = 8

// ToolSource is a tool registry that can also describe its tools to a model.
type ToolSource interface {
	ports.ToolCaller
	Describe(name string) (description string, schema map[string]any, ok bool)
}

// Caller is the model-call capability. It resolves "provider/model" ids,
// runs the tool-use loop and decodes JSON replies when a schema was asked
// for.
type Caller struct {
	providers    Providers
	defaultModel string
	tools        ToolSource
	maxRounds    int
	logger       *slog.Logger
}

var _ ports.ModelCaller = (*Caller)(nil)

type CallerOption func(*Caller)

func WithMaxToolRounds(n int) CallerOption {
	return func(c *Caller) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

func WithCallerLogger(l *slog.Logger) CallerOption { return func(c *Caller) { c.logger = l } }

// NewCaller builds a Caller. tools may be nil when no tools are available.
func NewCaller(providers Providers, defaultModel string, tools ToolSource, opts ...CallerOption) *Caller {
	c := &Caller{
		providers:    providers,
		defaultModel: defaultModel,
		tools:        tools,
		maxRounds:    defaultMaxToolRounds,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Caller) Invoke(ctx context.Context, req nodeflow.ModelRequest) (*nodeflow.ModelResponse, error) {
	llm, modelName, err := c.providers.Resolve(req.Model, c.defaultModel)
	if err != nil {
		return nil, err
	}
	cfg, err := c.generateConfig(req)
	if err != nil {
		return nil, err
	}
	ctx = WithLogger(ctx, c.logger)

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" || m.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
	}

	var trace []nodeflow.ToolCall
	for round := 0; ; round++ {
		resp, err := generate(ctx, llm, &adkmodel.LLMRequest{Model: modelName, Contents: contents, Config: cfg})
		if err != nil {
			return nil, err
		}
		reply := llmutil.Split(resp)
		if !reply.WantsTools() {
			out := &nodeflow.ModelResponse{Text: reply.Text, ToolTrace: trace}
			if req.Schema != nil {
				if doc, err := llmutil.DecodeJSON(out.Text); err == nil {
					out.JSON = doc
				}
			}
			return out, nil
		}
		calls := reply.Calls
		if round >= c.maxRounds {
			return nil, fmt.Errorf("model %s: tool loop exceeded %d rounds", modelName, c.maxRounds)
		}
		if c.tools == nil {
			return nil, fmt.Errorf("model %s requested tool %q but no tools are configured", modelName, calls[0].Name)
		}

		contents = append(contents, resp.Content)
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			entry := nodeflow.ToolCall{Name: call.Name, Args: call.Args}
			response := map[string]any{}
			result, err := c.tools.Call(ctx, call.Name, call.Args)
			if err != nil {
				// The model sees the failure and may recover; the run does not fail.
				entry.Error = err.Error()
				response["error"] = err.Error()
			} else {
				entry.Result = result
				response["result"] = result
			}
			c.logger.Debug("tool call", "tool", call.Name, "err", entry.Error)
			trace = append(trace, entry)
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID: call.ID, Name: call.Name, Response: response,
			}})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}
}

func (c *Caller) generateConfig(req nodeflow.ModelRequest) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(req.System)}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil && len(req.Tools) == 0 {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) == 0 {
		return cfg, nil
	}
	if c.tools == nil {
		return nil, errors.New("tools requested but no tool registry is configured")
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, name := range req.Tools {
		desc, schema, ok := c.tools.Describe(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		decls = append(decls, &genai.FunctionDeclaration{Name: name, Description: desc, ParametersJsonSchema: schema})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return cfg, nil
}

// generate drains a non-streaming call and returns its final response.
func generate(ctx context.Context, llm adkmodel.LLM, req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	var last *adkmodel.LLMResponse
	for resp, err := range llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, err
		}
		last = resp
	}
	if last == nil {
		return nil, fmt.Errorf("%s returned no response", llm.Name())
	}
	return last, nil
}
