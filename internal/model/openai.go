// Package model adapts LLM providers to the ADK model interface and turns
// them into the engine's model-call capability.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/nodeflow/internal/config"
)

var _ adkmodel.LLM = (*OpenAILLM)(nil)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIOption configures an OpenAILLM instance.
type OpenAIOption func(*OpenAILLM)

// WithOpenAIBaseURL points the adapter at an OpenAI-compatible endpoint such
// as Ollama or LM Studio.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *OpenAILLM) { o.baseURL = strings.TrimRight(url, "/") }
}

func WithOpenAIName(name string) OpenAIOption {
	return func(o *OpenAILLM) { o.name = name }
}

func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAILLM) { o.client = c }
}

// OpenAILLM speaks the Chat Completions API.
type OpenAILLM struct {
	apiKey  string
	baseURL string
	name    string
	client  *http.Client
}

func NewOpenAILLM(apiKey string, opts ...OpenAIOption) *OpenAILLM {
	llm := &OpenAILLM{
		apiKey:  apiKey,
		baseURL: openaiDefaultBaseURL,
		name:    "openai",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(llm)
	}
	return llm
}

func (o *OpenAILLM) Name() string { return o.name }

// GenerateContent yields exactly one response; streaming is not used by the
// engine.
func (o *OpenAILLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, _ bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		resp, err := o.complete(ctx, req)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", o.name, err))
			return
		}
		yield(resp, nil)
	}
}

func (o *OpenAILLM) complete(ctx context.Context, req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	body, err := o.buildRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	logFrom(ctx).Debug("model request", "provider", o.name, "model", req.Model, "messages", len(req.Contents))
	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var apiResp openaiChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return convertOpenAIResponse(&apiResp)
}

// buildRequestBody converts an LLMRequest into a chat completions body.
func (o *OpenAILLM) buildRequestBody(req *adkmodel.LLMRequest) (map[string]any, error) {
	body := map[string]any{
		"model":  req.Model,
		"stream": false,
	}

	var messages []map[string]any
	cfg := req.Config
	if cfg != nil && cfg.SystemInstruction != nil {
		if text := joinText(cfg.SystemInstruction); text != "" {
			messages = append(messages, map[string]any{"role": "system", "content": text})
		}
	}
	for _, content := range req.Contents {
		msgs, err := convertOpenAIContent(content)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}
	body["messages"] = messages

	if cfg == nil {
		return body, nil
	}
	if tools := convertOpenAITools(cfg.Tools); len(tools) > 0 {
		body["tools"] = tools
	}
	if cfg.ResponseMIMEType == "application/json" {
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	if cfg.Temperature != nil {
		body["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		body["top_p"] = *cfg.TopP
	}
	if cfg.MaxOutputTokens > 0 {
		body["max_tokens"] = cfg.MaxOutputTokens
	}
	if len(cfg.StopSequences) > 0 {
		body["stop"] = cfg.StopSequences
	}
	return body, nil
}

// convertOpenAIContent maps one genai turn to chat messages. Function calls
// become an assistant message with tool_calls; function responses become
// one tool message each.
func convertOpenAIContent(content *genai.Content) ([]map[string]any, error) {
	var (
		toolCalls []map[string]any
		texts     []string
		messages  []map[string]any
	)
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal function call args: %w", err)
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   part.FunctionCall.ID,
				"type": "function",
				"function": map[string]any{
					"name":      part.FunctionCall.Name,
					"arguments": string(args),
				},
			})
		case part.FunctionResponse != nil:
			out, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return nil, fmt.Errorf("marshal function response: %w", err)
			}
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": part.FunctionResponse.ID,
				"content":      string(out),
			})
		case part.Text != "":
			texts = append(texts, part.Text)
		}
	}

	switch {
	case len(toolCalls) > 0:
		msg := map[string]any{"role": "assistant", "tool_calls": toolCalls}
		if len(texts) > 0 {
			msg["content"] = strings.Join(texts, "\n")
		}
		return []map[string]any{msg}, nil
	case len(messages) > 0:
		return messages, nil
	case len(texts) > 0:
		return []map[string]any{{"role": openaiRole(content.Role), "content": strings.Join(texts, "\n")}}, nil
	}
	return nil, nil
}

func convertOpenAITools(tools []*genai.Tool) []map[string]any {
	var out []map[string]any
	for _, tool := range tools {
		for _, fd := range tool.FunctionDeclarations {
			fn := map[string]any{"name": fd.Name}
			if fd.Description != "" {
				fn["description"] = fd.Description
			}
			switch {
			case fd.ParametersJsonSchema != nil:
				fn["parameters"] = fd.ParametersJsonSchema
			case fd.Parameters != nil:
				fn["parameters"] = convertSchema(fd.Parameters)
			}
			out = append(out, map[string]any{"type": "function", "function": fn})
		}
	}
	return out
}

// convertSchema converts a genai.Schema to JSON Schema.
func convertSchema(s *genai.Schema) map[string]any {
	schema := map[string]any{}
	if s.Type != "" {
		schema["type"] = strings.ToLower(string(s.Type))
	}
	if s.Description != "" {
		schema["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		schema["enum"] = s.Enum
	}
	if s.Items != nil {
		schema["items"] = convertSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = convertSchema(prop)
		}
		schema["properties"] = props
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

func convertOpenAIResponse(resp *openaiChatResponse) (*adkmodel.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	msg := resp.Choices[0].Message
	content := &genai.Content{Role: genai.RoleModel}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decode tool call arguments: %w", err)
			}
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
		})
	}
	if len(msg.ToolCalls) == 0 && msg.Content != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(msg.Content))
	}
	return &adkmodel.LLMResponse{Content: content, TurnComplete: true}, nil
}

func joinText(content *genai.Content) string {
	var texts []string
	for _, part := range content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func openaiRole(role string) string {
	switch role {
	case genai.RoleModel:
		return "assistant"
	case genai.RoleUser:
		return "user"
	}
	return role
}

func init() {
	RegisterProvider("openai", func(name string, cfg config.ProviderConfig) adkmodel.LLM {
		opts := []OpenAIOption{WithOpenAIName(name)}
		if cfg.URL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.URL))
		}
		return NewOpenAILLM(cfg.APIKey, opts...)
	})
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
