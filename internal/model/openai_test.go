package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"
)

// chatServer answers /chat/completions with reply and hands each decoded
// request body to inspect.
func chatServer(t *testing.T, inspect func(body map[string]any), reply map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if inspect != nil {
			inspect(body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func textReply(text string) map[string]any {
	return map[string]any{"choices": []map[string]any{{
		"message":       map[string]any{"role": "assistant", "content": text},
		"finish_reason": "stop",
	}}}
}

func collect(t *testing.T, llm adkmodel.LLM, req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	t.Helper()
	var got []*adkmodel.LLMResponse
	for resp, err := range llm.GenerateContent(context.Background(), req, false) {
		if err != nil {
			return nil, err
		}
		got = append(got, resp)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 response, got %d", len(got))
	}
	return got[0], nil
}

func TestOpenAILLM_Name(t *testing.T) {
	if got := NewOpenAILLM("k").Name(); got != "openai" {
		t.Errorf("Name() = %q, want openai", got)
	}
	if got := NewOpenAILLM("k", WithOpenAIName("ollama")).Name(); got != "ollama" {
		t.Errorf("Name() = %q, want ollama", got)
	}
}

func TestOpenAILLM_GenerateContent(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		msgs := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected system + user messages, got %d", len(msgs))
		}
		if sys := msgs[0].(map[string]any); sys["role"] != "system" || sys["content"] != "Be brief." {
			t.Errorf("system message = %v", sys)
		}
		if body["model"] != "gpt-4o" || body["stream"] != false {
			t.Errorf("model/stream = %v/%v", body["model"], body["stream"])
		}
		if rf, ok := body["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
			t.Errorf("response_format = %v", body["response_format"])
		}
		json.NewEncoder(w).Encode(textReply(`{"ok":true}`))
	}))
	defer srv.Close()

	llm := NewOpenAILLM("test-key", WithOpenAIBaseURL(srv.URL+"/"))
	resp, err := collect(t, llm, &adkmodel.LLMRequest{
		Model:    "gpt-4o",
		Contents: []*genai.Content{{Role: "user", Parts: []*genai.Part{genai.NewPartFromText("Hello")}}},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText("Be brief.")}},
			ResponseMIMEType:  "application/json",
		},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if resp.Content.Role != genai.RoleModel || resp.Content.Parts[0].Text != `{"ok":true}` {
		t.Errorf("response = %+v", resp.Content)
	}
	if !resp.TurnComplete {
		t.Error("expected TurnComplete")
	}
}

func TestOpenAILLM_ToolRoundTrip(t *testing.T) {
	var sent map[string]any
	srv := chatServer(t, func(body map[string]any) { sent = body }, map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"id": "call_1", "type": "function",
					"function": map[string]any{"name": "get_webpage", "arguments": `{"url":"https://example.com"}`},
				}},
			},
			"finish_reason": "tool_calls",
		}},
	})

	llm := NewOpenAILLM("", WithOpenAIBaseURL(srv.URL))
	resp, err := collect(t, llm, &adkmodel.LLMRequest{
		Model: "gpt-4o",
		Contents: []*genai.Content{
			{Role: "user", Parts: []*genai.Part{genai.NewPartFromText("read it")}},
			{Role: "model", Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "call_0", Name: "get_webpage", Args: map[string]any{"url": "a"}}}}},
			{Role: "user", Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: "call_0", Name: "get_webpage", Response: map[string]any{"result": "x"}}}}},
		},
		Config: &genai.GenerateContentConfig{Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:                 "get_webpage",
			Description:          "Fetch a page",
			ParametersJsonSchema: map[string]any{"type": "object"},
		}}}}},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	msgs := sent["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if m := msgs[1].(map[string]any); m["role"] != "assistant" || m["tool_calls"] == nil {
		t.Errorf("assistant tool call message = %v", m)
	}
	if m := msgs[2].(map[string]any); m["role"] != "tool" || m["tool_call_id"] != "call_0" {
		t.Errorf("tool message = %v", m)
	}
	fn := sent["tools"].([]any)[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "get_webpage" || fn["parameters"] == nil {
		t.Errorf("tool = %v", fn)
	}

	call := resp.Content.Parts[0].FunctionCall
	if call == nil || call.ID != "call_1" || call.Args["url"] != "https://example.com" {
		t.Errorf("function call = %+v", call)
	}
}

func TestOpenAILLM_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := collect(t, NewOpenAILLM("", WithOpenAIBaseURL(srv.URL)), &adkmodel.LLMRequest{Model: "m"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want StatusError 429", err)
	}
	if !isRetryable(err) {
		t.Error("429 should be retryable")
	}
}

func TestConvertSchema(t *testing.T) {
	got := convertSchema(&genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"n": {Type: genai.TypeInteger}},
		Required:   []string{"n"},
	})
	if got["type"] != "object" {
		t.Errorf("type = %v", got["type"])
	}
	if p := got["properties"].(map[string]any)["n"].(map[string]any); p["type"] != "integer" {
		t.Errorf("property = %v", p)
	}
}
