package model_test

import (
	"testing"

	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/model"
)

func TestBuildLLM_KnownType(t *testing.T) {
	llm, ok := model.BuildLLM("myprovider", config.ProviderConfig{Type: "gemini", APIKey: "test-key"})
	if !ok || llm == nil {
		t.Fatal("expected a gemini adapter")
	}
	if llm.Name() != "myprovider" {
		t.Errorf("Name() = %q, want myprovider", llm.Name())
	}
}

func TestBuildLLM_UnknownTypeWithURL(t *testing.T) {
	llm, ok := model.BuildLLM("local", config.ProviderConfig{
		Type: "some-openai-compat",
		URL:  "http://localhost:1234/v1",
	})
	if !ok || llm == nil {
		t.Fatal("expected OpenAI-compatible fallback")
	}
}

func TestBuildLLM_UnknownTypeNoURL(t *testing.T) {
	if _, ok := model.BuildLLM("x", config.ProviderConfig{Type: "totally-unknown"}); ok {
		t.Fatal("expected ok=false for unknown type with no URL")
	}
}

func TestBuildProviders(t *testing.T) {
	providers, err := model.BuildProviders(map[string]config.ProviderConfig{
		"openai": {Type: "openai", APIKey: "k"},
		"ollama": {Type: "openai", URL: "http://localhost:11434/v1"},
	})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	llm, name, err := providers.Resolve("ollama/llama3", "")
	if err != nil || name != "llama3" || llm.Name() != "ollama" {
		t.Errorf("Resolve(ollama/llama3) = %v, %q, %v", llm, name, err)
	}
	llm, name, err = providers.Resolve("", "openai/gpt-4o")
	if err != nil || name != "gpt-4o" || llm.Name() != "openai" {
		t.Errorf("Resolve default = %v, %q, %v", llm, name, err)
	}
	_, name, err = providers.Resolve("gpt-4o-mini", "openai/gpt-4o")
	if err != nil || name != "gpt-4o-mini" {
		t.Errorf("bare model = %q, %v", name, err)
	}
	if _, _, err := providers.Resolve("anthropic/claude", ""); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, _, err := providers.Resolve("", ""); err == nil {
		t.Error("no model and no default should fail")
	}

	if _, err := model.BuildProviders(map[string]config.ProviderConfig{"bad": {Type: "nope"}}); err == nil {
		t.Error("unknown provider type should fail")
	}
}
