package model

import (
	"fmt"
	"sort"
	"strings"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/nodeflow/internal/config"
)

// LLMFactory creates an adkmodel.LLM for a given provider name and config.
type LLMFactory func(providerName string, cfg config.ProviderConfig) adkmodel.LLM

var factories = map[string]LLMFactory{}

// RegisterProvider registers a factory for a provider type. Called from
// init() in each adapter file.
func RegisterProvider(typeName string, factory LLMFactory) {
	factories[typeName] = factory
}

// BuildLLM looks up a registered factory for cfg.Type and calls it.
// An unknown type with a URL is treated as OpenAI-compatible.
func BuildLLM(providerName string, cfg config.ProviderConfig) (adkmodel.LLM, bool) {
	if factory, ok := factories[cfg.Type]; ok {
		return factory(providerName, cfg), true
	}
	if cfg.URL != "" {
		return NewOpenAILLM(cfg.APIKey,
			WithOpenAIBaseURL(cfg.URL),
			WithOpenAIName(providerName)), true
	}
	return nil, false
}

// Providers maps configured provider names to their adapters.
type Providers map[string]adkmodel.LLM

// BuildProviders builds every configured provider, wrapping each in a
// RetryLLM. Unknown provider types are an error.
func BuildProviders(cfgs map[string]config.ProviderConfig) (Providers, error) {
	out := make(Providers, len(cfgs))
	for name, cfg := range cfgs {
		llm, ok := BuildLLM(name, cfg)
		if !ok {
			return nil, fmt.Errorf("provider %q: unknown type %q", name, cfg.Type)
		}
		out[name] = NewRetryLLM(llm, RetryPolicy{MaxRetries: cfg.MaxRetries})
	}
	return out, nil
}

// Resolve splits a "provider/model" id. A bare id is resolved against
// fallback, which is itself a "provider/model" id.
func (p Providers) Resolve(id, fallback string) (adkmodel.LLM, string, error) {
	if id == "" {
		id = fallback
	}
	if id == "" {
		return nil, "", fmt.Errorf("no model specified and no default model configured")
	}
	provider, modelName, ok := strings.Cut(id, "/")
	if !ok {
		fp, _, _ := strings.Cut(fallback, "/")
		provider, modelName = fp, id
	}
	llm, found := p[provider]
	if !found {
		return nil, "", fmt.Errorf("unknown model provider %q (configured: %s)", provider, strings.Join(p.names(), ", "))
	}
	return llm, modelName, nil
}

func (p Providers) names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
