package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/nodeflow/internal/config"
)

var _ adkmodel.LLM = (*GeminiLLM)(nil)

// GeminiLLM talks to the Gemini API through the genai SDK.
type GeminiLLM struct {
	name   string
	apiKey string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiLLM(providerName, apiKey string) *GeminiLLM {
	return &GeminiLLM{name: providerName, apiKey: apiKey}
}

func (g *GeminiLLM) Name() string { return g.name }

// sdk returns the shared client, creating it on first use. A failed
// creation is not cached so a later call can succeed.
func (g *GeminiLLM) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	g.client = c
	return c, nil
}

func (g *GeminiLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		client, err := g.sdk(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		cfg := req.Config
		if cfg == nil {
			cfg = &genai.GenerateContentConfig{}
		}
		log := logFrom(ctx).With("provider", g.name, "model", req.Model)
		start := time.Now()

		if !stream {
			resp, err := client.Models.GenerateContent(ctx, req.Model, req.Contents, cfg)
			if err != nil {
				err = geminiError(err)
				log.Warn("model request failed", "err", err, "elapsed", time.Since(start))
				yield(nil, err)
				return
			}
			out, err := fromGenai(resp, false)
			logUsage(log, resp, start)
			yield(out, err)
			return
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, req.Contents, cfg) {
			if err != nil {
				err = geminiError(err)
				log.Warn("model stream failed", "err", err, "elapsed", time.Since(start))
				yield(nil, err)
				return
			}
			out, err := fromGenai(resp, true)
			if err != nil || out.TurnComplete {
				logUsage(log, resp, start)
			}
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}

// geminiError maps SDK status errors onto StatusError so RetryLLM treats
// Gemini and OpenAI failures alike.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = apiErr.Status
		}
		return fmt.Errorf("gemini: %w", &StatusError{StatusCode: apiErr.Code, Body: body})
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return fmt.Errorf("gemini: %w", &StatusError{StatusCode: apiPtr.Code, Body: apiPtr.Message})
	}
	return fmt.Errorf("gemini: %w", err)
}

// fromGenai converts one SDK reply. A prompt blocked by safety filters
// has no candidates and is reported as an error.
func fromGenai(resp *genai.GenerateContentResponse, partial bool) (*adkmodel.LLMResponse, error) {
	if resp == nil {
		return &adkmodel.LLMResponse{TurnComplete: true}, nil
	}
	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", fb.BlockReason)
		}
		return &adkmodel.LLMResponse{TurnComplete: true, UsageMetadata: resp.UsageMetadata}, nil
	}
	cand := resp.Candidates[0]
	done := cand.FinishReason != "" && cand.FinishReason != genai.FinishReasonUnspecified
	return &adkmodel.LLMResponse{
		Content:           cand.Content,
		GroundingMetadata: cand.GroundingMetadata,
		UsageMetadata:     resp.UsageMetadata,
		FinishReason:      cand.FinishReason,
		TurnComplete:      done,
		Partial:           partial && !done,
	}, nil
}

func logUsage(log *slog.Logger, resp *genai.GenerateContentResponse, start time.Time) {
	args := []any{"elapsed", time.Since(start)}
	if resp != nil && resp.UsageMetadata != nil {
		args = append(args,
			"prompt_tokens", resp.UsageMetadata.PromptTokenCount,
			"output_tokens", resp.UsageMetadata.CandidatesTokenCount)
	}
	log.Debug("model response", args...)
}

func init() {
	RegisterProvider("gemini", func(name string, cfg config.ProviderConfig) adkmodel.LLM {
		return NewGeminiLLM(name, cfg.APIKey)
	})
}
