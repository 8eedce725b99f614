// Package fetch implements the web-fetch capability: a rate limited router
// over the jina, direct and feed providers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

const truncatedMarker = "\n... [truncated]"

// Provider fetches one URL. Errors need not be *nodeflow.FetchError; the
// router wraps them.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, url string, opts nodeflow.FetchOptions) (*nodeflow.FetchResult, error)
}

// Router dispatches fetches to providers by name.
type Router struct {
	providers       map[string]Provider
	defaultProvider string
	maxBytes        int
	limiter         *rate.Limiter
	logger          *slog.Logger
}

var _ ports.WebFetcher = (*Router)(nil)

type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRateLimit caps outgoing fetches across all providers. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Router) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithMaxBytes(n int) Option { return func(r *Router) { r.maxBytes = n } }

func NewRouter(defaultProvider string, providers []Provider, opts ...Option) *Router {
	r := &Router{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: defaultProvider,
		logger:          slog.Default(),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// New wires the three built-in providers from config. logger may be nil.
func New(cfg config.FetchConfig, logger *slog.Logger) *Router {
	client := &http.Client{Timeout: cfg.Timeout}
	return NewRouter(cfg.DefaultProvider, []Provider{
		NewJina(cfg.JinaURL, cfg.JinaAPIKey, client),
		NewDirect(client, cfg.UserAgent),
		NewFeed(client, cfg.UserAgent),
	},
		WithLogger(logger),
		WithRateLimit(cfg.RatePerSecond, cfg.Burst),
		WithMaxBytes(cfg.MaxBytes),
	)
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fetch runs the selected provider. Every failure, including a provider
// panic, comes back as *nodeflow.FetchError.
func (r *Router) Fetch(ctx context.Context, url string, opts nodeflow.FetchOptions) (res *nodeflow.FetchResult, err error) {
	name := opts.Provider
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &nodeflow.FetchError{URL: url, Provider: name, Err: errors.New("unknown provider")}
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &nodeflow.FetchError{URL: url, Provider: name, Err: err}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("fetch provider panicked", "provider", name, "url", url, "panic", rec)
			res, err = nil, &nodeflow.FetchError{URL: url, Provider: name, Err: fmt.Errorf("provider panic: %v", rec)}
		}
	}()

	start := time.Now()
	res, err = p.Fetch(ctx, url, opts)
	if err != nil {
		var fe *nodeflow.FetchError
		if !errors.As(err, &fe) {
			err = &nodeflow.FetchError{URL: url, Provider: name, Err: err}
		}
		r.logger.Warn("fetch failed", "provider", name, "url", url, "err", err)
		return nil, err
	}
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = r.maxBytes
	}
	res.Content = truncate(res.Content, limit)
	r.logger.Debug("fetched", "provider", name, "url", url, "bytes", len(res.Content), "duration", time.Since(start))
	return res, nil
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n") + truncatedMarker
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func statusError(url, provider string, resp *http.Response) error {
	return &nodeflow.FetchError{URL: url, Provider: provider, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
}
