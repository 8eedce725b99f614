package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const httpToolTimeout = 30 * time.Second

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead,
}

// HTTPRequestTool lets a model call external APIs. A nil Client uses
// http.DefaultClient.
type HTTPRequestTool struct {
	Client *http.Client
}

type httpRequestArgs struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// HTTPResult is what the model sees for one request.
type HTTPResult struct {
	StatusCode int               `json:"status_code"`
	Status     string            `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Truncated  bool              `json:"truncated,omitempty"`
}

func (h *HTTPRequestTool) Name() string { return "http_request" }

func (h *HTTPRequestTool) Description() string {
	return "Make an HTTP request to an external API or URL. Returns the response status, headers and body."
}

func (h *HTTPRequestTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method (default GET)",
				"enum":        []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http or https URL",
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Optional request headers",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Optional request body",
			},
		},
		"required": []any{"url"},
	}
}

func (h *HTTPRequestTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a httpRequestArgs
	if err := decodeArgs(h.Name(), args, &a); err != nil {
		return nil, err
	}
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !slices.Contains(allowedMethods, method) {
		return nil, fmt.Errorf("unsupported HTTP method: %q", method)
	}
	if a.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http(s) URL: %q", a.URL)
	}

	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(a.Body)
	}
	ctx, cancel := context.WithTimeout(ctx, httpToolTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOutput+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &HTTPResult{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    make(map[string]string, len(resp.Header)),
	}
	out.Body, out.Truncated = capText(string(raw))
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	return out, nil
}
