package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

const jinaMaxBody = 4 << 20

var headingRE = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// Jina reads pages through the Jina reader service, which returns markdown.
type Jina struct {
	base   string
	apiKey string
	client *http.Client
}

func NewJina(base, apiKey string, client *http.Client) *Jina {
	if base == "" {
		base = "https://r.jina.ai/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Jina{base: base, apiKey: apiKey, client: client}
}

func (j *Jina) Name() string { return "jina" }

func (j *Jina) Fetch(ctx context.Context, target string, opts nodeflow.FetchOptions) (*nodeflow.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.base+url.PathEscape(target), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	format := opts.Format
	if format == "" {
		format = "markdown"
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", format)
	if opts.Selector != "" {
		req.Header.Set("X-Target-Selector", opts.Selector)
	}
	if j.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.apiKey)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusError(target, j.Name(), resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, jinaMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	content := string(body)
	title := target
	if m := headingRE.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}
	return &nodeflow.FetchResult{URL: target, Title: title, Content: content, ContentType: "text/markdown"}, nil
}
