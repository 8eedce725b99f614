package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// ScrapeExecutor fetches a page through the web-fetch capability.
//
// Config keys: url (required, may be a template), provider, selector, format.
type ScrapeExecutor struct{}

func (*ScrapeExecutor) Kind() nodeflow.NodeKind { return nodeflow.NodeKindScrape }
func (*ScrapeExecutor) Capability() string      { return CapabilityFetch }

func (*ScrapeExecutor) Validate(n *nodeflow.Node) error {
	if n.String("url") == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

func (*ScrapeExecutor) Execute(ctx context.Context, n *nodeflow.Node, vars nodeflow.Variables, caps Capabilities) (out Outcome, err error) {
	if caps.Fetcher == nil {
		return Outcome{}, capabilityErr(n, CapabilityFetch, errors.New("no web-fetch provider configured"))
	}
	target := Render(n.String("url"), vars)
	if err := checkURL(target); err != nil {
		return Outcome{}, capabilityErr(n, CapabilityFetch, err)
	}

	// A misbehaving provider must surface as a node failure, not crash the run.
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Attempts: 1}
			err = capabilityErr(n, CapabilityFetch, fmt.Errorf("provider panic: %v", r))
		}
	}()

	res, err := caps.Fetcher.Fetch(ctx, target, nodeflow.FetchOptions{
		Provider: n.String("provider"),
		Selector: n.String("selector"),
		Format:   n.String("format"),
	})
	if err != nil {
		return Outcome{Attempts: 1}, capabilityErr(n, CapabilityFetch, err)
	}
	if res.URL == "" {
		res.URL = target
	}
	return Outcome{
		Output: map[string]any{
			"url":     res.URL,
			"title":   res.Title,
			"content": res.Content,
		},
		Attempts: 1,
	}, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: want an absolute http(s) url", raw)
	}
	return nil
}
