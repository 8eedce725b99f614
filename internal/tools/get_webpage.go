package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// GetWebpageTool reads a page through the web-fetch capability.
type GetWebpageTool struct {
	Fetcher ports.WebFetcher
}

type webpageArgs struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

func (g *GetWebpageTool) Name() string { return "get_webpage" }

func (g *GetWebpageTool) Description() string {
	return "Fetch a webpage URL and return its title and readable text. An optional CSS selector narrows the page to matching elements."
}

func (g *GetWebpageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch and extract text from",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "Optional CSS selector, e.g. \"article\" or \"ul.results li\"",
			},
		},
		"required": []any{"url"},
	}
}

func (g *GetWebpageTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if g.Fetcher == nil {
		return nil, errors.New("get_webpage: no fetcher configured")
	}
	var a webpageArgs
	if err := decodeArgs(g.Name(), args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	res, err := g.Fetcher.Fetch(ctx, a.URL, nodeflow.FetchOptions{Provider: "direct", Selector: a.Selector})
	if err != nil {
		return nil, err
	}
	text, _ := capText(res.Content)
	return map[string]any{
		"title": res.Title,
		"text":  text,
		"url":   res.URL,
	}, nil
}
