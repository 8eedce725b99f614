package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// Feed reads RSS, Atom and JSON feeds and renders their items as markdown.
type Feed struct {
	client    *http.Client
	userAgent string
}

func NewFeed(client *http.Client, userAgent string) *Feed {
	if client == nil {
		client = http.DefaultClient
	}
	return &Feed{client: client, userAgent: userAgent}
}

func (f *Feed) Name() string { return "feed" }

// ParseFeed downloads and parses one feed. A non-2xx response comes back as
// a *nodeflow.FetchError carrying the status code.
func ParseFeed(ctx context.Context, client *http.Client, userAgent, target string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = client
	if fp.Client == nil {
		fp.Client = http.DefaultClient
	}
	if userAgent != "" {
		fp.UserAgent = userAgent
	}
	feed, err := fp.ParseURLWithContext(target, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, &nodeflow.FetchError{URL: target, Provider: "feed", StatusCode: he.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("parse feed %s: %w", target, err)
	}
	return feed, nil
}

func (f *Feed) Fetch(ctx context.Context, target string, _ nodeflow.FetchOptions) (*nodeflow.FetchResult, error) {
	feed, err := ParseFeed(ctx, f.client, f.userAgent, target)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, item := range feed.Items {
		fmt.Fprintf(&sb, "## %s\n", strings.TrimSpace(item.Title))
		if item.Link != "" {
			fmt.Fprintf(&sb, "%s\n", item.Link)
		}
		if item.PublishedParsed != nil {
			fmt.Fprintf(&sb, "Published: %s\n", item.PublishedParsed.UTC().Format(time.RFC3339))
		} else if item.Published != "" {
			fmt.Fprintf(&sb, "Published: %s\n", item.Published)
		}
		if desc := strings.TrimSpace(item.Description); desc != "" {
			fmt.Fprintf(&sb, "\n%s\n", desc)
		}
		sb.WriteString("\n")
	}

	title := feed.Title
	if title == "" {
		title = target
	}
	return &nodeflow.FetchResult{
		URL:         target,
		Title:       title,
		Content:     strings.TrimSpace(sb.String()),
		ContentType: "text/markdown",
	}, nil
}
