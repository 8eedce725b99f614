package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/soochol/nodeflow/internal/fetch"
)

// RSSFeedTool returns structured feed items, optionally filtered by date.
type RSSFeedTool struct {
	Client    *http.Client
	UserAgent string
}

type rssArgs struct {
	URL       string `json:"url"`
	MaxItems  int    `json:"max_items"`
	SinceDate string `json:"since_date"`
}

type FeedItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Author    string `json:"author,omitempty"`
}

type FeedResult struct {
	FeedTitle string     `json:"feed_title"`
	FeedURL   string     `json:"feed_url"`
	Items     []FeedItem `json:"items"`
}

func (r *RSSFeedTool) Name() string { return "fetch_rss" }

func (r *RSSFeedTool) Description() string {
	return "Fetch and parse an RSS, Atom or JSON feed. Returns items with title, link, published date, summary and author."
}

func (r *RSSFeedTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL of the feed",
			},
			"max_items": map[string]any{
				"type":        "integer",
				"description": "Maximum number of items to return (default: all)",
			},
			"since_date": map[string]any{
				"type":        "string",
				"description": "Only return items published at or after this RFC 3339 time, e.g. 2026-02-20T00:00:00Z",
			},
		},
		"required": []any{"url"},
	}
}

func (r *RSSFeedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a rssArgs
	if err := decodeArgs(r.Name(), args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	var since time.Time
	if a.SinceDate != "" {
		t, err := time.Parse(time.RFC3339, a.SinceDate)
		if err != nil {
			return nil, fmt.Errorf("since_date must be RFC 3339: %w", err)
		}
		since = t
	}

	feed, err := fetch.ParseFeed(ctx, r.Client, r.UserAgent, a.URL)
	if err != nil {
		return nil, err
	}

	out := &FeedResult{FeedTitle: feed.Title, FeedURL: feed.Link, Items: []FeedItem{}}
	for _, item := range feed.Items {
		// Undated items never pass a date filter.
		if !since.IsZero() && (item.PublishedParsed == nil || item.PublishedParsed.Before(since)) {
			continue
		}
		fi := FeedItem{Title: item.Title, Link: item.Link, Summary: item.Description, Published: item.Published}
		if item.PublishedParsed != nil {
			fi.Published = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		if item.Author != nil {
			fi.Author = item.Author.Name
		}
		out.Items = append(out.Items, fi)
		if a.MaxItems > 0 && len(out.Items) >= a.MaxItems {
			break
		}
	}
	return out, nil
}
