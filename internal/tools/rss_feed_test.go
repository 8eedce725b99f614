package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

const testRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <item>
      <title>Article One</title>
      <link>https://example.com/1</link>
      <description>First article summary</description>
      <pubDate>Mon, 20 Feb 2026 09:00:00 GMT</pubDate>
      <author>Alice</author>
    </item>
    <item>
      <title>Article Two</title>
      <link>https://example.com/2</link>
      <description>Second article summary</description>
      <pubDate>Sun, 19 Feb 2026 09:00:00 GMT</pubDate>
      <author>Bob</author>
    </item>
  </channel>
</rss>`

func TestRSSFeedTool_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(testRSSFeed))
	}))
	defer srv.Close()

	tool := &RSSFeedTool{}

	if tool.Name() != "fetch_rss" {
		t.Fatalf("expected name fetch_rss, got %s", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"url": srv.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, ok := result.(*FeedResult)
	if !ok {
		t.Fatalf("expected *FeedResult, got %T", result)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	if res.Items[0].Title != "Article One" || res.Items[0].Published != "2026-02-20T09:00:00Z" {
		t.Errorf("first item = %+v", res.Items[0])
	}
	if res.FeedTitle != "Test Feed" {
		t.Errorf("expected feed_title 'Test Feed', got %v", res.FeedTitle)
	}
}

func TestRSSFeedTool_MaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(testRSSFeed))
	}))
	defer srv.Close()

	tool := &RSSFeedTool{}
	result, err := tool.Execute(context.Background(), map[string]any{
		"url":       srv.URL,
		"max_items": float64(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := result.(*FeedResult).Items
	if len(items) != 1 {
		t.Fatalf("expected 1 item with max_items=1, got %d", len(items))
	}
}

func TestRSSFeedTool_HTTPErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	_, err := (&RSSFeedTool{}).Execute(context.Background(), map[string]any{"url": srv.URL})
	var fe *nodeflow.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusGone {
		t.Fatalf("err = %v, want FetchError 410", err)
	}
}

func TestRSSFeedTool_InvalidURL(t *testing.T) {
	tool := &RSSFeedTool{}
	_, err := tool.Execute(context.Background(), map[string]any{
		"url": "http://localhost:1/nonexistent",
	})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRSSFeedTool_SinceDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testRSSFeed))
	}))
	defer srv.Close()

	tool := &RSSFeedTool{Client: srv.Client()}
	result, err := tool.Execute(context.Background(), map[string]any{
		"url":        srv.URL,
		"since_date": "2026-02-20T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.(*FeedResult).Items
	if len(items) != 1 || items[0].Author != "Alice" {
		t.Fatalf("expected only Alice's article, got %v", items)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL, "since_date": "yesterday"}); err == nil {
		t.Error("expected error for non-RFC3339 since_date")
	}
}
