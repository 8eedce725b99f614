package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/soochol/nodeflow/internal/fetch"
	"github.com/soochol/nodeflow/internal/nodeflow"
)

type stubFetcher struct {
	opts nodeflow.FetchOptions
	res  *nodeflow.FetchResult
	err  error
}

func (s *stubFetcher) Fetch(_ context.Context, _ string, opts nodeflow.FetchOptions) (*nodeflow.FetchResult, error) {
	s.opts = opts
	return s.res, s.err
}

func TestGetWebpageTool_BasicHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title></head><body><h1>Hello</h1><script>alert('x')</script><p>World</p></body></html>`))
	}))
	defer srv.Close()

	tool := &GetWebpageTool{Fetcher: fetch.NewRouter("direct", []fetch.Provider{fetch.NewDirect(srv.Client(), "")})}
	result, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	m := result.(map[string]any)
	if m["title"] != "Test Page" {
		t.Errorf("expected title 'Test Page', got %v", m["title"])
	}
	text := m["text"].(string)
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "World") {
		t.Errorf("expected text to contain 'Hello' and 'World', got %q", text)
	}
	if strings.Contains(text, "alert") {
		t.Errorf("expected script content to be stripped, got %q", text)
	}
}

func TestGetWebpageTool_PassesSelector(t *testing.T) {
	f := &stubFetcher{res: &nodeflow.FetchResult{URL: "https://example.com", Content: strings.Repeat("a", maxOutput+10)}}
	result, err := (&GetWebpageTool{Fetcher: f}).Execute(context.Background(), map[string]any{
		"url":      "https://example.com",
		"selector": "article",
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.opts.Selector != "article" || f.opts.Provider != "direct" {
		t.Errorf("options = %+v", f.opts)
	}
	if text := result.(map[string]any)["text"].(string); !strings.HasSuffix(text, "[truncated at 100KB]") {
		t.Errorf("expected truncation marker, got suffix %q", text[len(text)-20:])
	}
}

func TestGetWebpageTool_MissingURL(t *testing.T) {
	tool := &GetWebpageTool{Fetcher: &stubFetcher{}}
	_, err := tool.Execute(context.Background(), map[string]any{})
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestGetWebpageTool_FetchError(t *testing.T) {
	want := &nodeflow.FetchError{URL: "u", Provider: "direct", StatusCode: 404, Err: errors.New("404 Not Found")}
	_, err := (&GetWebpageTool{Fetcher: &stubFetcher{err: want}}).Execute(context.Background(), map[string]any{"url": "u"})
	var fe *nodeflow.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 404 {
		t.Errorf("expected FetchError 404, got %v", err)
	}
}
