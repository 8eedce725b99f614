package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/soochol/nodeflow/internal/extract"
	"github.com/soochol/nodeflow/internal/nodeflow"
)

const directMaxBody = 8 << 20

// Direct fetches the page itself. HTML is reduced to readable text (or the
// selected elements); PDF and Office documents go through extract.
type Direct struct {
	client    *http.Client
	userAgent string
}

func NewDirect(client *http.Client, userAgent string) *Direct {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = "nodeflow/1.0"
	}
	return &Direct{client: client, userAgent: userAgent}
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Fetch(ctx context.Context, target string, opts nodeflow.FetchOptions) (*nodeflow.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusError(target, d.Name(), resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, directMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	res := &nodeflow.FetchResult{URL: target, Title: target, ContentType: contentType}

	switch {
	case isHTML(contentType):
		title, content, err := htmlContent(body, opts)
		if err != nil {
			return nil, err
		}
		if title != "" {
			res.Title = title
		}
		res.Content = content
	case extract.Supported(contentType):
		doc, _, err := extract.Extract(contentType, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if doc.Title != "" {
			res.Title = doc.Title
		}
		res.Content = doc.Text
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	return res, nil
}

// htmlContent applies the optional CSS selector and output format.
func htmlContent(body []byte, opts nodeflow.FetchOptions) (string, string, error) {
	if opts.Selector == "" {
		title, text := readableText(bytes.NewReader(body))
		if opts.Format == "html" {
			return title, string(body), nil
		}
		return title, text, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	sel := doc.Find(opts.Selector)
	if sel.Length() == 0 {
		return "", "", fmt.Errorf("selector %q matched nothing", opts.Selector)
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if opts.Format == "html" {
			if h, err := goquery.OuterHtml(s); err == nil {
				parts = append(parts, h)
			}
			return
		}
		if h, err := goquery.OuterHtml(s); err == nil {
			if _, text := readableText(strings.NewReader(h)); text != "" {
				parts = append(parts, text)
			}
		}
	})
	return title, strings.Join(parts, "\n\n"), nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
