package fetch

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skipTags are elements whose text is never readable content.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"template": true,
}

// readableText walks an HTML token stream and returns the title and the
// body text with block elements separated by newlines.
func readableText(r io.Reader) (string, string) {
	tokenizer := html.NewTokenizer(r)
	var (
		title       strings.Builder
		text        strings.Builder
		inTitle     bool
		skipDepth   int
		lastWasText bool
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or a parse error; either way return what was read.
			return strings.TrimSpace(title.String()), strings.TrimSpace(text.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "title" {
				inTitle = true
			}
			if skipTags[tag] {
				skipDepth++
			}
			if isBlockTag(tag) && lastWasText {
				text.WriteString("\n")
				lastWasText = false
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "title" {
				inTitle = false
			}
			if skipTags[tag] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			content := strings.Join(strings.Fields(string(tokenizer.Text())), " ")
			if content == "" {
				continue
			}
			if inTitle {
				title.WriteString(content)
				continue
			}
			if skipDepth == 0 {
				if lastWasText {
					text.WriteString(" ")
				}
				text.WriteString(content)
				lastWasText = true
			}
		}
	}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "br", "hr", "blockquote", "pre", "article",
		"section", "header", "footer", "nav", "main", "tr", "table":
		return true
	}
	return false
}
