package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFPages bounds work on very large documents.
const maxPDFPages = 500

func extractPDF(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read pdf: %w", err)
	}
	pr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("parse pdf: %w", err)
	}

	pages := make([]string, 0, min(pr.NumPage(), maxPDFPages))
	for i := 1; i <= pr.NumPage() && i <= maxPDFPages; i++ {
		if text := pageText(pr.Page(i)); text != "" {
			pages = append(pages, text)
		}
	}

	doc := Document{Text: strings.Join(pages, "\n\n")}
	doc.Title = strings.TrimSpace(pr.Trailer().Key("Info").Key("Title").Text())
	return doc, nil
}

// pageText keeps the page's visual rows as lines. Pages whose fonts cannot
// be decoded come back empty.
func pageText(p pdf.Page) string {
	if p.V.IsNull() {
		return ""
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		plain, err := p.GetPlainText(nil)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(plain)
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var sb strings.Builder
		for _, t := range row.Content {
			sb.WriteString(t.S)
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
