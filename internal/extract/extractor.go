// Package extract turns fetched documents into plain text for scrape nodes.
package extract

import (
	"io"
	"strings"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Document is the readable form of a fetched body.
type Document struct {
	Title string
	Text  string
}

// Supported reports whether contentType has an extractor. HTML is handled
// by the fetch providers and is not listed here.
func Supported(contentType string) bool {
	switch mime := normalize(contentType); {
	case mime == MimePDF, mime == MimeDOCX, mime == MimeXLSX:
		return true
	case strings.HasPrefix(mime, "text/") && mime != "text/html":
		return true
	}
	return false
}

// Extract reads r and returns its text. Unsupported content types yield an
// empty Document and ok=false.
func Extract(contentType string, r io.Reader) (doc Document, ok bool, err error) {
	mime := normalize(contentType)
	switch {
	case mime == MimePDF:
		doc, err = extractPDF(r)
	case mime == MimeDOCX:
		doc, err = extractDOCX(r)
	case mime == MimeXLSX:
		doc, err = extractXLSX(r)
	case strings.HasPrefix(mime, "text/") && mime != "text/html":
		doc, err = extractText(r)
	default:
		return Document{}, false, nil
	}
	return doc, true, err
}

func extractText(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}
	return Document{Text: strings.TrimSpace(string(data))}, nil
}

func normalize(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(mime))
}
