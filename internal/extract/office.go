package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractDOCX reads word/document.xml out of the archive. The first
// paragraph styled Title, if any, becomes the document title.
func extractDOCX(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read docx: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("open docx zip: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Document{}, err
		}
		defer rc.Close()
		return parseDOCXXML(rc), nil
	}
	return Document{}, fmt.Errorf("word/document.xml not found in docx")
}

func parseDOCXXML(r io.Reader) Document {
	var (
		doc     Document
		body    strings.Builder
		para    strings.Builder
		isTitle bool
	)
	flush := func() {
		text := strings.TrimSpace(para.String())
		if isTitle && doc.Title == "" {
			doc.Title = text
		}
		if text != "" {
			body.WriteString(text)
			body.WriteString("\n")
		}
		para.Reset()
		isTitle = false
	}

	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if err != nil {
			// Truncated XML keeps whatever was read so far.
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "pStyle":
				for _, a := range el.Attr {
					if a.Name.Local == "val" && a.Value == "Title" {
						isTitle = true
					}
				}
			case "t":
				var content struct {
					Text string `xml:",chardata"`
				}
				if err := decoder.DecodeElement(&content, &el); err == nil {
					para.WriteString(content.Text)
				}
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				flush()
			}
		}
	}
	flush()
	doc.Text = strings.TrimSpace(body.String())
	return doc
}

// extractXLSX renders every sheet as a heading followed by tab separated rows.
func extractXLSX(r io.Reader) (Document, error) {
	xf, err := excelize.OpenReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer xf.Close()

	var sb strings.Builder
	sheets := xf.GetSheetList()
	for _, sheet := range sheets {
		rows, err := xf.GetRows(sheet)
		if err != nil {
			continue
		}
		if len(sheets) > 1 {
			fmt.Fprintf(&sb, "## %s\n", sheet)
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	title := ""
	if props, err := xf.GetDocProps(); err == nil && props != nil {
		title = props.Title
	}
	return Document{Title: title, Text: strings.TrimSpace(sb.String())}, nil
}
