// Package textextract pulls scannable text, title and image references out
// of page bodies.
package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for content types that cannot be scanned.
var ErrUnsupported = errors.New("unsupported content type")

// Document is the scannable view of a page body.
type Document struct {
	Kind   string   // html, pdf or text
	Title  string
	Text   string
	Images []string // raw src attributes, in document order
	Pages  int
}

// MediaType returns the lowercased media type of a Content-Type header,
// sniffing body when the header is empty.
func MediaType(contentType string, body []byte) string {
	if contentType == "" {
		contentType = sniff(body)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

// IsHTML reports whether the media type is rendered as a DOM.
func IsHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Extract parses body according to its content type.
func Extract(body []byte, contentType string) (*Document, error) {
	mt := MediaType(contentType, body)
	switch {
	case IsHTML(mt):
		return ExtractHTML(body)
	case mt == "application/pdf":
		return extractPDF(body)
	case mt == "text/plain":
		return extractTXT(body)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mt)
	}
}

func extractPDF(body []byte) (*Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read PDF page %d: %w", i, err)
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &Document{Kind: "pdf", Text: buf.String(), Pages: numPages}, nil
}

func extractTXT(body []byte) (*Document, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("read TXT: invalid UTF-8")
	}
	return &Document{Kind: "text", Text: string(bytes.TrimSpace(body)), Pages: 1}, nil
}

func sniff(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(trimmed, []byte("%PDF-")):
		return "application/pdf"
	case len(trimmed) > 0 && trimmed[0] == '<':
		return "text/html"
	}
	return "text/plain"
}
