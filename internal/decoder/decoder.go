// Package decoder turns raw document bytes into plain text by media type.
// Unknown media types fall back to a lossy UTF-8 decode, matching how most
// text-adjacent formats are best served for indexing.
package decoder

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

type decodeFunc func(data []byte) (string, error)

// decoders maps media types to their dedicated handlers. Anything absent
// here goes through the plain-text fallback.
var decoders = map[string]decodeFunc{
	"application/pdf": decodePDF,
	"text/html":       decodeHTML,
	"application/xml": decodeXML,
	"text/xml":        decodeXML,
}

var xmlEndTag = regexp.MustCompile(`</.+>`)

// Decode extracts plain text from a document. The title is consulted for
// format quirks that the media type alone cannot resolve. A false return
// means the document could not be decoded or yielded no text; callers drop
// such documents and move on.
func Decode(title, mediaType string, data []byte) (string, bool) {
	// .pot names ambiguously mean both powerpoint templates and gettext
	// templates, so they are skipped to prevent decoding garbage.
	if strings.HasSuffix(title, ".pot") {
		return "", false
	}
	if mediaType == "" {
		return "", false
	}

	fn, ok := decoders[mediaType]
	if !ok {
		fn = decodePlain
	}

	text, err := fn(data)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// decodePDF extracts text from every page. Malformed PDFs can make the
// reader panic, so the whole walk runs under a recover.
func decodePDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder: pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("decoder: pdf reader: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// decodeHTML strips markup and returns the rendered text content.
func decodeHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoder: html parse: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

// decodeXML drops closing tags and keeps the rest, which leaves tag names
// as lightweight section markers next to the character data.
func decodeXML(data []byte) (string, error) {
	text, err := decodePlain(data)
	if err != nil {
		return "", err
	}
	return xmlEndTag.ReplaceAllString(text, ""), nil
}

// decodePlain is a lossy UTF-8 decode: invalid sequences and NUL bytes are
// dropped rather than failing the document.
func decodePlain(data []byte) (string, error) {
	text := strings.ToValidUTF8(string(data), "")
	return strings.ReplaceAll(text, "\x00", ""), nil
}
