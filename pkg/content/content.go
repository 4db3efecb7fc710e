// Package content classifies fetched payloads and renders the ones that are
// not HTML into something safe to drop into a page.
package content

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

type Kind int

const (
	KindOther Kind = iota
	KindText
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

// Classify decides how a payload is rendered. An empty content type is
// replaced by the sniffed one, which is also returned.
func Classify(contentType string, body []byte) (Kind, string) {
	if strings.TrimSpace(contentType) == "" {
		contentType = mimetype.Detect(body).String()
	}

	lower := strings.ToLower(contentType)
	switch {
	case strings.Contains(lower, "text/html"), strings.Contains(lower, "application/xhtml+xml"):
		return KindHTML, contentType
	case strings.Contains(lower, "text/"):
		return KindText, contentType
	default:
		return KindOther, contentType
	}
}

// Decode converts body to UTF-8. The charset parameter of contentType wins,
// then for HTML a byte order mark or <meta> declaration. Otherwise valid
// UTF-8 is kept as is and anything else is detected.
func Decode(contentType string, body []byte) string {
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	}
	if label == "" {
		if kind, _ := Classify(contentType, body); kind == KindHTML {
			label = declaredCharset(contentType, body)
		}
	}
	if label == "" {
		if utf8.Valid(body) {
			return string(body)
		}
		label = detectCharset(body)
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// declaredCharset reads the encoding an HTML document declares for itself.
// windows-1252 is also what charset falls back to when nothing is declared,
// so it is left to detection.
func declaredCharset(contentType string, body []byte) string {
	_, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "windows-1252" {
		return ""
	}
	return name
}

func detectCharset(body []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// Title returns the whitespace-collapsed text of the first <title> in an
// HTML document, or "" when there is none.
func Title(document string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Escape replaces the five HTML special characters with entities.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Preformatted wraps escaped text in a <pre> block.
func Preformatted(text string) string {
	return "<pre>" + Escape(text) + "</pre>"
}

// Placeholder is shown for payloads that cannot be displayed inline.
func Placeholder(contentType string) string {
	return "<p>Content type: " + Escape(contentType) + "</p><p>Unable to display in proxy frame.</p>"
}
