// Package rewrite makes fetched HTML browsable through the proxy.
//
// Resource references (src) are annotated with their absolute URL, while
// navigational references (href) are marked so that activating them loads
// the absolute target through the proxy again. Markup the rewriter does not
// touch is passed through byte for byte.
package rewrite

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	DefaultResolvedAttr = "data-original-src"
	DefaultTargetAttr   = "data-proxy-href"
	DefaultNavigator    = "proxyLink"
)

var (
	// ErrInvalidBase is returned when the base URL is not absolute.
	ErrInvalidBase = errors.New("invalid base URL")

	errMissingHost = errors.New("missing host")
)

// Options names the attributes and the client-side hook the rewriter emits.
type Options struct {
	// ResolvedAttr receives the absolute URL of a src reference.
	ResolvedAttr string
	// TargetAttr receives the absolute URL of an href reference.
	TargetAttr string
	// Navigator is the window function called with the absolute URL when a
	// rewritten link is activated.
	Navigator string
}

func DefaultOptions() Options {
	return Options{
		ResolvedAttr: DefaultResolvedAttr,
		TargetAttr:   DefaultTargetAttr,
		Navigator:    DefaultNavigator,
	}
}

// Warning records an attribute that could not be resolved. The element it
// belongs to is left untouched.
type Warning struct {
	Element string
	Attr    string
	Value   string
	Err     error
}

func (w Warning) Error() string {
	return fmt.Sprintf("skipping <%s %s=%q>: %v", w.Element, w.Attr, w.Value, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// Result is the outcome of a single rewrite.
type Result struct {
	HTML      string
	Warnings  []Warning
	Resources int
	Links     int
}

// Rewriter is stateless between calls and safe for concurrent use.
type Rewriter struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Rewriter {
	def := DefaultOptions()
	if opts.ResolvedAttr == "" {
		opts.ResolvedAttr = def.ResolvedAttr
	}
	if opts.TargetAttr == "" {
		opts.TargetAttr = def.TargetAttr
	}
	if opts.Navigator == "" {
		opts.Navigator = def.Navigator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{opts: opts, logger: logger.Named("rewrite")}
}

// Rewrite rewrites document with the default options and no logging.
func Rewrite(document, baseURL string) (string, error) {
	res, err := New(DefaultOptions(), nil).Rewrite(document, baseURL)
	if err != nil {
		return "", err
	}
	return res.HTML, nil
}

// rewriteContext lives for the duration of one Rewrite call.
type rewriteContext struct {
	base     *url.URL
	warnings []Warning
}

// Rewrite walks document as a token stream, rewriting src and href
// references relative to baseURL. Tags that gain attributes are re-rendered;
// every other byte of the input is copied through unchanged. Malformed markup
// never fails the call.
func (r *Rewriter) Rewrite(document, baseURL string) (*Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidBase, baseURL)
	}

	rc := &rewriteContext{base: base}
	res := &Result{}

	var out strings.Builder
	out.Grow(len(document) + len(document)/4)

	z := html.NewTokenizer(strings.NewReader(document))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("error tokenizing HTML: %w", err)
			}
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}

		// Token lowercases names inside the tokenizer's buffer, so the raw
		// bytes are copied first.
		raw := append([]byte(nil), z.Raw()...)
		tok := z.Token()

		changed := false
		if r.annotateResource(rc, &tok) {
			res.Resources++
			changed = true
		}
		if r.rewriteLink(rc, &tok) {
			res.Links++
			changed = true
		}

		if changed {
			out.WriteString(tok.String())
		} else {
			out.Write(raw)
		}
	}

	res.HTML = out.String()
	res.Warnings = rc.warnings
	return res, nil
}

func (r *Rewriter) annotateResource(rc *rewriteContext, tok *html.Token) bool {
	value, ok := attr(tok, "src")
	if !ok || hasSchemePrefix(value, "data:") || hasSchemePrefix(value, "javascript:") {
		return false
	}

	abs, err := resolve(rc.base, value)
	if err != nil {
		r.warn(rc, tok, "src", value, err)
		return false
	}

	setAttr(tok, r.opts.ResolvedAttr, abs)
	return true
}

func (r *Rewriter) rewriteLink(rc *rewriteContext, tok *html.Token) bool {
	value, ok := attr(tok, "href")
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "#") || hasSchemePrefix(trimmed, "javascript:") {
		return false
	}

	abs, err := resolve(rc.base, value)
	if err != nil {
		r.warn(rc, tok, "href", value, err)
		return false
	}

	style, _ := attr(tok, "style")
	setAttr(tok, r.opts.TargetAttr, abs)
	setAttr(tok, "onclick", r.navigateScript(abs))
	setAttr(tok, "style", withPointer(style))
	return true
}

// attr returns the first value of key. Later duplicates are ignored, as the
// HTML parser does.
func attr(tok *html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(tok *html.Token, key, val string) {
	for i, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			tok.Attr[i].Val = val
			return
		}
	}
	tok.Attr = append(tok.Attr, html.Attribute{Key: key, Val: val})
}

func (r *Rewriter) warn(rc *rewriteContext, tok *html.Token, attr, value string, err error) {
	w := Warning{Element: tok.Data, Attr: attr, Value: value, Err: err}
	rc.warnings = append(rc.warnings, w)
	r.logger.Warn("invalid URL",
		zap.String("element", w.Element),
		zap.String("attr", attr),
		zap.String("value", value),
		zap.Error(err),
	)
}

// navigateScript builds the onclick body. The URL is JSON encoded so it is a
// valid JS string literal whatever it contains.
func (r *Rewriter) navigateScript(abs string) string {
	lit, _ := json.Marshal(abs)
	return fmt.Sprintf("window.%s(%s); return false;", r.opts.Navigator, lit)
}

// resolve applies RFC 3986 reference resolution of value against base.
func resolve(base *url.URL, value string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}

	abs := base.ResolveReference(ref)
	if (abs.Scheme == "http" || abs.Scheme == "https") && abs.Host == "" {
		return "", errMissingHost
	}
	return abs.String(), nil
}

func hasSchemePrefix(value, prefix string) bool {
	value = strings.TrimSpace(value)
	return len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix)
}

// withPointer appends a pointer cursor; the last declaration wins, so an
// existing cursor is overridden without parsing the style.
func withPointer(style string) string {
	style = strings.TrimSpace(style)
	if strings.HasSuffix(strings.ToLower(style), "cursor: pointer;") {
		return style
	}
	if style == "" {
		return "cursor: pointer;"
	}
	return strings.TrimSuffix(style, ";") + "; cursor: pointer;"
}
