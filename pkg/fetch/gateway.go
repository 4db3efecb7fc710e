package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
)

// Options controls the outbound request.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	// LogURLs logs every target at info level instead of debug.
	LogURLs bool
}

// DefaultOptions returns the gateway defaults: fixed user agent, 10s timeout, 5 redirects.
func DefaultOptions() Options {
	return Options{
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		MaxRedirects: DefaultMaxRedirects,
	}
}

// Result is the outcome of a successful fetch.
type Result struct {
	FinalURL    string
	ContentType string
	Body        []byte
}

// Gateway performs a single GET per call. It holds no per-request state and
// is safe for concurrent use.
type Gateway struct {
	client  *resty.Client
	logger  *zap.Logger
	logURLs bool
}

// NewGateway creates a Gateway. An empty user agent, a non-positive timeout
// or a negative redirect cap fall back to the defaults.
func NewGateway(opts Options, logger *zap.Logger) *Gateway {
	def := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = def.MaxRedirects
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxRedirects := opts.MaxRedirects
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: maximum of %d exceeded", errTooManyRedirects, maxRedirects)
			}
			return nil
		}))

	return &Gateway{
		client:  client,
		logger:  logger.Named("fetch"),
		logURLs: opts.LogURLs,
	}
}

// Normalize trims target and prepends https:// when it carries no http(s)
// scheme. The returned string always parses as an absolute http(s) URL.
func Normalize(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", invalidInput(target, errors.New("URL is required"))
	}

	if !hasPrefixFold(target, "http://") && !hasPrefixFold(target, "https://") {
		target = "https://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", invalidInput(target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalidInput(target, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", invalidInput(target, errors.New("missing host"))
	}
	return target, nil
}

// Fetch retrieves target. Invalid targets fail with ErrInvalidInput before
// any request is made; everything else fails with ErrFetchFailed.
func (g *Gateway) Fetch(ctx context.Context, target string) (*Result, error) {
	normalized, err := Normalize(target)
	if err != nil {
		return nil, err
	}

	if g.logURLs {
		g.logger.Info("fetching", zap.String("url", normalized))
	} else {
		g.logger.Debug("fetching", zap.String("url", normalized))
	}

	start := time.Now()
	resp, err := g.client.R().SetContext(ctx).Get(normalized)
	if err != nil {
		ferr := transportError(normalized, err)
		g.logger.Debug("fetch failed",
			zap.String("url", normalized),
			zap.String("code", ferr.Code),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, ferr
	}

	if !resp.IsSuccess() {
		return nil, statusError(normalized, resp.StatusCode(), http.StatusText(resp.StatusCode()))
	}

	finalURL := normalized
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	g.logger.Debug("fetched",
		zap.String("url", finalURL),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		FinalURL:    finalURL,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
