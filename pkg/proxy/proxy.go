// Package proxy runs a single proxied page request: fetch the target, then
// render the payload for in-page display.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andesco/pageproxy/pkg/content"
	"github.com/andesco/pageproxy/pkg/fetch"
	"github.com/andesco/pageproxy/pkg/history"
	"github.com/andesco/pageproxy/pkg/metrics"
	"github.com/andesco/pageproxy/pkg/rewrite"
	"go.uber.org/zap"
)

// Fetcher retrieves a target URL.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*fetch.Result, error)
}

// Page is what the client renders.
type Page struct {
	URL         string
	ContentType string
	Kind        content.Kind
	// Title is the document title of an HTML page.
	Title       string
	Content     string
	Warnings    []rewrite.Warning
}

// Request carries the per-request values the pipeline needs.
type Request struct {
	Target string
	// Client identifies whose history the visit is recorded in. Empty
	// skips recording.
	Client string
}

type Service struct {
	fetcher  Fetcher
	rewriter *rewrite.Rewriter
	history  history.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService wires the pipeline. history and m may be nil.
func NewService(f Fetcher, rw *rewrite.Rewriter, h history.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rw == nil {
		rw = rewrite.New(rewrite.DefaultOptions(), logger)
	}
	return &Service{
		fetcher:  f,
		rewriter: rw,
		history:  h,
		metrics:  m,
		logger:   logger.Named("proxy"),
	}
}

// Proxy fetches req.Target and renders it. The fetch always completes before
// rendering starts.
func (s *Service) Proxy(ctx context.Context, req Request) (*Page, error) {
	start := time.Now()
	res, err := s.fetcher.Fetch(ctx, req.Target)
	s.observeFetch(start, err)
	if err != nil {
		s.countRequest(err)
		return nil, err
	}

	page, err := s.render(res)
	if err != nil {
		s.countRequest(err)
		return nil, err
	}

	if s.history != nil && req.Client != "" {
		if _, err := s.history.Record(ctx, req.Client, page.URL); err != nil {
			s.logger.Warn("failed to record history", zap.String("url", page.URL), zap.Error(err))
		}
	}

	s.countRequest(nil)
	return page, nil
}

func (s *Service) render(res *fetch.Result) (*Page, error) {
	kind, contentType := content.Classify(res.ContentType, res.Body)
	page := &Page{URL: res.FinalURL, ContentType: contentType, Kind: kind}

	switch kind {
	case content.KindHTML:
		decoded := content.Decode(contentType, res.Body)
		rewritten, err := s.rewriter.Rewrite(decoded, res.FinalURL)
		if err != nil {
			return nil, fmt.Errorf("error rewriting %s: %w", res.FinalURL, err)
		}
		page.Title = content.Title(decoded)
		page.Content = rewritten.HTML
		page.Warnings = rewritten.Warnings
		if s.metrics != nil {
			s.metrics.RewriteWarnings.Add(float64(len(rewritten.Warnings)))
		}
	case content.KindText:
		page.Content = content.Preformatted(content.Decode(contentType, res.Body))
	default:
		page.Content = content.Placeholder(contentType)
	}

	if s.metrics != nil {
		s.metrics.ResponseBytes.Observe(float64(len(res.Body)))
		s.metrics.ContentKindTotal.WithLabelValues(kind.String()).Inc()
	}
	return page, nil
}

func (s *Service) observeFetch(start time.Time, err error) {
	if s.metrics == nil || errors.Is(err, fetch.ErrInvalidInput) {
		return
	}
	s.metrics.FetchDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
}

func (s *Service) countRequest(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, fetch.ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	case errors.Is(err, fetch.ErrFetchFailed):
		return metrics.OutcomeFetchFailed
	default:
		return metrics.OutcomeError
	}
}
