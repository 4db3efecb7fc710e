package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"  example.com/path?q=1  ", "https://example.com/path?q=1"},
		{"http://example.com", "http://example.com"},
		{"https://example.com/a", "https://example.com/a"},
		{"HTTPS://Example.com", "HTTPS://Example.com"},
		{"localhost:8080/x", "https://localhost:8080/x"},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n", "exa mple.com", "https://", "http://[::1"} {
		_, err := Normalize(in)
		require.Error(t, err, "%q", in)
		assert.True(t, errors.Is(err, ErrInvalidInput), "%q: %v", in, err)

		var ferr *Error
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, CodeInvalidURL, ferr.Code)
	}
}

func TestGatewayDefaults(t *testing.T) {
	for _, opts := range []Options{DefaultOptions(), {}} {
		g := NewGateway(opts, nil)
		assert.Equal(t, 10*time.Second, g.client.GetClient().Timeout)
		assert.Equal(t, DefaultUserAgent, g.client.Header.Get("User-Agent"))
	}

	g := NewGateway(Options{Timeout: 2 * time.Second}, nil)
	assert.Equal(t, 2*time.Second, g.client.GetClient().Timeout)
}

func TestGatewayLoggerName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	_, err := NewGateway(DefaultOptions(), zap.New(core)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NotZero(t, logs.Len())
	for _, e := range logs.All() {
		assert.Equal(t, "fetch", e.LoggerName)
	}
}

func TestFetchEmptyTargetMakesNoRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	_, err := g.Fetch(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits)
}

func TestFetchSuccess(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<p>hello</p>")
	}))
	defer srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	res, err := g.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)

	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, srv.URL+"/page", res.FinalURL)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Equal(t, "<p>hello</p>", string(res.Body))
}

func TestFetchReportsFinalURLAfterRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "done")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	res, err := g.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/end", res.FinalURL)
	assert.Equal(t, "done", string(res.Body))
}

func TestFetchRedirectLimit(t *testing.T) {
	hops := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", hops), http.StatusFound)
	}))
	defer srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	_, err := g.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, CodeTooManyRedirects, ferr.Code)
	assert.Equal(t, DefaultMaxRedirects+1, hops)
}

func TestFetchAllowsExactlyMaxRedirects(t *testing.T) {
	mux := http.NewServeMux()
	for i := 0; i < DefaultMaxRedirects; i++ {
		next := fmt.Sprintf("/r%d", i+1)
		mux.HandleFunc(fmt.Sprintf("/r%d", i), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, next, http.StatusFound)
		})
	}
	mux.HandleFunc(fmt.Sprintf("/r%d", DefaultMaxRedirects), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	res, err := g.Fetch(context.Background(), srv.URL+"/r0")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/r%d", srv.URL, DefaultMaxRedirects), res.FinalURL)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusNotFound, CodeBadRequest},
		{http.StatusForbidden, CodeBadRequest},
		{http.StatusInternalServerError, CodeBadResponse},
		{http.StatusBadGateway, CodeBadResponse},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		g := NewGateway(DefaultOptions(), nil)
		_, err := g.Fetch(context.Background(), srv.URL)
		srv.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetchFailed)

		var ferr *Error
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, tt.code, ferr.Code)
		assert.Equal(t, tt.status, ferr.Status)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	g := NewGateway(opts, nil)

	_, err := g.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.True(t, ferr.Timeout())
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	g := NewGateway(DefaultOptions(), nil)
	_, err := g.Fetch(context.Background(), addr)
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, ErrFetchFailed, ferr.Kind)
	assert.Equal(t, CodeRefused, ferr.Code)
}
