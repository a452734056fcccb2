// Package jina wraps the two Jina AI endpoints the research agent uses: s.jina.ai
// for web search and r.jina.ai for page content extraction.
//
// Both adapters are read-only and pass the provider's text through untouched.
// Every outbound call runs under its own timeout.
package jina

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	DefaultSearchURL = "https://s.jina.ai/"
	DefaultReaderURL = "https://r.jina.ai/"
	DefaultTimeout   = 30 * time.Second
)

var (
	ErrEmptyQuery = errors.New("search query is empty")
	ErrEmptyURL   = errors.New("page URL is empty")
	ErrInvalidURL = errors.New("page URL must start with http:// or https://")
	ErrNoAPIKey   = errors.New("jina API key is required")
)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string // first bytes of the response body
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Options configures a Searcher or Reader.
type Options struct {
	APIKey string

	// BaseURL overrides the provider endpoint (tests, proxies).
	BaseURL string

	// Timeout bounds each outbound call. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient defaults to a plain http.Client.
	HTTPClient *http.Client

	// Limiter, when set, is waited on before every call. Searcher and Reader
	// may share one since both bill against the same account.
	Limiter *rate.Limiter
}

type client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(opts Options, defaultBase string) (*client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	c := &client{
		apiKey:  opts.APIKey,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		limiter: opts.Limiter,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBase
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c, nil
}

// get issues a GET with bearer auth plus extra headers and returns the body.
func (c *client) get(ctx context.Context, endpoint string, header http.Header) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("request timed out after %v: %w", c.timeout, err)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	slog.Debug("jina call", "endpoint", endpoint, "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: snippet(string(body), 200)}
	}
	return string(body), nil
}

// snippet cuts s to at most max bytes on a rune boundary.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
