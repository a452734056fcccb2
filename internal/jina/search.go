package jina

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Locale parameters pinning every search to Rio de Janeiro, in Portuguese.
const (
	searchCountry  = "BR"
	searchLanguage = "pt"
	searchLocation = "Rio de Janeiro, RJ"
)

// SearchResult is the provider's raw answer for one query.
type SearchResult struct {
	Query string
	Body  string
}

// String renders the result annotated with its query, the form handed to the model.
func (r *SearchResult) String() string {
	return fmt.Sprintf("Web Search query: %s, response: %s", r.Query, r.Body)
}

// Searcher calls the s.jina.ai search endpoint.
type Searcher struct {
	c *client
}

// NewSearcher creates a Searcher. It fails when no API key is configured.
func NewSearcher(opts Options) (*Searcher, error) {
	c, err := newClient(opts, DefaultSearchURL)
	if err != nil {
		return nil, err
	}
	return &Searcher{c: c}, nil
}

// Search runs query against the provider. Only result metadata is requested;
// the body is returned as-is.
func (s *Searcher) Search(ctx context.Context, query string) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	endpoint, err := s.endpoint(query)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Respond-With", "no-content")

	body, err := s.c.get(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return &SearchResult{Query: query, Body: body}, nil
}

func (s *Searcher) endpoint(query string) (string, error) {
	u, err := url.Parse(s.c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("gl", searchCountry)
	q.Set("hl", searchLanguage)
	q.Set("location", searchLocation)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
