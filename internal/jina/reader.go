package jina

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// RemovedSelectors are the page regions the provider strips before extracting
// text: navigation, footers, forms, login widgets, menus and breadcrumbs.
var RemovedSelectors = []string{
	"header", "nav", "footer", "form",
	".login-form", ".modal", ".search", ".navbar", "#navbar",
	".user-nav", ".menu-list-mobile", ".sub-nav", ".breadcrumbs", ".history",
	"#menu-principal", "#menu-servicos", "#menu-favoritos",
}

// PageContent is the cleaned text of one page.
type PageContent struct {
	URL  string
	Body string
}

// String renders the content annotated with its source URL.
func (p *PageContent) String() string {
	return fmt.Sprintf("Read URL: %s, content: %s", p.URL, p.Body)
}

// Reader calls the r.jina.ai extraction endpoint.
type Reader struct {
	c *client
}

// NewReader creates a Reader. It fails when no API key is configured.
func NewReader(opts Options) (*Reader, error) {
	c, err := newClient(opts, DefaultReaderURL)
	if err != nil {
		return nil, err
	}
	return &Reader{c: c}, nil
}

// Read fetches pageURL through the provider with boilerplate regions and
// images removed. No retry, pagination or truncation is applied.
func (r *Reader) Read(ctx context.Context, pageURL string) (*PageContent, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, ErrEmptyURL
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, pageURL)
	}

	header := http.Header{}
	header.Set("X-Remove-Selector", strings.Join(RemovedSelectors, ", "))
	header.Set("X-Retain-Images", "none")

	// The provider takes the target URL verbatim as its path.
	endpoint := strings.TrimSuffix(r.c.baseURL, "/") + "/" + pageURL

	body, err := r.c.get(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return &PageContent{URL: pageURL, Body: body}, nil
}
