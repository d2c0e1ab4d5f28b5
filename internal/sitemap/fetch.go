// Package sitemap implements the Sitemap Loader & Filter (spec.md §4.1):
// given a sitemap URL, produce a de-duplicated, order-preserving list of
// absolute URLs, following sitemapindex nesting up to a fixed depth, then
// apply include/exclude regex filtering and a maxPages cap.
//
// fetch.go is adapted from the teacher crawler's internal/platform/httpclient
// package: same Config shape, same body-size ceiling, same User-Agent
// convention, retargeted at fetching sitemap documents instead of HTML
// pages destined for link extraction.
package sitemap

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cametumbling/siteaudit/internal/errs"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024 // 10MB: sitemap index files can be large
	defaultUserAgent   = "siteaudit/1.0 (+sitemap-loader)"
)

// Fetcher retrieves a sitemap document's raw bytes. An interface so tests
// can substitute canned documents without a real network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is the production Fetcher, a plain net/http client with a
// timeout and a body-size ceiling.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:      &http.Client{Timeout: defaultTimeout},
		userAgent:   defaultUserAgent,
		maxBodySize: defaultMaxBodySize,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSitemapFetch, err, "building request for %s", url)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSitemapFetch, err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.CodeSitemapFetch, "fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, errs.Wrap(errs.CodeSitemapFetch, err, "reading body of %s", url)
	}
	return body, nil
}
