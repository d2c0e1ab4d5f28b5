package sitemap

import (
	"context"
	"testing"

	"github.com/cametumbling/siteaudit/internal/config"
)

// mockFetcher is a mock implementation of the Fetcher interface for
// testing, following the teacher crawler's mockFetcher pattern.
type mockFetcher struct {
	docs map[string][]byte
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, ok := m.docs[url]
	if !ok {
		return nil, errNotFound(url)
	}
	return body, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "not found: " + string(e) }

func errNotFound(url string) error { return notFoundErr(url) }

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s</loc></url>
</urlset>`

func TestLoad_SitemapIndexRecursion(t *testing.T) {
	child1 := `<?xml version="1.0"?><urlset>` +
		`<url><loc>https://example.com/a</loc></url>` +
		`<url><loc>https://example.com/b</loc></url>` +
		`<url><loc>https://example.com/c</loc></url>` +
		`<url><loc>https://example.com/d</loc></url>` +
		`<url><loc>https://example.com/shared1</loc></url>` +
		`</urlset>`
	child2 := `<?xml version="1.0"?><urlset>` +
		`<url><loc>https://example.com/e</loc></url>` +
		`<url><loc>https://example.com/f</loc></url>` +
		`<url><loc>https://example.com/shared1</loc></url>` +
		`<url><loc>https://example.com/shared2</loc></url>` +
		`<url><loc>https://example.com/shared2</loc></url>` +
		`</urlset>`
	index := `<?xml version="1.0"?><sitemapindex>` +
		`<sitemap><loc>https://example.com/sitemap-a.xml</loc></sitemap>` +
		`<sitemap><loc>https://example.com/sitemap-b.xml</loc></sitemap>` +
		`</sitemapindex>`

	fetcher := &mockFetcher{docs: map[string][]byte{
		"https://example.com/sitemap.xml":   []byte(index),
		"https://example.com/sitemap-a.xml": []byte(child1),
		"https://example.com/sitemap-b.xml": []byte(child2),
	}}

	urls, err := Load(context.Background(), fetcher, "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c",
		"https://example.com/d", "https://example.com/shared1",
		"https://example.com/e", "https://example.com/f", "https://example.com/shared2",
	}
	if len(urls) != len(want) {
		t.Fatalf("got %d urls, want %d: %v", len(urls), len(want), urls)
	}
	for i, u := range want {
		if urls[i] != u {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], u)
		}
	}
}

func TestLoad_DeepIndexIgnoredPastFixedDepth(t *testing.T) {
	leaf := `<?xml version="1.0"?><urlset><url><loc>https://example.com/deep</loc></url></urlset>`
	level3 := `<?xml version="1.0"?><sitemapindex><sitemap><loc>https://example.com/leaf.xml</loc></sitemap></sitemapindex>`
	level2 := `<?xml version="1.0"?><sitemapindex><sitemap><loc>https://example.com/level3.xml</loc></sitemap></sitemapindex>`
	level1 := `<?xml version="1.0"?><sitemapindex><sitemap><loc>https://example.com/level2.xml</loc></sitemap></sitemapindex>`
	root := `<?xml version="1.0"?><sitemapindex><sitemap><loc>https://example.com/level1.xml</loc></sitemap></sitemapindex>`

	fetcher := &mockFetcher{docs: map[string][]byte{
		"https://example.com/sitemap.xml": []byte(root),
		"https://example.com/level1.xml":  []byte(level1),
		"https://example.com/level2.xml":  []byte(level2),
		"https://example.com/level3.xml":  []byte(level3),
		"https://example.com/leaf.xml":    []byte(leaf),
	}}

	urls, err := Load(context.Background(), fetcher, "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("got %v, want no urls (ignored past fixed depth)", urls)
	}
}

func TestFilter_IncludeThenExclude(t *testing.T) {
	var urls []string
	for i := 0; i < 40; i++ {
		urls = append(urls, "https://example.com/blog/post")
	}
	for i := 0; i < 10; i++ {
		urls = append(urls, "https://example.com/admin/panel")
	}
	for i := 0; i < 50; i++ {
		urls = append(urls, "https://example.com/other")
	}

	cfg := config.Configuration{IncludePattern: "/blog/|/admin/", ExcludePattern: "/admin/"}
	filters, err := cfg.CompileFilters()
	if err != nil {
		t.Fatalf("CompileFilters() error = %v", err)
	}

	got := Filter(urls, filters, 0)
	if len(got) != 40 {
		t.Errorf("got %d urls, want 40", len(got))
	}
	for _, u := range got {
		if u != "https://example.com/blog/post" {
			t.Errorf("unexpected url survived filter: %s", u)
		}
	}
}

func TestFilter_PassThroughWhenUnset(t *testing.T) {
	urls := []string{"https://example.com/a", "https://example.com/b"}
	got := Filter(urls, config.CompiledFilters{}, 0)
	if len(got) != 2 {
		t.Errorf("got %d urls, want 2 (pass-through)", len(got))
	}
}

func TestFilter_MaxPagesTruncatesPreservingOrder(t *testing.T) {
	urls := []string{"a", "b", "c", "d", "e"}
	got := Filter(urls, config.CompiledFilters{}, 3)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
