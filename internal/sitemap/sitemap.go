package sitemap

import (
	"context"
	"encoding/xml"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// maxIndexDepth is the fixed recursion depth for nested sitemapindex
// documents (spec.md §4.1): "follows nested sitemaps up to a fixed depth
// (3) to prevent cycles." A sitemapindex entry discovered past this depth
// is ignored (spec.md §9, Open Questions).
const maxIndexDepth = 3

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapindex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Load fetches sitemapURL and recursively resolves sitemapindex documents,
// returning a de-duplicated, order-preserving list of absolute page URLs.
func Load(ctx context.Context, fetcher Fetcher, sitemapURL string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	if err := load(ctx, fetcher, sitemapURL, 0, seen, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func load(ctx context.Context, fetcher Fetcher, url string, depth int, seen map[string]bool, out *[]string) error {
	body, err := fetcher.Fetch(ctx, url)
	if err != nil {
		if e, ok := errs.As(err); ok {
			return e
		}
		return errs.Wrap(errs.CodeSitemapFetch, err, "fetching %s", url)
	}

	var us urlset
	if err := xml.Unmarshal(body, &us); err == nil && len(us.URLs) > 0 {
		for _, u := range us.URLs {
			addURL(u.Loc, seen, out)
		}
		return nil
	}

	var idx sitemapindex
	if err := xml.Unmarshal(body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		if depth+1 >= maxIndexDepth {
			// Nested sitemaps discovered past the fixed depth are ignored
			// rather than erroring (spec.md §9).
			return nil
		}
		for _, sm := range idx.Sitemaps {
			if err := load(ctx, fetcher, sm.Loc, depth+1, seen, out); err != nil {
				return err
			}
		}
		return nil
	}

	return errs.New(errs.CodeSitemapFetch, "%s is neither a urlset nor a sitemapindex document", url)
}

func addURL(loc string, seen map[string]bool, out *[]string) {
	if loc == "" || seen[loc] {
		return
	}
	seen[loc] = true
	*out = append(*out, loc)
}
