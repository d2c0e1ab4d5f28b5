package sitemap

import (
	"regexp"

	"github.com/cametumbling/siteaudit/internal/config"
)

// Filter applies include then exclude patterns (both case-insensitive,
// substring-agnostic regex — i.e. matched anywhere in the URL, not
// anchored) and truncates to maxPages, preserving original order
// (spec.md §4.1). If both patterns are unset the input is passed through
// unchanged.
func Filter(urls []string, filters config.CompiledFilters, maxPages int) []string {
	filtered := applyPattern(urls, filters.Include, true)
	filtered = applyPattern(filtered, filters.Exclude, false)

	if maxPages > 0 && len(filtered) > maxPages {
		filtered = filtered[:maxPages]
	}
	return filtered
}

// applyPattern keeps (want=true) or drops (want=false) URLs matching re.
// A nil re is a no-op pass-through.
func applyPattern(urls []string, re *regexp.Regexp, want bool) []string {
	if re == nil {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if re.MatchString(u) == want {
			out = append(out, u)
		}
	}
	return out
}
