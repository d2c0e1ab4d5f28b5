// Package config defines the per-run Configuration (spec.md §3) and its
// validation. Validation happens once, before any worker starts, and
// collects every problem rather than failing on the first one (spec.md §9,
// "Config validation").
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// PerformanceBudget names one of the fixed thresholds tables in spec.md §6.
type PerformanceBudget string

const (
	BudgetDefault    PerformanceBudget = "default"
	BudgetEcommerce  PerformanceBudget = "ecommerce"
	BudgetCorporate  PerformanceBudget = "corporate"
	BudgetBlog       PerformanceBudget = "blog"
)

var validBudgets = map[PerformanceBudget]bool{
	BudgetDefault:   true,
	BudgetEcommerce: true,
	BudgetCorporate: true,
	BudgetBlog:      true,
}

// Configuration is the enumerated option set from spec.md §3. JSON tags
// double as the POST /audit wire schema; YAML tags let the same struct
// load from a config file for CLI-only runs.
type Configuration struct {
	SitemapURL string   `json:"sitemapUrl" yaml:"sitemapUrl"`
	URLs       []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	OutputDir  string   `json:"outputDir" yaml:"outputDir"`

	Concurrency int `json:"concurrency" yaml:"concurrency"`
	MaxPages    int `json:"maxPages" yaml:"maxPages"`

	IncludePattern string `json:"includePattern,omitempty" yaml:"includePattern,omitempty"`
	ExcludePattern string `json:"excludePattern,omitempty" yaml:"excludePattern,omitempty"`

	DelayMs             int     `json:"delayMs" yaml:"delayMs"`
	MaxRequestsPerSecond float64 `json:"maxRequestsPerSecond,omitempty" yaml:"maxRequestsPerSecond,omitempty"`

	MaxRetries       int `json:"maxRetries" yaml:"maxRetries"`
	BaseRetryDelayMs int `json:"baseRetryDelayMs" yaml:"baseRetryDelayMs"`

	Screenshots     bool `json:"screenshots" yaml:"screenshots"`
	FollowRedirects bool `json:"followRedirects" yaml:"followRedirects"`
	MaxRedirects    int  `json:"maxRedirects" yaml:"maxRedirects"`

	EnablePerformance   bool `json:"enablePerformance" yaml:"enablePerformance"`
	EnableSEO           bool `json:"enableSEO" yaml:"enableSEO"`
	EnableContentWeight bool `json:"enableContentWeight" yaml:"enableContentWeight"`
	EnableMobile        bool `json:"enableMobile" yaml:"enableMobile"`
	EnableAccessibility bool `json:"enableAccessibility" yaml:"enableAccessibility"`

	PerformanceBudget PerformanceBudget `json:"performanceBudget" yaml:"performanceBudget"`

	// AccessibilityAnalyzerPath points at the injected third-party analyzer
	// script (spec.md §4.5); configuration, not part of this spec's scope.
	AccessibilityAnalyzerPath string `json:"accessibilityAnalyzerPath,omitempty" yaml:"accessibilityAnalyzerPath,omitempty"`
}

// Default returns the Configuration with every default from spec.md §3
// applied, ready to be overridden by a parsed payload.
func Default() Configuration {
	return Configuration{
		Concurrency:         4,
		MaxPages:            1000,
		MaxRetries:          2,
		BaseRetryDelayMs:    1000,
		FollowRedirects:     true,
		MaxRedirects:        5,
		EnablePerformance:   true,
		EnableSEO:           true,
		EnableContentWeight: true,
		EnableMobile:        true,
		EnableAccessibility: true,
		PerformanceBudget:   BudgetDefault,
	}
}

// Clone deep-copies the Configuration. Spec.md §5 requires configuration be
// "deep-copied at run start and treated as immutable thereafter" — the only
// non-scalar field is URLs, so that's the only slice that needs copying.
func (c Configuration) Clone() Configuration {
	out := c
	if c.URLs != nil {
		out.URLs = append([]string(nil), c.URLs...)
	}
	return out
}

// Validate checks every field and returns all problems together as one
// *errs.Error of CodeConfig, rather than stopping at the first failure.
func (c Configuration) Validate() error {
	var problems []string

	if c.SitemapURL == "" && len(c.URLs) == 0 {
		problems = append(problems, "sitemapUrl is required (or provide urls directly)")
	}
	if c.OutputDir == "" {
		problems = append(problems, "outputDir is required")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be >= 1")
	}
	if c.MaxPages < 1 {
		problems = append(problems, "maxPages must be >= 1")
	}
	if c.DelayMs < 0 {
		problems = append(problems, "delayMs must be >= 0")
	}
	if c.MaxRequestsPerSecond < 0 {
		problems = append(problems, "maxRequestsPerSecond must be > 0 when set")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "maxRetries must be >= 0")
	}
	if c.BaseRetryDelayMs < 0 {
		problems = append(problems, "baseRetryDelayMs must be >= 0")
	}
	if c.MaxRedirects < 0 {
		problems = append(problems, "maxRedirects must be >= 0")
	}
	if c.PerformanceBudget == "" {
		// left unset is allowed; Default() fills it in
	} else if !validBudgets[c.PerformanceBudget] {
		problems = append(problems, fmt.Sprintf("performanceBudget %q is not one of default/ecommerce/corporate/blog", c.PerformanceBudget))
	}

	if _, err := compileIfSet(c.IncludePattern); err != nil {
		problems = append(problems, fmt.Sprintf("includePattern: %v", err))
	}
	if _, err := compileIfSet(c.ExcludePattern); err != nil {
		problems = append(problems, fmt.Sprintf("excludePattern: %v", err))
	}

	if len(problems) > 0 {
		return errs.New(errs.CodeConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func compileIfSet(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + pattern)
}

// CompiledFilters holds the compiled include/exclude patterns for the
// sitemap filter step (spec.md §4.1). Call after Validate succeeds.
type CompiledFilters struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

func (c Configuration) CompileFilters() (CompiledFilters, error) {
	inc, err := compileIfSet(c.IncludePattern)
	if err != nil {
		return CompiledFilters{}, errs.New(errs.CodeConfig, "includePattern: %v", err)
	}
	exc, err := compileIfSet(c.ExcludePattern)
	if err != nil {
		return CompiledFilters{}, errs.New(errs.CodeConfig, "excludePattern: %v", err)
	}
	return CompiledFilters{Include: inc, Exclude: exc}, nil
}
