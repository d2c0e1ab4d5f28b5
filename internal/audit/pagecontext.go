// Package audit implements the Audit Chain from spec.md §4.5: a
// polymorphic set of analyzers sharing a per-URL PageContext, run in the
// fixed order HTTP -> Performance -> Accessibility -> SEO -> ContentWeight
// -> Mobile.
package audit

import (
	"sync"
	"time"

	"github.com/cametumbling/siteaudit/internal/browserpool"
)

// Fragment is the write-once result a module contributes to a
// PageContext. A module failure sets Error (and ErrorCode) and the
// fragment is still recorded (spec.md §4.5: "A module failure is recorded
// as an error field on its fragment; it never aborts subsequent modules").
type Fragment struct {
	Data      map[string]any
	Error     string
	ErrorCode string
}

// PageContext is short-lived, owned by one worker for the duration of one
// URL attempt (spec.md §3). Modules run strictly sequentially within one
// worker (spec.md §9); the fragment map is still guarded by mu.
type PageContext struct {
	URL     string
	Session browserpool.Session

	HTTP *HTTPResult // set by the work queue after navigation; read-only to modules

	fragments map[string]Fragment
	order     []string

	ConsoleErrors []string
	ScreenshotPath string

	StartedAt  time.Time
	FinishedAt time.Time

	// ShouldSkipRendering is set true by the HTTP module when status >= 400
	// (spec.md §4.5); downstream modules then emit an empty fragment
	// instead of touching the (possibly error) page.
	ShouldSkipRendering bool

	mu sync.Mutex
}

func NewPageContext(url string, session browserpool.Session) *PageContext {
	return &PageContext{
		URL:       url,
		Session:   session,
		fragments: make(map[string]Fragment),
		StartedAt: time.Now(),
	}
}

// SetFragment records a module's result. Write-once: a second call for the
// same module name is ignored, enforcing the invariant from spec.md §3
// ("result fragments are write-once").
func (c *PageContext) SetFragment(module string, f Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.fragments[module]; exists {
		return
	}
	c.fragments[module] = f
	c.order = append(c.order, module)
}

// Fragment reads a prior module's result. Modules may read but must never
// mutate what they get back here (spec.md §4.5).
func (c *PageContext) Fragment(module string) (Fragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fragments[module]
	return f, ok
}

// Fragments returns a snapshot of every recorded fragment, keyed by module
// name; the map carries no run order. Used to build the page artifact.
func (c *PageContext) Fragments() map[string]Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Fragment, len(c.fragments))
	for k, v := range c.fragments {
		out[k] = v
	}
	return out
}
