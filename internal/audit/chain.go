package audit

import (
	"context"
	"time"

	"github.com/cametumbling/siteaudit/internal/config"
)

// Module is the flat capability-set interface every analyzer implements
// (spec.md §9: "a tagged variant or interface with a flat list of
// implementations is preferred" over a deep class hierarchy).
type Module interface {
	Name() string
	Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment
}

// Settings bundles the per-run knobs modules need, assembled once from
// config.Configuration at run start.
type Settings struct {
	PerformanceBudget         config.PerformanceBudget
	AccessibilityAnalyzerPath string
	EvaluateTimeout           time.Duration
}

// EventHook is called around every module invocation so the work queue can
// publish AuditAttached/AuditFinished without the audit package needing to
// know about the event bus (spec.md §4.5: both events fire "even on
// error").
type EventHook func(module string, finished bool, fragment Fragment)

// Chain is the ordered, config-assembled list of active modules
// (spec.md §4.5 canonical order: HTTP -> Performance -> Accessibility ->
// SEO -> ContentWeight -> Mobile). HTTP always runs; the rest are gated by
// the matching enable flag.
type Chain struct {
	modules []Module
}

// NewChain assembles the active chain for one run from its enable flags.
func NewChain(cfg config.Configuration) *Chain {
	modules := []Module{&HTTPModule{}}
	if cfg.EnablePerformance {
		modules = append(modules, &PerformanceModule{})
	}
	if cfg.EnableAccessibility {
		modules = append(modules, &AccessibilityModule{})
	}
	if cfg.EnableSEO {
		modules = append(modules, &SEOModule{})
	}
	if cfg.EnableContentWeight {
		modules = append(modules, &ContentWeightModule{})
	}
	if cfg.EnableMobile {
		modules = append(modules, &MobileModule{})
	}
	return &Chain{modules: modules}
}

// Run executes every module in fixed order against pc, invoking hook
// before and after each one. Modules never abort the chain on error —
// a module failure is recorded on its own fragment only (spec.md §4.5).
func (c *Chain) Run(ctx context.Context, pc *PageContext, settings Settings, hook EventHook) {
	for _, m := range c.modules {
		if hook != nil {
			hook(m.Name(), false, Fragment{})
		}

		var fragment Fragment
		select {
		case <-ctx.Done():
			fragment = Fragment{Error: ctx.Err().Error()}
		default:
			fragment = m.Run(ctx, pc, settings)
		}
		pc.SetFragment(m.Name(), fragment)

		if hook != nil {
			hook(m.Name(), true, fragment)
		}
	}
}
