package audit

import (
	"context"
	"math"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// performanceMeasureScript reads Navigation Timing, Paint Timing, and
// where obtainable Layout Instability / Event Timing entries, and returns
// a flat JSON object of millisecond (or unitless, for CLS) values. It is
// injected once per page via Session.Evaluate (spec.md §4.5).
const performanceMeasureScript = `(() => {
  const nav = performance.getEntriesByType('navigation')[0];
  const paint = performance.getEntriesByType('paint');
  const fcpEntry = paint.find(p => p.name === 'first-contentful-paint');
  const lcpEntries = performance.getEntriesByType('largest-contentful-paint');
  const lcpEntry = lcpEntries.length ? lcpEntries[lcpEntries.length - 1] : null;
  let cls = 0;
  try {
    for (const e of performance.getEntriesByType('layout-shift')) {
      if (!e.hadRecentInput) cls += e.value;
    }
  } catch (e) {}
  let inp = null;
  try {
    const events = performance.getEntriesByType('event');
    for (const e of events) {
      const d = e.processingEnd - e.startTime;
      if (inp === null || d > inp) inp = d;
    }
  } catch (e) {}
  return {
    ttfbMs: nav ? nav.responseStart : null,
    fcpMs: fcpEntry ? fcpEntry.startTime : null,
    lcpMs: lcpEntry ? lcpEntry.startTime : null,
    clsScore: cls,
    inpMs: inp,
    domContentLoadedMs: nav ? nav.domContentLoadedEventEnd : null,
    loadEventEndMs: nav ? nav.loadEventEnd : null
  };
})()`

// PerformanceModule derives Core Web Vitals from the browser's performance
// APIs and scores them against the selected budget (spec.md §4.5, §6).
type PerformanceModule struct{}

func (m *PerformanceModule) Name() string { return NamePerformance }

func (m *PerformanceModule) Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment {
	if pc.ShouldSkipRendering {
		return emptyFragmentForSkip()
	}

	raw, err := pc.Session.Evaluate(ctx, performanceMeasureScript, cfg.EvaluateTimeout)
	if err != nil {
		return Fragment{Error: errs.Module(NamePerformance, err).Error(), ErrorCode: string(errs.CodeModule)}
	}
	values, ok := raw.(map[string]any)
	if !ok {
		return Fragment{Error: "performance measurement script returned an unexpected shape", ErrorCode: string(errs.CodeModule)}
	}

	budget := BudgetThresholds(string(cfg.PerformanceBudget))
	metrics := map[string]*float64{
		"lcp":  toMs(values["lcpMs"]),
		"fcp":  toMs(values["fcpMs"]),
		"cls":  toMs(values["clsScore"]),
		"inp":  toMs(values["inpMs"]),
		"ttfb": toMs(values["ttfbMs"]),
	}

	var weightedSum, weightTotal float64
	weights := map[string]float64{"lcp": 25, "fcp": 15, "cls": 20, "inp": 15, "ttfb": 15}
	for metric, v := range metrics {
		if v == nil {
			continue
		}
		t, ok := budget[metric]
		if !ok {
			continue
		}
		s := ScoreMetric(*v, t)
		weightedSum += s * weights[metric]
		weightTotal += weights[metric]
	}

	score := 0.0
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	return Fragment{Data: map[string]any{
		"ttfbMs":             values["ttfbMs"],
		"fcpMs":              values["fcpMs"],
		"lcpMs":              values["lcpMs"],
		"clsScore":           values["clsScore"],
		"inpMs":              values["inpMs"],
		"domContentLoadedMs": values["domContentLoadedMs"],
		"loadEventEndMs":     values["loadEventEndMs"],
		"grade":              Grade(score),
		"score":              score,
		"budget":             string(cfg.PerformanceBudget),
	}}
}

func toMs(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// Thresholds is one metric's good/needsWork/max triple (spec.md §6).
type Thresholds struct {
	Good, NeedsWork, Max float64
}

// budgetTable is the fixed thresholds table from spec.md §6, all
// milliseconds except cls (unitless score).
var budgetTable = map[string]map[string]Thresholds{
	"default": {
		"lcp": {2500, 4000, 6000}, "fcp": {1800, 3000, 4500}, "cls": {0.1, 0.25, 0.5},
		"inp": {200, 500, 1000}, "ttfb": {800, 1800, 3000}, "tbt": {200, 600, 1500},
	},
	"ecommerce": {
		"lcp": {2000, 3000, 4000}, "fcp": {1500, 2500, 3500}, "cls": {0.05, 0.1, 0.25},
		"inp": {150, 300, 500}, "ttfb": {600, 1200, 2000}, "tbt": {150, 350, 600},
	},
	"corporate": {
		"lcp": {2500, 4000, 5500}, "fcp": {1800, 3000, 4000}, "cls": {0.1, 0.25, 0.4},
		"inp": {200, 500, 800}, "ttfb": {800, 1800, 2500}, "tbt": {200, 600, 1200},
	},
	"blog": {
		"lcp": {3000, 4500, 6000}, "fcp": {2000, 3500, 5000}, "cls": {0.1, 0.25, 0.5},
		"inp": {300, 600, 1000}, "ttfb": {1000, 2000, 3500}, "tbt": {300, 800, 1500},
	},
}

// BudgetThresholds returns the thresholds table for a named budget,
// falling back to "default" for an unrecognized or empty name.
func BudgetThresholds(name any) map[string]Thresholds {
	key, _ := name.(string)
	if t, ok := budgetTable[key]; ok {
		return t
	}
	return budgetTable["default"]
}

// ScoreMetric implements the per-metric scoring curve from spec.md §4.5:
// 100 at or below good; linear 100->70 between good and needsWork; linear
// 70->30 between needsWork and max; exponential decay below 30 beyond max.
func ScoreMetric(value float64, t Thresholds) float64 {
	switch {
	case value <= t.Good:
		return 100
	case value <= t.NeedsWork:
		return lerp(value, t.Good, t.NeedsWork, 100, 70)
	case value <= t.Max:
		return lerp(value, t.NeedsWork, t.Max, 70, 30)
	default:
		overshoot := (value - t.Max) / t.Max
		return 30 * math.Exp(-overshoot)
	}
}

func lerp(value, lo, hi, scoreLo, scoreHi float64) float64 {
	if hi == lo {
		return scoreLo
	}
	frac := (value - lo) / (hi - lo)
	return scoreLo + frac*(scoreHi-scoreLo)
}

// Grade maps a 0-100 score to a letter grade (spec.md §4.5 band table).
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
