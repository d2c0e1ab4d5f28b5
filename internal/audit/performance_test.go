package audit

import (
	"context"
	"testing"

	"github.com/cametumbling/siteaudit/internal/config"
)

func TestScoreMetric_Monotonicity(t *testing.T) {
	th := Thresholds{Good: 100, NeedsWork: 200, Max: 400}
	values := []float64{0, 50, 100, 150, 200, 300, 400, 500, 800, 2000}

	var prev float64 = 101 // above the max possible score
	for _, v := range values {
		score := ScoreMetric(v, th)
		if score > prev {
			t.Errorf("ScoreMetric(%v) = %v, expected <= previous score %v (non-increasing)", v, score, prev)
		}
		prev = score
	}
}

func TestScoreMetric_BandBoundaries(t *testing.T) {
	th := Thresholds{Good: 100, NeedsWork: 200, Max: 400}

	if s := ScoreMetric(50, th); s != 100 {
		t.Errorf("expected score 100 at/below good threshold, got %v", s)
	}
	if s := ScoreMetric(100, th); s != 100 {
		t.Errorf("expected score 100 exactly at good threshold, got %v", s)
	}
	if s := ScoreMetric(200, th); s != 70 {
		t.Errorf("expected score 70 exactly at needsWork threshold, got %v", s)
	}
	if s := ScoreMetric(400, th); s != 30 {
		t.Errorf("expected score 30 exactly at max threshold, got %v", s)
	}
	if s := ScoreMetric(800, th); s >= 30 {
		t.Errorf("expected score below 30 beyond the max threshold, got %v", s)
	}
}

func TestGrade_Bands(t *testing.T) {
	cases := map[float64]string{
		100: "A", 90: "A",
		89: "B", 80: "B",
		79: "C", 70: "C",
		69: "D", 60: "D",
		59: "F", 0: "F",
	}
	for score, want := range cases {
		if got := Grade(score); got != want {
			t.Errorf("Grade(%v) = %q, want %q", score, got, want)
		}
	}
}

func TestBudgetThresholds_FallsBackToDefaultForUnknownName(t *testing.T) {
	got := BudgetThresholds("nonsense")
	want := budgetTable["default"]
	if len(got) != len(want) {
		t.Fatalf("expected fallback to the default table, got %d metrics", len(got))
	}
}

func TestBudgetThresholds_SelectsNamedBudget(t *testing.T) {
	got := BudgetThresholds(string(config.BudgetEcommerce))
	want := budgetTable["ecommerce"]
	if got["lcp"] != want["lcp"] {
		t.Errorf("expected ecommerce lcp thresholds, got %v", got["lcp"])
	}
}

func TestPerformanceModule_Run_SkipsRenderingYieldsEmptyFragment(t *testing.T) {
	m := &PerformanceModule{}
	pc := NewPageContext("https://example.com", newFakeSession(nil))
	pc.ShouldSkipRendering = true

	f := m.Run(context.Background(), pc, Settings{})
	if f.Error != "" {
		t.Errorf("expected no error for a skipped page, got %q", f.Error)
	}
	if len(f.Data) != 0 {
		t.Errorf("expected an empty fragment for a skipped page, got %v", f.Data)
	}
}

func TestPerformanceModule_Run_ComputesGradeFromMetrics(t *testing.T) {
	m := &PerformanceModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return map[string]any{
			"ttfbMs":             float64(200),
			"fcpMs":              float64(800),
			"lcpMs":              float64(1200),
			"clsScore":           float64(0.02),
			"inpMs":              float64(80),
			"domContentLoadedMs": float64(900),
			"loadEventEndMs":     float64(1300),
		}, nil
	}))

	f := m.Run(context.Background(), pc, Settings{PerformanceBudget: config.BudgetDefault})

	if f.Error != "" {
		t.Fatalf("unexpected error: %q", f.Error)
	}
	grade, _ := f.Data["grade"].(string)
	if grade != "A" {
		t.Errorf("expected an A grade for comfortably-under-budget metrics, got %q", grade)
	}
}

func TestPerformanceModule_Run_EvaluateErrorProducesModuleErrorCode(t *testing.T) {
	m := &PerformanceModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return nil, context.DeadlineExceeded
	}))

	f := m.Run(context.Background(), pc, Settings{})
	if f.Error == "" {
		t.Fatal("expected an error fragment when Evaluate fails")
	}
	if f.ErrorCode != "MODULE_ERROR" {
		t.Errorf("expected MODULE_ERROR code, got %q", f.ErrorCode)
	}
}
