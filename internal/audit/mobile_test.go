package audit

import (
	"context"
	"errors"
	"testing"
)

func TestMobileModule_Run_SkipsRenderingYieldsEmptyFragment(t *testing.T) {
	m := &MobileModule{}
	pc := NewPageContext("https://example.com", newFakeSession(nil))
	pc.ShouldSkipRendering = true

	f := m.Run(context.Background(), pc, Settings{})
	if len(f.Data) != 0 {
		t.Errorf("expected an empty fragment, got %v", f.Data)
	}
}

func TestMobileModule_Run_FlagsMissingViewportMeta(t *testing.T) {
	m := &MobileModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return map[string]any{
			"viewportMetaPresent": false,
			"bodyFontSizePx":      float64(16),
			"horizontalOverflow":  false,
		}, nil
	}))

	f := m.Run(context.Background(), pc, Settings{})

	issues, ok := f.Data["issues"].([]string)
	if !ok || len(issues) != 1 || issues[0] != "missing viewport meta tag" {
		t.Errorf("expected a single missing-viewport issue, got %v", f.Data["issues"])
	}
}

func TestMobileModule_Run_FlagsUndersizedFontAndOverflow(t *testing.T) {
	m := &MobileModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return map[string]any{
			"viewportMetaPresent":  true,
			"viewportWidthDevice":  true,
			"viewportInitialScale": true,
			"bodyFontSizePx":       float64(9),
			"horizontalOverflow":   true,
		}, nil
	}))

	f := m.Run(context.Background(), pc, Settings{})
	issues, _ := f.Data["issues"].([]string)
	if len(issues) != 2 {
		t.Fatalf("expected two issues (small font, overflow), got %v", issues)
	}
}

func TestMobileModule_Run_NoIssuesForAWellConfiguredPage(t *testing.T) {
	m := &MobileModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return map[string]any{
			"viewportMetaPresent":  true,
			"viewportWidthDevice":  true,
			"viewportInitialScale": true,
			"bodyFontSizePx":       float64(16),
			"horizontalOverflow":   false,
		}, nil
	}))

	f := m.Run(context.Background(), pc, Settings{})
	issues, _ := f.Data["issues"].([]string)
	if len(issues) != 0 {
		t.Errorf("expected no issues for a well-configured page, got %v", issues)
	}
}

func TestMobileModule_Run_EvaluateErrorRecordsModuleErrorCode(t *testing.T) {
	m := &MobileModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return nil, errors.New("tab crashed")
	}))

	f := m.Run(context.Background(), pc, Settings{})
	if f.ErrorCode != "MODULE_ERROR" {
		t.Errorf("expected MODULE_ERROR code, got %q", f.ErrorCode)
	}
}
