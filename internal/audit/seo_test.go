package audit

import (
	"context"
	"errors"
	"testing"
)

func TestSEOModule_Run_SkipsRenderingYieldsEmptyFragment(t *testing.T) {
	m := &SEOModule{}
	pc := NewPageContext("https://example.com", newFakeSession(nil))
	pc.ShouldSkipRendering = true

	f := m.Run(context.Background(), pc, Settings{})
	if f.Error != "" {
		t.Errorf("expected no error for a skipped page, got %q", f.Error)
	}
	if len(f.Data) != 0 {
		t.Errorf("expected an empty fragment, got %v", f.Data)
	}
}

func TestSEOModule_Run_CarriesInspectedFieldsThrough(t *testing.T) {
	m := &SEOModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return map[string]any{
			"title":           "Example Domain",
			"metaDescription": "An example page",
			"canonical":       "https://example.com/",
			"headings":        map[string]any{"h1": []any{"Example Domain"}},
			"imageCount":      float64(2),
			"imagesWithAlt":   float64(1),
			"internalLinks":   float64(3),
			"externalLinks":   float64(1),
			"wordCount":       float64(42),
			"structuredData":  []any{},
			"htmlByteSize":    float64(1024),
		}, nil
	}))

	f := m.Run(context.Background(), pc, Settings{})

	if f.Error != "" {
		t.Fatalf("unexpected error: %q", f.Error)
	}
	if f.Data["title"] != "Example Domain" {
		t.Errorf("expected title carried through, got %v", f.Data["title"])
	}
	if f.Data["imageCount"] != float64(2) {
		t.Errorf("expected imageCount carried through, got %v", f.Data["imageCount"])
	}
}

func TestSEOModule_Run_EvaluateErrorRecordsModuleErrorCode(t *testing.T) {
	m := &SEOModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return nil, errors.New("tab crashed")
	}))

	f := m.Run(context.Background(), pc, Settings{})
	if f.Error == "" {
		t.Fatal("expected an error fragment when Evaluate fails")
	}
	if f.ErrorCode != "MODULE_ERROR" {
		t.Errorf("expected MODULE_ERROR code, got %q", f.ErrorCode)
	}
}

func TestSEOModule_Run_UnexpectedShapeIsAnError(t *testing.T) {
	m := &SEOModule{}
	pc := NewPageContext("https://example.com", newFakeSession(func(script string) (any, error) {
		return "not a map", nil
	}))

	f := m.Run(context.Background(), pc, Settings{})
	if f.Error == "" {
		t.Fatal("expected an error for an unexpected evaluate result shape")
	}
}
