package audit

import (
	"context"
	"os"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// AccessibilityModule injects a third-party analyzer script into the page,
// runs it, and captures its structured violation output (spec.md §4.5).
// It tolerates a missing analyzer file by recording a module error and
// continuing, rather than failing the page.
type AccessibilityModule struct{}

func (m *AccessibilityModule) Name() string { return NameAccessibility }

// Violation mirrors the analyzer's per-rule output shape (spec.md §4.5).
type Violation struct {
	ID          string `json:"id"`
	Impact      string `json:"impact"`
	Help        string `json:"help"`
	Description string `json:"description"`
	Nodes       []Node `json:"nodes"`
}

// Node is one DOM location a Violation is scoped to.
type Node struct {
	HTML   string   `json:"html"`
	Target []string `json:"target"`
}

func (m *AccessibilityModule) Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment {
	if pc.ShouldSkipRendering {
		return emptyFragmentA11y()
	}

	if cfg.AccessibilityAnalyzerPath == "" {
		return errorFragmentA11y(errs.Module(NameAccessibility, errs.New(errs.CodeModule, "no accessibility analyzer configured")))
	}

	script, err := os.ReadFile(cfg.AccessibilityAnalyzerPath)
	if err != nil {
		return errorFragmentA11y(errs.Module(NameAccessibility, err))
	}

	raw, err := pc.Session.Evaluate(ctx, string(script)+"\n;siteauditRunAccessibilityAnalyzer()", cfg.EvaluateTimeout)
	if err != nil {
		return errorFragmentA11y(errs.Module(NameAccessibility, err))
	}

	violations, err := decodeViolations(raw)
	if err != nil {
		return errorFragmentA11y(errs.Module(NameAccessibility, err))
	}

	return Fragment{Data: map[string]any{"violations": violations}}
}

func emptyFragmentA11y() Fragment {
	return Fragment{Data: map[string]any{"violations": []Violation{}}}
}

func errorFragmentA11y(err error) Fragment {
	f := Fragment{
		Error: err.Error(),
		Data:  map[string]any{"violations": []Violation{}},
	}
	if e, ok := errs.As(err); ok {
		f.ErrorCode = string(e.Code)
	}
	return f
}

// decodeViolations converts the analyzer's loosely-typed JS return value
// into []Violation. Defensive about shape because the analyzer is an
// external, independently-versioned artifact (spec.md §9, Open Questions).
func decodeViolations(raw any) ([]Violation, error) {
	items, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return []Violation{}, nil
		}
		return nil, errs.New(errs.CodeModule, "analyzer output is not an array")
	}

	out := make([]Violation, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v := Violation{
			ID:          strField(obj, "id"),
			Impact:      strField(obj, "impact"),
			Help:        strField(obj, "help"),
			Description: strField(obj, "description"),
		}
		if rawNodes, ok := obj["nodes"].([]any); ok {
			for _, rn := range rawNodes {
				nobj, ok := rn.(map[string]any)
				if !ok {
					continue
				}
				v.Nodes = append(v.Nodes, Node{
					HTML:   strField(nobj, "html"),
					Target: strSliceField(nobj, "target"),
				})
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func strField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func strSliceField(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
