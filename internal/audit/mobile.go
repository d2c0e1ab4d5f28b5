package audit

import (
	"context"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// mobileInspectScript checks viewport meta correctness, touch-target
// sizing against the 44x44 CSS px minimum, a floor on body font size, and
// horizontal overflow at the current (mobile-emulated) viewport width
// (spec.md §4.5).
const mobileInspectScript = `(() => {
  const vp = document.querySelector('meta[name="viewport"]');
  const content = vp ? vp.getAttribute('content') || '' : '';
  const hasWidthDevice = /width\s*=\s*device-width/i.test(content);
  const hasInitialScale = /initial-scale\s*=\s*1(\.0)?/i.test(content);

  const tappable = Array.from(document.querySelectorAll('a, button, input, select, textarea, [role="button"]'));
  let undersized = 0;
  const samples = [];
  for (const el of tappable) {
    const r = el.getBoundingClientRect();
    if (r.width === 0 && r.height === 0) continue;
    if (r.width < 44 || r.height < 44) {
      undersized++;
      if (samples.length < 20) {
        samples.push({ tag: el.tagName.toLowerCase(), width: r.width, height: r.height });
      }
    }
  }

  const bodyFontPx = parseFloat(getComputedStyle(document.body).fontSize) || 0;

  const overflowX = document.documentElement.scrollWidth > document.documentElement.clientWidth;

  return {
    viewportMetaPresent: !!vp,
    viewportWidthDevice: hasWidthDevice,
    viewportInitialScale: hasInitialScale,
    tappableCount: tappable.length,
    undersizedTouchTargets: undersized,
    undersizedSamples: samples,
    bodyFontSizePx: bodyFontPx,
    horizontalOverflow: overflowX,
    viewportWidthPx: document.documentElement.clientWidth,
    documentScrollWidthPx: document.documentElement.scrollWidth
  };
})()`

const mobileMinTouchTargetPx = 44.0
const mobileMinFontSizePx = 12.0
const mobileViewportWidthPx = 360
const mobileViewportHeightPx = 640

// MobileModule checks a page's mobile-friendliness: viewport meta
// correctness, touch-target sizing, a floor on body font size, and
// horizontal overflow at a 360px-wide emulated viewport (spec.md §4.5).
type MobileModule struct{}

func (m *MobileModule) Name() string { return NameMobile }

func (m *MobileModule) Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment {
	if pc.ShouldSkipRendering {
		return emptyFragmentForSkip()
	}

	if err := pc.Session.EmulateViewport(ctx, mobileViewportWidthPx, mobileViewportHeightPx, true); err != nil {
		return Fragment{Error: errs.Module(NameMobile, err).Error(), ErrorCode: string(errs.CodeModule)}
	}

	raw, err := pc.Session.Evaluate(ctx, mobileInspectScript, cfg.EvaluateTimeout)
	if err != nil {
		return Fragment{Error: errs.Module(NameMobile, err).Error(), ErrorCode: string(errs.CodeModule)}
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return Fragment{Error: "mobile inspection script returned an unexpected shape", ErrorCode: string(errs.CodeModule)}
	}

	viewportOK, _ := data["viewportMetaPresent"].(bool)
	widthDevice, _ := data["viewportWidthDevice"].(bool)
	initialScale, _ := data["viewportInitialScale"].(bool)
	fontPx, _ := data["bodyFontSizePx"].(float64)
	overflow, _ := data["horizontalOverflow"].(bool)

	var issues []string
	if !viewportOK {
		issues = append(issues, "missing viewport meta tag")
	} else {
		if !widthDevice {
			issues = append(issues, "viewport meta missing width=device-width")
		}
		if !initialScale {
			issues = append(issues, "viewport meta missing initial-scale=1")
		}
	}
	if fontPx > 0 && fontPx < mobileMinFontSizePx {
		issues = append(issues, "body font size below minimum readable size")
	}
	if overflow {
		issues = append(issues, "page content overflows viewport horizontally")
	}

	data["touchTargetMinPx"] = mobileMinTouchTargetPx
	data["fontSizeMinPx"] = mobileMinFontSizePx
	data["issues"] = issues

	return Fragment{Data: data}
}
