package audit

import (
	"context"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// contentWeightScript aggregates transfer size and count per resource
// type from the Resource Timing API, plus the main document's own
// transfer size from the Navigation Timing entry (spec.md §4.5: "from the
// browser's network accounting, aggregates total transfer size broken
// down by resource type").
const contentWeightScript = `(() => {
  const byType = {};
  const bump = (type, transferSize, encodedSize, decodedSize) => {
    if (!byType[type]) byType[type] = { bytes: 0, count: 0, encodedBytes: 0, decodedBytes: 0 };
    byType[type].bytes += transferSize || 0;
    byType[type].count += 1;
    byType[type].encodedBytes += encodedSize || 0;
    byType[type].decodedBytes += decodedSize || 0;
  };
  const mapInitiator = (initiatorType, name) => {
    switch (initiatorType) {
      case 'script': return 'script';
      case 'css': case 'link': return 'stylesheet';
      case 'img': return 'image';
      case 'css-font-face': return 'font';
      case 'video': case 'audio': return 'media';
      default:
        if (/\.(woff2?|ttf|otf|eot)(\?|$)/i.test(name)) return 'font';
        if (/\.(png|jpe?g|gif|webp|svg|avif)(\?|$)/i.test(name)) return 'image';
        if (/\.(mp4|webm|mp3|wav|ogg)(\?|$)/i.test(name)) return 'media';
        return 'other';
    }
  };
  const nav = performance.getEntriesByType('navigation')[0];
  if (nav) {
    bump('document', nav.transferSize, nav.encodedBodySize, nav.decodedBodySize);
  }
  for (const r of performance.getEntriesByType('resource')) {
    bump(mapInitiator(r.initiatorType, r.name), r.transferSize, r.encodedBodySize, r.decodedBodySize);
  }
  let totalBytes = 0;
  for (const k in byType) totalBytes += byType[k].bytes;
  return { byType: byType, totalBytes: totalBytes };
})()`

// ContentWeightModule aggregates total transfer size and counts broken
// down by resource type, with compression-ratio estimates where the
// browser reports encoded vs decoded size (spec.md §4.5).
type ContentWeightModule struct{}

func (m *ContentWeightModule) Name() string { return NameContentWeight }

func (m *ContentWeightModule) Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment {
	if pc.ShouldSkipRendering {
		return emptyFragmentForSkip()
	}

	raw, err := pc.Session.Evaluate(ctx, contentWeightScript, cfg.EvaluateTimeout)
	if err != nil {
		return Fragment{Error: errs.Module(NameContentWeight, err).Error(), ErrorCode: string(errs.CodeModule)}
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return Fragment{Error: "content weight script returned an unexpected shape", ErrorCode: string(errs.CodeModule)}
	}

	byType, _ := data["byType"].(map[string]any)
	breakdown := make(map[string]any, len(byType))
	for resourceType, v := range byType {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		encoded, _ := entry["encodedBytes"].(float64)
		decoded, _ := entry["decodedBytes"].(float64)
		var ratio *float64
		if encoded > 0 {
			r := decoded / encoded
			ratio = &r
		}
		breakdown[resourceType] = map[string]any{
			"bytes":            entry["bytes"],
			"count":            entry["count"],
			"compressionRatio": ratio,
		}
	}

	return Fragment{Data: map[string]any{
		"totalBytes": data["totalBytes"],
		"byType":     breakdown,
	}}
}
