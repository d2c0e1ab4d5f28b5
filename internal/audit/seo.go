package audit

import (
	"context"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// seoInspectScript evaluates the DOM for the fields spec.md §4.5 names:
// title, meta description, canonical, robots, viewport, OG/Twitter maps,
// headings H1-H6, image alt-text breakdown, link counts, word/paragraph
// counts, structured-data blocks, raw HTML byte size.
const seoInspectScript = `(() => {
  const meta = (name) => {
    const el = document.querySelector('meta[name="' + name + '"]');
    return el ? el.getAttribute('content') : null;
  };
  const metaProp = (prop) => {
    const el = document.querySelector('meta[property="' + prop + '"]');
    return el ? el.getAttribute('content') : null;
  };
  const og = {};
  document.querySelectorAll('meta[property^="og:"]').forEach(el => {
    og[el.getAttribute('property').slice(3)] = el.getAttribute('content');
  });
  const twitter = {};
  document.querySelectorAll('meta[name^="twitter:"]').forEach(el => {
    twitter[el.getAttribute('name').slice(8)] = el.getAttribute('content');
  });
  const headings = {};
  for (let i = 1; i <= 6; i++) {
    headings['h' + i] = Array.from(document.querySelectorAll('h' + i)).map(h => h.textContent.trim());
  }
  const images = Array.from(document.querySelectorAll('img'));
  const origin = location.origin;
  const links = Array.from(document.querySelectorAll('a[href]'));
  let internal = 0, external = 0, nofollow = 0;
  links.forEach(a => {
    try {
      const url = new URL(a.getAttribute('href'), location.href);
      if (url.origin === origin) internal++; else external++;
    } catch (e) {}
    if ((a.getAttribute('rel') || '').includes('nofollow')) nofollow++;
  });
  const text = document.body ? document.body.innerText || '' : '';
  const canonicalEl = document.querySelector('link[rel="canonical"]');
  const structuredData = Array.from(document.querySelectorAll('script[type="application/ld+json"]')).map(s => s.textContent);
  return {
    title: document.title || null,
    metaDescription: meta('description'),
    canonical: canonicalEl ? canonicalEl.getAttribute('href') : null,
    robots: meta('robots'),
    viewport: meta('viewport'),
    openGraph: og,
    twitterCard: twitter,
    headings: headings,
    imageCount: images.length,
    imagesWithAlt: images.filter(i => i.hasAttribute('alt') && i.getAttribute('alt') !== '').length,
    imagesWithoutAlt: images.filter(i => !i.hasAttribute('alt')).length,
    imagesEmptyAlt: images.filter(i => i.hasAttribute('alt') && i.getAttribute('alt') === '').length,
    imagesLazyLoaded: images.filter(i => i.getAttribute('loading') === 'lazy').length,
    internalLinks: internal,
    externalLinks: external,
    nofollowLinks: nofollow,
    wordCount: text.split(/\s+/).filter(Boolean).length,
    paragraphCount: document.querySelectorAll('p').length,
    structuredData: structuredData,
    htmlByteSize: document.documentElement ? document.documentElement.outerHTML.length : 0
  };
})()`

// SEOModule captures on-page SEO signals via a DOM inspection script
// (spec.md §4.5).
type SEOModule struct{}

func (m *SEOModule) Name() string { return NameSEO }

func (m *SEOModule) Run(ctx context.Context, pc *PageContext, cfg Settings) Fragment {
	if pc.ShouldSkipRendering {
		return emptyFragmentForSkip()
	}

	raw, err := pc.Session.Evaluate(ctx, seoInspectScript, cfg.EvaluateTimeout)
	if err != nil {
		return Fragment{Error: errs.Module(NameSEO, err).Error(), ErrorCode: string(errs.CodeModule)}
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return Fragment{Error: "SEO inspection script returned an unexpected shape", ErrorCode: string(errs.CodeModule)}
	}
	return Fragment{Data: data}
}
