// Package browserpool implements the Browser Pool from spec.md §4.2:
// acquire/release of exclusive browser sessions, transparent replacement
// of crashed sessions, and the Session surface (navigate/evaluate/
// screenshot/close) every audit module drives through PageContext.
//
// Built on github.com/chromedp/chromedp and github.com/chromedp/cdproto,
// the same CDP-driving stack the pack's browser-automation reference
// crawlers (muqo16-vg-hitbot, tomasbasham-har-capture, digster-scraper,
// ternarybob-quaero) all reach for headless Chrome control.
package browserpool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// NavigationResult is the observed HTTP outcome of a Session.Navigate call
// (spec.md §4.2).
type NavigationResult struct {
	StatusCode   int
	Headers      map[string]string
	FinalURL     string
	TTFB         time.Duration
	RedirectChain []string
}

// Session is the exclusive handle a worker drives for the duration of one
// URL attempt. Implementations must be safe to Close multiple times.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (*NavigationResult, error)
	Evaluate(ctx context.Context, script string, timeout time.Duration) (any, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	// EmulateViewport overrides the tab's device metrics, used by the
	// mobile-friendliness module to inspect the page at a phone-sized
	// viewport rather than whatever size the headless window happens to be.
	EmulateViewport(ctx context.Context, width, height int64, mobile bool) error
	// ConsoleErrors returns and clears the console error/exception messages
	// observed since the last call, scoping each URL attempt to its own
	// navigation even though sessions are reused across attempts.
	ConsoleErrors() []string
	// Healthy reports whether the underlying browser tab is still usable.
	// The pool consults this when the session is released to decide
	// whether it must be replaced rather than recycled.
	Healthy() bool
	Close() error
}

// chromedpSession is the production Session, one tab (chromedp browser
// context) against a shared headless Chrome process.
type chromedpSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	healthy bool

	consoleMu     sync.Mutex
	consoleErrors []string
}

func newChromedpSession(allocatorCtx context.Context) (*chromedpSession, error) {
	tabCtx, cancel := chromedp.NewContext(allocatorCtx)
	s := &chromedpSession{ctx: tabCtx, cancel: cancel, healthy: true}
	chromedp.ListenTarget(tabCtx, s.handleTargetEvent)
	if err := chromedp.Run(tabCtx, runtime.Enable()); err != nil {
		cancel()
		return nil, errs.Wrap(errs.CodeBrowserLaunch, err, "starting browser tab")
	}
	return s, nil
}

// handleTargetEvent records console errors and uncaught exceptions for the
// life of the tab (spec.md §3: PageArtifact carries "a list of collected
// console error strings").
func (s *chromedpSession) handleTargetEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError {
			return
		}
		s.appendConsoleError(formatConsoleArgs(e.Args))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			s.appendConsoleError(e.ExceptionDetails.Text)
		}
	}
}

func formatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case len(a.Value) > 0:
			parts = append(parts, string(a.Value))
		case a.Description != "":
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func (s *chromedpSession) appendConsoleError(msg string) {
	s.consoleMu.Lock()
	defer s.consoleMu.Unlock()
	s.consoleErrors = append(s.consoleErrors, msg)
}

func (s *chromedpSession) ConsoleErrors() []string {
	s.consoleMu.Lock()
	defer s.consoleMu.Unlock()
	out := s.consoleErrors
	s.consoleErrors = nil
	return out
}

// linkedContext derives a context from s.ctx (the tab's chromedp context,
// which callers must use for chromedp.Run to route commands to the right
// target) that is also cancelled when ctx is cancelled, so a run-wide
// cancellation or hard timeout interrupts an in-flight CDP call rather than
// only the fixed per-call timeout bounding it (spec.md §5). timeout <= 0
// means no additional deadline beyond ctx's own.
func (s *chromedpSession) linkedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var child context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		child, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		child, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return child, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) Navigate(ctx context.Context, url string, timeout time.Duration) (*NavigationResult, error) {
	navCtx, cancel := s.linkedContext(ctx, timeout)
	defer cancel()

	result := &NavigationResult{Headers: map[string]string{}}
	start := time.Now()

	var redirects []string
	listenCtx, stopListen := context.WithCancel(navCtx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok {
			if e.Response.Status >= 300 && e.Response.Status < 400 {
				redirects = append(redirects, e.Response.URL)
			}
			if result.StatusCode == 0 || e.Type == network.ResourceTypeDocument {
				result.StatusCode = int(e.Response.Status)
				for k, v := range e.Response.Headers {
					if sv, ok := v.(string); ok {
						result.Headers[k] = sv
					}
				}
			}
		}
	})

	err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	result.TTFB = time.Since(start)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.CodeNavigationTimeout, err, "navigating to %s", url)
		}
		s.healthy = false
		return nil, errs.Wrap(errs.CodeSessionCrash, err, "navigating to %s", url)
	}

	var finalURL string
	if err := chromedp.Run(navCtx, chromedp.Location(&finalURL)); err != nil {
		finalURL = url
	}
	result.FinalURL = finalURL
	result.RedirectChain = redirects
	return result, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, script string, timeout time.Duration) (any, error) {
	evalCtx, cancel := s.linkedContext(ctx, timeout)
	defer cancel()

	var out any
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &out)); err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.CodeNavigationTimeout, err, "evaluate timed out")
		}
		s.healthy = false
		return nil, errs.Wrap(errs.CodeSessionCrash, err, "evaluate failed")
	}
	return out, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	shotCtx, cancel := s.linkedContext(ctx, 0)
	defer cancel()

	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := chromedp.Run(shotCtx, action); err != nil {
		s.healthy = false
		return nil, errs.Wrap(errs.CodeSessionCrash, err, "capturing screenshot")
	}
	return buf, nil
}

// EmulateViewport overrides the tab's device metrics (spec.md §4.5: the
// mobile module inspects the page "at a 360 px emulated width").
func (s *chromedpSession) EmulateViewport(ctx context.Context, width, height int64, mobile bool) error {
	vpCtx, cancel := s.linkedContext(ctx, 0)
	defer cancel()

	if err := chromedp.Run(vpCtx, emulation.SetDeviceMetricsOverride(width, height, 1, mobile)); err != nil {
		s.healthy = false
		return errs.Wrap(errs.CodeSessionCrash, err, "emulating viewport")
	}
	return nil
}

func (s *chromedpSession) Healthy() bool { return s.healthy }

func (s *chromedpSession) Close() error {
	s.cancel()
	return nil
}
