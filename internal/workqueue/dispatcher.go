// Package workqueue implements the Work Queue from spec.md §4.4: a
// bounded-concurrency dispatcher binding the Browser Pool, Rate Limiter,
// Audit Chain, Artifact Writer, and Event Bus together over a run's
// filtered URL list.
//
// The scheduling model mirrors the teacher crawler's Coordinator/worker
// split (internal/crawler/coordinator.go, worker.go): parallel workers
// pull from a shared channel and each URLTask reaches exactly one
// terminal state. Unlike the teacher, this queue's input list is fixed
// upfront (sitemap-discovered, not link-discovered), so there is no
// dynamic re-enqueue path — retries loop inside the worker handling that
// URL rather than re-entering the shared channel.
package workqueue

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cametumbling/siteaudit/internal/audit"
	"github.com/cametumbling/siteaudit/internal/browserpool"
	"github.com/cametumbling/siteaudit/internal/errs"
	"github.com/cametumbling/siteaudit/internal/eventbus"
	"github.com/cametumbling/siteaudit/internal/obslog"
	"github.com/cametumbling/siteaudit/internal/ratelimit"
	"github.com/cametumbling/siteaudit/internal/run"
)

// Config bundles the dispatcher's per-run tuning knobs, assembled from
// config.Configuration at run start.
type Config struct {
	Concurrency      int
	MaxRetries       int
	BaseRetryDelay   time.Duration
	FollowRedirects  bool
	MaxRedirects     int
	HardTimeout      time.Duration
	NavigateTimeout  time.Duration
	Screenshots      bool
}

// Dispatcher drives one run's URL list to completion.
type Dispatcher struct {
	cfg      Config
	pool     Pool
	limiter  *ratelimit.Limiter
	chain    *audit.Chain
	settings audit.Settings
	bus      *eventbus.Bus
	writer   ArtifactWriter
	log      *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	avgMu  sync.Mutex
	scores map[string][]float64
}

func New(cfg Config, pool Pool, limiter *ratelimit.Limiter, chain *audit.Chain, settings audit.Settings, bus *eventbus.Bus, writer ArtifactWriter, log *zap.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 10 * time.Minute
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		pool:     pool,
		limiter:  limiter,
		chain:    chain,
		settings: settings,
		bus:      bus,
		writer:   writer,
		log:      log,
		scores:   make(map[string][]float64),
	}
}

// Run dispatches every URL in r to a pool of cfg.Concurrency workers and
// blocks until every URLTask reaches a terminal state or the run's hard
// timeout elapses, whichever comes first (spec.md §4.4, §5). It returns
// the completed RunSummary and also persists it via the writer.
func (d *Dispatcher) Run(ctx context.Context, r *run.Run) run.RunSummary {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.HardTimeout)
	defer cancel()

	d.rngMu.Lock()
	d.rng = newRunRand(r.ID)
	d.rngMu.Unlock()

	d.publish(r.ID, "", eventbus.KindAuditStarted, map[string]any{"totalUrls": len(r.URLs)})

	items := make(chan string, len(r.URLs))
	for _, u := range r.URLs {
		d.publish(r.ID, u, eventbus.KindPageQueued, nil)
		items <- u
	}
	close(items)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(runCtx, r, items)
		}()
	}
	wg.Wait()

	finishedAt := time.Now()
	var fatal error
	if runCtx.Err() == context.DeadlineExceeded {
		fatal = errs.New(errs.CodeNavigationTimeout, "run exceeded its hard timeout")
	}
	summary := r.Summarize(finishedAt, fatal)
	summary.ModuleAverages = d.moduleAverages()

	if err := d.writer.WriteSummary(summary); err != nil && d.log != nil {
		d.log.Error("failed to write run summary", zap.String("runId", r.ID), zap.Error(err))
	}
	d.publish(r.ID, "", eventbus.KindAuditCompleted, map[string]any{
		"finished": summary.Finished, "errored": summary.Errored,
		"skipped": summary.Skipped, "redirected": summary.Redirected,
	})
	return summary
}

func (d *Dispatcher) workerLoop(ctx context.Context, r *run.Run, items <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-items:
			if !ok {
				return
			}
			d.processURL(ctx, r, u)
		}
	}
}

// processURL runs the full per-URL attempt loop from spec.md §4.4,
// including retries, until the task reaches a terminal state.
func (d *Dispatcher) processURL(ctx context.Context, r *run.Run, u string) {
	task := r.Task(u)
	maxAttempts := d.cfg.MaxRetries + 1

	for {
		if ctx.Err() != nil {
			task.Finish(run.StateErrored)
			return
		}

		attempt := task.BeginAttempt()
		if d.log != nil {
			obslog.ForURL(d.log, u, attempt).Debug("starting attempt")
		}
		d.publish(r.ID, u, eventbus.KindPageStarted, map[string]any{"attempt": attempt})

		retry, delay, lastErr := d.attempt(ctx, r, task, attempt)
		if !retry {
			return
		}
		if attempt >= maxAttempts {
			d.publish(r.ID, u, eventbus.KindPageError, map[string]any{"reason": "retries exhausted"})
			if lastErr == nil {
				lastErr = errs.New(errs.CodeHttp5xxTransient, "exhausted retries")
			}
			d.writeErrorStub(r.ID, u, task, lastErr)
			task.Finish(run.StateErrored)
			return
		}

		d.publish(r.ID, u, eventbus.KindPageRetry, map[string]any{
			"attempt": attempt + 1, "delayMs": delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			task.Finish(run.StateErrored)
			return
		}
	}
}

// attempt runs exactly one URL attempt. It returns (retry=true, delay,
// lastErr) if the attempt hit a retriable failure, lastErr being the
// retriable error; processURL decides whether attempts remain. Otherwise it
// drives the task to a terminal state itself and returns (false, 0, nil).
func (d *Dispatcher) attempt(ctx context.Context, r *run.Run, task *run.URLTask, attemptNum int) (bool, time.Duration, error) {
	u := task.URL

	if err := d.limiter.Await(ctx); err != nil {
		task.Finish(run.StateErrored)
		return false, 0, nil
	}

	handle, err := d.pool.Acquire(ctx)
	if err != nil {
		d.publish(r.ID, u, eventbus.KindPageError, map[string]any{"reason": "browser pool unavailable"})
		d.writeErrorStub(r.ID, u, task, err)
		task.Finish(run.StateErrored)
		return false, 0, nil
	}
	defer handle.Release()
	session := handle.Session()

	pc := audit.NewPageContext(u, session)

	navResult, navErr := session.Navigate(ctx, u, d.cfg.NavigateTimeout)
	if navErr != nil {
		if e, ok := errs.As(navErr); ok && e.Retriable() {
			return true, d.nextBackoff(attemptNum), navErr
		}
		d.publish(r.ID, u, eventbus.KindPageError, map[string]any{"reason": errCode(navErr)})
		d.writeErrorStub(r.ID, u, task, navErr)
		task.Finish(run.StateErrored)
		return false, 0, nil
	}

	if navResult.StatusCode >= 500 {
		transientErr := errs.New(errs.CodeHttp5xxTransient, "received status %d", navResult.StatusCode)
		return true, d.nextBackoff(attemptNum), transientErr
	}

	if skip, reason := d.redirectSkip(u, navResult); skip {
		d.publish(r.ID, u, eventbus.KindPageSkipped, map[string]any{"reason": reason})
		d.writeTerminalStub(r.ID, u, pc.StartedAt, navResult)
		task.Finish(run.StateSkipped)
		return false, 0, nil
	}

	if d.cfg.FollowRedirects && d.cfg.MaxRedirects > 0 && len(navResult.RedirectChain) > d.cfg.MaxRedirects {
		d.publish(r.ID, u, eventbus.KindPageRedirected, map[string]any{"to": navResult.FinalURL})
		d.writeTerminalStub(r.ID, u, pc.StartedAt, navResult)
		task.Finish(run.StateRedirected)
		return false, 0, nil
	}

	pc.HTTP = &audit.HTTPResult{
		StatusCode:    navResult.StatusCode,
		Headers:       navResult.Headers,
		FinalURL:      navResult.FinalURL,
		RedirectChain: navResult.RedirectChain,
		TTFBMs:        navResult.TTFB.Milliseconds(),
	}

	hook := func(module string, finished bool, fragment audit.Fragment) {
		if !finished {
			d.publish(r.ID, u, eventbus.KindAuditAttached, map[string]any{"module": module})
			return
		}
		d.publish(r.ID, u, eventbus.KindAuditFinished, map[string]any{"module": module, "error": fragment.Error})
		if score, ok := fragment.Data["score"].(float64); ok {
			d.recordScore(module, score)
		}
	}
	d.chain.Run(ctx, pc, d.settings, hook)
	pc.FinishedAt = time.Now()
	pc.ConsoleErrors = session.ConsoleErrors()

	if d.cfg.Screenshots && !pc.ShouldSkipRendering {
		if png, err := session.Screenshot(ctx, true); err == nil {
			if path, err := d.writer.WriteScreenshot(r.ID, u, png); err == nil {
				pc.ScreenshotPath = path
			}
		}
	}

	artifactOut := buildArtifact(r.ID, pc)
	if err := d.writer.WritePage(artifactOut); err != nil {
		if d.log != nil {
			d.log.Error("failed to persist page artifact", zap.String("url", u), zap.Error(err))
		}
		d.publish(r.ID, u, eventbus.KindPageError, map[string]any{"reason": "persist"})
		task.Finish(run.StateErrored)
		return false, 0, nil
	}

	d.publish(r.ID, u, eventbus.KindPageFinished, map[string]any{"statusCode": navResult.StatusCode})
	task.Finish(run.StateFinished)
	return false, 0, nil
}

// redirectSkip implements spec.md §4.4 step 7's first branch: a
// cross-origin redirect with followRedirects disabled is a terminal skip
// rather than an error.
func (d *Dispatcher) redirectSkip(original string, nav *browserpool.NavigationResult) (bool, string) {
	if d.cfg.FollowRedirects || len(nav.RedirectChain) == 0 {
		return false, ""
	}
	if crossOrigin(original, nav.RedirectChain[0]) {
		return true, "redirect"
	}
	return false, ""
}

func crossOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return !strings.EqualFold(ua.Host, ub.Host)
}

func (d *Dispatcher) nextBackoff(attempt int) time.Duration {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return backoffDelay(d.rng, d.cfg.BaseRetryDelay, attempt)
}

func (d *Dispatcher) recordScore(module string, score float64) {
	d.avgMu.Lock()
	defer d.avgMu.Unlock()
	d.scores[module] = append(d.scores[module], score)
}

func (d *Dispatcher) moduleAverages() []run.ModuleAverage {
	d.avgMu.Lock()
	defer d.avgMu.Unlock()
	out := make([]run.ModuleAverage, 0, len(d.scores))
	for module, scores := range d.scores {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		out = append(out, run.ModuleAverage{
			Module:       module,
			AverageScore: sum / float64(len(scores)),
			SampleCount:  len(scores),
		})
	}
	return out
}

func (d *Dispatcher) publish(runID, u string, kind eventbus.Kind, payload map[string]any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{
		RunID:     runID,
		URL:       u,
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
	})
}

func errCode(err error) string {
	if e, ok := errs.As(err); ok {
		return string(e.Code)
	}
	return "unknown"
}

func (d *Dispatcher) writeErrorStub(runID, u string, task *run.URLTask, err error) {
	a := run.PageArtifact{
		SchemaVersion: run.SchemaVersionV1,
		RunID:         runID,
		URL:           u,
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
		ConsoleErrors: []string{},
		Error:         err.Error(),
		ErrorCode:     errCode(err),
	}
	if werr := d.writer.WritePage(a); werr != nil && d.log != nil {
		d.log.Error("failed to persist error-stub artifact", zap.String("url", u), zap.Error(werr))
	}
}

func (d *Dispatcher) writeTerminalStub(runID, u string, startedAt time.Time, nav *browserpool.NavigationResult) {
	a := run.PageArtifact{
		SchemaVersion: run.SchemaVersionV1,
		RunID:         runID,
		URL:           u,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
		ConsoleErrors: []string{},
		HTTP: map[string]any{
			"statusCode":    nav.StatusCode,
			"headers":       nav.Headers,
			"finalUrl":      nav.FinalURL,
			"redirectChain": nav.RedirectChain,
			"ttfbMs":        nav.TTFB.Milliseconds(),
		},
	}
	if werr := d.writer.WritePage(a); werr != nil && d.log != nil {
		d.log.Error("failed to persist terminal-stub artifact", zap.String("url", u), zap.Error(werr))
	}
}

// buildArtifact converts a finished PageContext's fragments into a
// PageArtifact (spec.md §6 schema v1).
func buildArtifact(runID string, pc *audit.PageContext) run.PageArtifact {
	a := run.PageArtifact{
		SchemaVersion:  run.SchemaVersionV1,
		RunID:          runID,
		URL:            pc.URL,
		StartedAt:      pc.StartedAt,
		FinishedAt:     pc.FinishedAt,
		ConsoleErrors:  pc.ConsoleErrors,
		ScreenshotPath: nullableString(pc.ScreenshotPath),
	}
	if a.ConsoleErrors == nil {
		a.ConsoleErrors = []string{}
	}

	fragments := pc.Fragments()
	if f, ok := fragments[audit.NameHTTP]; ok {
		a.HTTP = fragmentMap(f)
	}
	if f, ok := fragments[audit.NamePerformance]; ok {
		a.Perf = fragmentMap(f)
	}
	if f, ok := fragments[audit.NameAccessibility]; ok {
		a.A11y = fragmentMap(f)
	}
	if f, ok := fragments[audit.NameSEO]; ok {
		a.SEO = fragmentMap(f)
	}
	if f, ok := fragments[audit.NameContentWeight]; ok {
		a.ContentWeight = fragmentMap(f)
	}
	if f, ok := fragments[audit.NameMobile]; ok {
		a.Mobile = fragmentMap(f)
	}
	return a
}

func fragmentMap(f audit.Fragment) map[string]any {
	if f.Error == "" {
		return f.Data
	}
	out := make(map[string]any, len(f.Data)+2)
	for k, v := range f.Data {
		out[k] = v
	}
	out["error"] = f.Error
	out["errorCode"] = f.ErrorCode
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
