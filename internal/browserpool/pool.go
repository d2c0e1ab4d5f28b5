package browserpool

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/cametumbling/siteaudit/internal/errs"
)

// Pool hands out exclusive Session handles (spec.md §4.2). Its size is
// fixed by Options.Size at construction; it is not resized to match a
// run's concurrency setting. The pool outlives any single run — it is
// owned by the control-surface process and passed by reference into each
// run (spec.md §9) — so construction (launching headless Chrome) happens
// once regardless of how many runs execute against it.
type Pool struct {
	log           *zap.Logger
	allocatorCtx  context.Context
	allocatorStop context.CancelFunc
	// newSession creates a replacement session when one crashes. Factored
	// out of New so tests can substitute a fake factory instead of
	// launching a real browser, the same seam the teacher crawler gets
	// for free by injecting Fetcher/Parser into Coordinator's Config.
	newSession func(context.Context) (Session, error)

	mu       sync.Mutex
	sessions chan Session // acts as both free-list and concurrency semaphore
	closed   bool
}

// Options configures the Chrome launch. ChromePath, DisableGPU, and proxy
// settings are sourced from the environment variables named in spec.md §6
// by the caller (cmd/siteaudit), not read directly by this package.
type Options struct {
	Size       int
	ChromePath string
	DisableGPU bool
	HTTPProxy  string
}

// New launches headless Chrome once and pre-populates the pool with Size
// sessions. A launch failure is CodeBrowserLaunch, fatal for the run
// (spec.md §4.2, §7).
func New(ctx context.Context, log *zap.Logger, opts Options) (*Pool, error) {
	if opts.Size < 1 {
		opts.Size = 1
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.NoSandbox,
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.DisableGPU {
		allocOpts = append(allocOpts, chromedp.DisableGPU)
	}
	if opts.HTTPProxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.HTTPProxy))
	}

	allocatorCtx, allocatorStop := chromedp.NewExecAllocator(ctx, allocOpts...)

	p := &Pool{
		log:           log,
		allocatorCtx:  allocatorCtx,
		allocatorStop: allocatorStop,
		newSession: func(ctx context.Context) (Session, error) {
			return newChromedpSession(ctx)
		},
		sessions: make(chan Session, opts.Size),
	}

	for i := 0; i < opts.Size; i++ {
		sess, err := p.newSession(allocatorCtx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.sessions <- sess
	}
	return p, nil
}

// Handle is an exclusive lease on a Session, returned by Acquire. Release
// must be called exactly once; it is safe to call from a defer even on
// panic or cancellation paths (spec.md §4.2's "scoped acquisition"). It is
// an interface, not the concrete lease type, so callers outside this
// package (the work queue's dispatcher) can substitute a fake lease in
// tests without a real browser.
type Handle interface {
	Session() Session
	Release()
}

type handle struct {
	pool     *Pool
	session  Session
	released bool
	mu       sync.Mutex
}

func (h *handle) Session() Session { return h.session }

func (h *handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.pool.release(h.session)
}

// Acquire blocks until a session is available and returns an exclusive
// Handle. It respects ctx cancellation while waiting.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	select {
	case sess, ok := <-p.sessions:
		if !ok {
			return nil, errs.New(errs.CodeBrowserLaunch, "browser pool is closed")
		}
		return &handle{pool: p, session: sess}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WithSession is the scoped-acquisition helper from spec.md §9: it
// guarantees Release runs even if fn panics.
func (p *Pool) WithSession(ctx context.Context, fn func(Session) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Session())
}

// release returns a session to the free list, replacing it transparently
// first if it reported a fatal error (spec.md §4.2: "the pool replaces it
// transparently before the next acquire() returns").
func (p *Pool) release(sess Session) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		sess.Close()
		return
	}

	if !sess.Healthy() {
		sess.Close()
		replacement, err := p.newSession(p.allocatorCtx)
		if err != nil {
			if p.log != nil {
				p.log.Error("failed to replace crashed browser session", zap.Error(err))
			}
			// Fall through without returning a session to the pool; the
			// pool is now one session smaller until a future release
			// happens to come from a still-healthy session. A fully
			// exhausted pool surfaces as Acquire blocking, which the
			// run's hard timeout (spec.md §5) bounds.
			return
		}
		sess = replacement
	}

	select {
	case p.sessions <- sess:
	default:
		// Should not happen: channel capacity equals pool size and we
		// only ever return what we took out.
		sess.Close()
	}
}

// Close tears down every session and the underlying Chrome process.
// Idempotent (spec.md §4.2).
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.sessions)
	for sess := range p.sessions {
		sess.Close()
	}
	p.allocatorStop()
}
