package browserpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSession is a mock Session implementation for testing pool behavior
// without launching a real browser, following the teacher crawler's
// mockFetcher/mockParser convention of hand-rolled interface fakes.
type fakeSession struct {
	id      int
	mu      sync.Mutex
	healthy bool
	closed  bool
}

func newFakeSession(id int) *fakeSession { return &fakeSession{id: id, healthy: true} }

func (f *fakeSession) Navigate(ctx context.Context, url string, timeout time.Duration) (*NavigationResult, error) {
	return &NavigationResult{StatusCode: 200, FinalURL: url}, nil
}
func (f *fakeSession) Evaluate(ctx context.Context, script string, timeout time.Duration) (any, error) {
	return nil, nil
}
func (f *fakeSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) { return nil, nil }
func (f *fakeSession) EmulateViewport(ctx context.Context, width, height int64, mobile bool) error {
	return nil
}
func (f *fakeSession) ConsoleErrors() []string { return nil }
func (f *fakeSession) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}
func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeSession) markUnhealthy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = false
}

// newTestPool builds a Pool without launching chromedp, wiring fakeSessions
// directly into the internal channel to exercise Acquire/Release/Close
// semantics in isolation from the real browser.
func newTestPool(size int) (*Pool, []*fakeSession) {
	sessions := make([]*fakeSession, size)
	ch := make(chan Session, size)
	nextID := size
	for i := 0; i < size; i++ {
		sessions[i] = newFakeSession(i)
		ch <- sessions[i]
	}
	p := &Pool{
		log:           zap.NewNop(),
		allocatorCtx:  context.Background(),
		sessions:      ch,
		allocatorStop: func() {},
		newSession: func(context.Context) (Session, error) {
			s := newFakeSession(nextID)
			nextID++
			sessions = append(sessions, s)
			return s, nil
		},
	}
	return p, sessions
}

func TestAcquireRelease_RecyclesHealthySession(t *testing.T) {
	p, _ := newTestPool(1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	first := h.Session()
	h.Release()

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if h2.Session() != first {
		t.Error("expected healthy session to be recycled, got a different one")
	}
}

func TestAcquire_BlocksUntilAvailable(t *testing.T) {
	p, _ := newTestPool(1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire() error = %v", err)
			return
		}
		h2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire() returned before the pool had a free session")
	case <-time.After(50 * time.Millisecond):
	}

	h.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire() never unblocked after Release")
	}
}

func TestAcquire_RespectsContextCancellation(t *testing.T) {
	p, _ := newTestPool(1)
	h, _ := p.Acquire(context.Background())
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Acquire(ctx); err == nil {
		t.Error("expected Acquire() to return an error when context is cancelled while waiting")
	}
}

func TestRelease_ReplacesUnhealthySession(t *testing.T) {
	p, sessions := newTestPool(1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	original := sessions[0]
	original.markUnhealthy()
	h.Release()

	if !original.closed {
		t.Error("expected crashed session to be closed on release")
	}

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if h2.Session() == original {
		t.Error("expected a replacement session, got the crashed one back")
	}
	if !h2.Session().Healthy() {
		t.Error("expected replacement session to be healthy")
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(1)
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h.Release()
	h.Release() // must not panic or double-return to the pool

	select {
	case <-p.sessions:
	default:
		t.Error("expected exactly one session back in the pool after double Release")
	}
}

func TestWithSession_ReleasesOnPanic(t *testing.T) {
	p, _ := newTestPool(1)

	func() {
		defer func() { recover() }()
		p.WithSession(context.Background(), func(s Session) error {
			panic("boom")
		})
	}()

	select {
	case <-p.sessions:
	case <-time.After(time.Second):
		t.Error("expected session to be returned to the pool after a panic inside WithSession")
	}
}

func TestClose_IsIdempotentAndClosesAllSessions(t *testing.T) {
	p, sessions := newTestPool(3)
	p.Close()
	p.Close() // must not panic

	for i, s := range sessions {
		if !s.closed {
			t.Errorf("session %d was not closed", i)
		}
	}
}
