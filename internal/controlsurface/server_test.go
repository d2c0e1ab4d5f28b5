package controlsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cametumbling/siteaudit/internal/config"
	"github.com/cametumbling/siteaudit/internal/errs"
	"github.com/cametumbling/siteaudit/internal/eventbus"
	"github.com/cametumbling/siteaudit/internal/run"
)

type fakeLauncher struct {
	mu       sync.Mutex
	err      error
	launched []config.Configuration
}

func (l *fakeLauncher) Launch(ctx context.Context, runID string, cfg config.Configuration, onComplete func(run.RunSummary)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, cfg)
	if l.err != nil {
		return l.err
	}
	onComplete(run.RunSummary{RunID: runID, Finished: 1, TotalURLs: 1})
	return nil
}

func validConfigBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"sitemapUrl": "https://example.com/sitemap.xml",
		"outputDir":  "/tmp/out",
	})
	return body
}

func TestHandleAudit_ValidRequestReturnsStartedStatus(t *testing.T) {
	launcher := &fakeLauncher{}
	srv := New(launcher, eventbus.New(), nil, config.Default())

	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(validConfigBody()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("expected status=started, got %v", resp["status"])
	}
	if resp["runId"] == "" || resp["runId"] == nil {
		t.Error("expected a non-empty runId")
	}
}

func TestHandleAudit_MissingSitemapURLIsInvalidRequest(t *testing.T) {
	launcher := &fakeLauncher{}
	srv := New(launcher, eventbus.New(), nil, config.Default())

	body, _ := json.Marshal(map[string]any{"outputDir": "/tmp/out"})
	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
		t.Errorf("expected INVALID_REQUEST code, got %s", rec.Body.String())
	}
}

func TestHandleAudit_MalformedIncludePatternIsInvalidSitemap(t *testing.T) {
	launcher := &fakeLauncher{}
	srv := New(launcher, eventbus.New(), nil, config.Default())

	body, _ := json.Marshal(map[string]any{
		"sitemapUrl":     "https://example.com/sitemap.xml",
		"outputDir":      "/tmp/out",
		"includePattern": "(unclosed",
	})
	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_SITEMAP") {
		t.Errorf("expected INVALID_SITEMAP code, got %s", rec.Body.String())
	}
}

func TestHandleAudit_LaunchFailureIsInternalError(t *testing.T) {
	launcher := &fakeLauncher{err: errs.New(errs.CodeBrowserLaunch, "no chrome binary")}
	srv := New(launcher, eventbus.New(), nil, config.Default())

	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(validConfigBody()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("expected INTERNAL_ERROR code, got %s", rec.Body.String())
	}
}

func TestHandleHealth_ReportsActiveRunCount(t *testing.T) {
	launcher := &fakeLauncher{} // completes synchronously, so activeRuns should settle back to 0
	srv := New(launcher, eventbus.New(), nil, config.Default())

	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(validConfigBody()))
	srv.Router().ServeHTTP(httptest.NewRecorder(), req)

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(healthRec, healthReq)

	var resp map[string]any
	json.Unmarshal(healthRec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
	if resp["activeRuns"].(float64) != 0 {
		t.Errorf("expected 0 active runs after synchronous completion, got %v", resp["activeRuns"])
	}
}

func TestHandleGetRun_ReturnsSummaryAfterCompletion(t *testing.T) {
	launcher := &fakeLauncher{}
	srv := New(launcher, eventbus.New(), nil, config.Default())

	req := httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(validConfigBody()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var started map[string]any
	json.Unmarshal(rec.Body.Bytes(), &started)
	runID := started["runId"].(string)

	getReq := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
	getRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
	var summary run.RunSummary
	if err := json.Unmarshal(getRec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Finished != 1 {
		t.Errorf("expected the fake launcher's completion summary, got %+v", summary)
	}
}

func TestHandleGetRun_UnknownRunIsNotFound(t *testing.T) {
	srv := New(&fakeLauncher{}, eventbus.New(), nil, config.Default())

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebSocket_SendsConnectionFrameThenBusEvents(t *testing.T) {
	bus := eventbus.New()
	srv := New(&fakeLauncher{}, bus, nil, config.Default())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading connection frame: %v", err)
	}
	if first["type"] != "connection" || first["status"] != "connected" {
		t.Errorf("expected connection frame, got %+v", first)
	}

	// Give the subscriber time to register before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(eventbus.Event{RunID: "r1", Kind: eventbus.KindPageQueued, Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var second map[string]any
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("reading published event: %v", err)
	}
	if second["kind"] != string(eventbus.KindPageQueued) {
		t.Errorf("expected PageQueued event, got %+v", second)
	}
}
