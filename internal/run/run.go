// Package run defines the Run, URLTask, and RunSummary types from
// spec.md §3, and the runId allocation scheme.
package run

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cametumbling/siteaudit/internal/config"
)

// NewID produces a monotonically unique, ISO-timestamp-derived runId, per
// spec.md §3 ("Run: identified by a monotonically unique runId"). The
// timestamp gives operators a sortable, human-legible prefix; the uuid
// suffix guarantees uniqueness across runs started within the same
// millisecond, which a bare timestamp cannot.
func NewID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000Z"), uuid.NewString()[:8])
}

// State is one point in a URLTask's lifecycle (spec.md §3).
type State string

const (
	StateQueued     State = "Queued"
	StateRunning    State = "Running"
	StateFinished   State = "Finished"
	StateErrored    State = "Errored"
	StateSkipped    State = "Skipped"
	StateRedirected State = "Redirected"
)

// Terminal reports whether a state is absorbing.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateErrored, StateSkipped, StateRedirected:
		return true
	default:
		return false
	}
}

// URLTask tracks one URL's progress through the work queue. Attempt is
// 1-based and bounded by maxRetries+1 (spec.md §3).
type URLTask struct {
	mu      sync.Mutex
	URL     string
	attempt int
	state   State
}

func NewURLTask(url string) *URLTask {
	return &URLTask{URL: url, state: StateQueued}
}

func (t *URLTask) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

func (t *URLTask) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BeginAttempt increments the attempt counter and marks the task Running.
func (t *URLTask) BeginAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.state = StateRunning
	return t.attempt
}

// Finish moves the task to a terminal state. It is the caller's
// responsibility to only call this with a terminal State.
func (t *URLTask) Finish(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// PageSummary is one page's contribution to a RunSummary.
type PageSummary struct {
	URL        string `json:"url"`
	State      State  `json:"state"`
	Attempts   int    `json:"attempts"`
	StatusCode int    `json:"statusCode,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

// ModuleAverage is the mean numeric score an audit module produced across
// all pages that ran it successfully.
type ModuleAverage struct {
	Module       string  `json:"module"`
	AverageScore float64 `json:"averageScore"`
	SampleCount  int     `json:"sampleCount"`
}

// PageArtifact is the serialized form of a finished PageContext
// (spec.md §3, §6 schema v1). Module fragments are carried as raw
// map[string]any blobs rather than typed structs: the artifact writer
// persists whatever the audit chain produced without re-decoding it,
// matching the fragments' own loosely-typed shape.
type PageArtifact struct {
	SchemaVersion string `json:"schemaVersion"`
	RunID         string `json:"runId"`
	URL           string `json:"url"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	HTTP map[string]any `json:"http,omitempty"`
	Perf map[string]any `json:"perf,omitempty"`
	A11y map[string]any `json:"a11y"`

	SEO           map[string]any `json:"seo,omitempty"`
	ContentWeight map[string]any `json:"contentWeight,omitempty"`
	Mobile        map[string]any `json:"mobile,omitempty"`

	ConsoleErrors  []string `json:"consoleErrors"`
	ScreenshotPath *string  `json:"screenshotPath"`

	ErrorCode string `json:"errorCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SchemaVersionV1 is the current PageArtifact schema version (spec.md §6).
const SchemaVersionV1 = "1"

// RunSummary aggregates per-page statuses, module-average scores, and
// counts (spec.md §3). Written once at run end by workqueue.Dispatcher.Run.
type RunSummary struct {
	RunID           string          `json:"runId"`
	SitemapURL      string          `json:"sitemapUrl,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	TotalURLs       int             `json:"totalUrls"`
	Finished        int             `json:"finished"`
	Errored         int             `json:"errored"`
	Skipped         int             `json:"skipped"`
	Redirected      int             `json:"redirected"`
	FatalError      string          `json:"fatalError,omitempty"`
	Pages           []PageSummary   `json:"pages"`
	ModuleAverages  []ModuleAverage `json:"moduleAverages"`
}

// Run is the immutable-after-creation aggregate root for one pipeline
// invocation (spec.md §3). Created at enqueue; destroyed (conceptually —
// the struct is simply dropped) once every URL reaches a terminal state
// and the summary is written.
type Run struct {
	ID        string
	Config    config.Configuration
	OutputDir string
	URLs      []string
	StartedAt time.Time

	mu    sync.Mutex
	tasks map[string]*URLTask
}

func New(id string, cfg config.Configuration, urls []string, startedAt time.Time) *Run {
	tasks := make(map[string]*URLTask, len(urls))
	for _, u := range urls {
		tasks[u] = NewURLTask(u)
	}
	return &Run{
		ID:        id,
		Config:    cfg,
		OutputDir: cfg.OutputDir,
		URLs:      urls,
		StartedAt: startedAt,
		tasks:     tasks,
	}
}

func (r *Run) Task(url string) *URLTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[url]
}

// AllTerminal reports whether every task in the run has reached a terminal
// state, the condition that allows the finalizer to write the summary.
func (r *Run) AllTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if !t.State().Terminal() {
			return false
		}
	}
	return true
}

// Summarize builds the RunSummary's page/count fields from current task
// state. Module averages are supplied separately by the caller, which has
// visibility into artifact contents the Run type does not.
func (r *Run) Summarize(finishedAt time.Time, fatal error) RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RunSummary{
		RunID:      r.ID,
		SitemapURL: r.Config.SitemapURL,
		StartedAt:  r.StartedAt,
		FinishedAt: finishedAt,
		TotalURLs:  len(r.tasks),
	}
	if fatal != nil {
		s.FatalError = fatal.Error()
	}
	for _, url := range r.URLs {
		t, ok := r.tasks[url]
		if !ok {
			continue
		}
		ps := PageSummary{URL: url, State: t.State(), Attempts: t.Attempt()}
		switch ps.State {
		case StateFinished:
			s.Finished++
		case StateErrored:
			s.Errored++
		case StateSkipped:
			s.Skipped++
		case StateRedirected:
			s.Redirected++
		}
		s.Pages = append(s.Pages, ps)
	}
	return s
}
