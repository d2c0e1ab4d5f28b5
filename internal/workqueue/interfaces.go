package workqueue

import (
	"context"

	"github.com/cametumbling/siteaudit/internal/browserpool"
	"github.com/cametumbling/siteaudit/internal/run"
)

// ArtifactWriter is the persistence seam the dispatcher drives, satisfied
// by internal/artifact.Writer. Defined here (the consumer) rather than in
// the artifact package, the same separation the teacher crawler uses for
// Fetcher/Parser in internal/crawler/interfaces.go.
type ArtifactWriter interface {
	WritePage(a run.PageArtifact) error
	WriteSummary(s run.RunSummary) error
	WriteScreenshot(runID, url string, png []byte) (string, error)
}

// Pool is the subset of browserpool.Pool the dispatcher drives, narrowed
// to an interface so tests can substitute a fake pool instead of
// launching a real browser.
type Pool interface {
	Acquire(ctx context.Context) (browserpool.Handle, error)
}
