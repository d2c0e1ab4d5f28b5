package controlsurface

import (
	"context"

	"github.com/cametumbling/siteaudit/internal/config"
	"github.com/cametumbling/siteaudit/internal/run"
)

// Launcher is the seam between the HTTP transport and the rest of the
// pipeline (sitemap loader, browser pool, work queue), defined here the
// way the teacher crawler defines Fetcher/Parser next to the thing that
// drives them rather than next to the thing that implements them.
//
// Launch does whatever synchronous work is needed to decide the request
// is viable (sitemap fetch, filter compilation, pool availability) and
// returns once the run has been handed off; a launch failure at this
// stage is the 500 from spec.md §4.8. The run itself then proceeds
// asynchronously and must call onComplete exactly once, with the run's
// final summary, when every URL has reached a terminal state.
type Launcher interface {
	Launch(ctx context.Context, runID string, cfg config.Configuration, onComplete func(run.RunSummary)) error
}
