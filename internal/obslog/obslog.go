// Package obslog builds the single zap.Logger instance the process threads
// through every collaborator. Nothing in this module reaches for a package
// global logger; New is called once in cmd/siteaudit and the result is
// passed down explicitly, mirroring how the teacher crawler threads its
// Fetcher and Parser through Config rather than importing them ambiently.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-shaped logger. debug widens the level to Debug
// and switches to a human-readable console encoder; otherwise JSON at Info.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// ForRun returns a child logger tagged with the run id, so every log line
// emitted while a run is in flight can be filtered by runId.
func ForRun(base *zap.Logger, runID string) *zap.Logger {
	return base.With(zap.String("runId", runID))
}

// ForURL further tags a run-scoped logger with the URL a worker is
// currently processing.
func ForURL(base *zap.Logger, url string, attempt int) *zap.Logger {
	return base.With(zap.String("url", url), zap.Int("attempt", attempt))
}
