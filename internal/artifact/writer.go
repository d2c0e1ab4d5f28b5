// Package artifact implements the Artifact Writer from spec.md §4.7:
// atomic per-page JSON files plus one run summary, laid out under
// <outputDir>/<runId>/. Screenshots, when captured, are written as
// sibling PNGs under the same run directory.
//
// Atomic writes (temp file + rename) use only os/encoding-json: no example
// in the pack wires a dedicated atomic-file-write library, and os.Rename
// is POSIX-atomic within a filesystem, which is the one property this
// writer needs.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/cametumbling/siteaudit/internal/errs"
	"github.com/cametumbling/siteaudit/internal/run"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Slug turns a URL into the filesystem-safe name spec.md §4.7 defines:
// every non-alphanumeric character replaced with "_".
func Slug(url string) string {
	return nonAlphanumeric.ReplaceAllString(url, "_")
}

// Writer persists PageArtifacts and RunSummaries under outputDir.
type Writer struct {
	outputDir string
	log       *zap.Logger
}

func New(outputDir string, log *zap.Logger) *Writer {
	return &Writer{outputDir: outputDir, log: log}
}

func (w *Writer) runDir(runID string) string {
	return filepath.Join(w.outputDir, runID)
}

// WritePage writes one page's artifact to
// <outputDir>/<runId>/pages/<urlSlug>.json, atomically.
func (w *Writer) WritePage(a run.PageArtifact) error {
	dir := filepath.Join(w.runDir(a.RunID), "pages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.CodePersist, err, "creating pages directory")
	}
	path := filepath.Join(dir, Slug(a.URL)+".json")
	return writeJSONAtomic(path, a)
}

// WriteSummary writes <outputDir>/<runId>/summary.json, atomically.
func (w *Writer) WriteSummary(s run.RunSummary) error {
	dir := w.runDir(s.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.CodePersist, err, "creating run directory")
	}
	path := filepath.Join(dir, "summary.json")
	return writeJSONAtomic(path, s)
}

// WriteScreenshot writes raw PNG bytes to
// <outputDir>/<runId>/screenshots/<urlSlug>.png, atomically, and returns
// the path written.
func (w *Writer) WriteScreenshot(runID, url string, png []byte) (string, error) {
	dir := filepath.Join(w.runDir(runID), "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.CodePersist, err, "creating screenshots directory")
	}
	path := filepath.Join(dir, Slug(url)+".png")
	if err := writeBytesAtomic(path, png); err != nil {
		return "", err
	}
	return path, nil
}

func writeJSONAtomic(path string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodePersist, err, "marshaling %s", path)
	}
	return writeBytesAtomic(path, body)
}

// writeBytesAtomic writes body to a temp file in the same directory as
// path, then renames it into place. Rename is atomic within one
// filesystem, so readers never observe a partially-written file.
func writeBytesAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.CodePersist, err, "creating temp file for %s", path)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodePersist, err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodePersist, err, "closing temp file for %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodePersist, err, "renaming into place %s", path)
	}
	return nil
}
