package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cametumbling/siteaudit/internal/artifact"
	"github.com/cametumbling/siteaudit/internal/audit"
	"github.com/cametumbling/siteaudit/internal/browserpool"
	"github.com/cametumbling/siteaudit/internal/config"
	"github.com/cametumbling/siteaudit/internal/controlsurface"
	"github.com/cametumbling/siteaudit/internal/errs"
	"github.com/cametumbling/siteaudit/internal/eventbus"
	"github.com/cametumbling/siteaudit/internal/obslog"
	"github.com/cametumbling/siteaudit/internal/ratelimit"
	"github.com/cametumbling/siteaudit/internal/run"
	"github.com/cametumbling/siteaudit/internal/sitemap"
	"github.com/cametumbling/siteaudit/internal/workqueue"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address for the control surface")
	configPath := flag.String("config", "", "optional YAML file of default Configuration fields")
	browserPoolSize := flag.Int("browser-pool-size", 4, "number of headless Chrome tabs kept warm")
	debug := flag.Bool("debug", false, "enable verbose, human-readable logging")
	flag.Parse()

	log, err := obslog.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	defaults, err := loadDefaults(*configPath)
	if err != nil {
		log.Fatal("failed to load default configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := browserpool.New(ctx, log, browserOptionsFromEnv(*browserPoolSize))
	if err != nil {
		log.Fatal("failed to launch browser pool", zap.Error(err))
	}
	defer pool.Close()

	if v := outputDirFromEnv(defaults.OutputDir); v != "" {
		defaults.OutputDir = v
	}

	bus := eventbus.New()
	orch := &orchestrator{
		pool:    pool,
		bus:     bus,
		fetcher: sitemap.NewHTTPFetcher(),
		log:     log,
	}

	surface := controlsurface.New(orch, bus, log, defaults)
	server := &http.Server{Addr: *addr, Handler: surface.Router()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("control surface listening", zap.String("addr", *addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("control surface exited unexpectedly", zap.Error(err))
		}
	case sig := <-sigCh:
		log.Info("received signal, shutting down gracefully", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown timed out, forcing exit", zap.Error(err))
		}
		cancel()
	}
}

// loadDefaults reads the optional YAML config file into a Configuration
// seeded with config.Default(), the same role the teacher's -url/-workers
// flags play for the crawler binary, generalized to the much larger
// Configuration surface here.
func loadDefaults(path string) (config.Configuration, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func outputDirFromEnv(fallback string) string {
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		return v
	}
	return fallback
}

// browserOptionsFromEnv reads the environment variables spec.md §6 names
// for browser launch tuning. NO_PROXY is not read and has no effect:
// browserpool.Options only carries a single proxy
// server address, and chromedp has no separate bypass-list hook wired
// through this pool — the simplest corpus-grounded proxy surface is
// chromedp.ProxyServer, which takes one address.
func browserOptionsFromEnv(size int) browserpool.Options {
	proxy := os.Getenv("HTTPS_PROXY")
	if proxy == "" {
		proxy = os.Getenv("HTTP_PROXY")
	}
	disableGPU, _ := strconv.ParseBool(os.Getenv("DISABLE_GPU"))
	return browserpool.Options{
		Size:       size,
		ChromePath: os.Getenv("CHROME_PATH"),
		DisableGPU: disableGPU,
		HTTPProxy:  proxy,
	}
}

// orchestrator implements controlsurface.Launcher, binding one HTTP
// request's Configuration to a full sitemap-load -> filter -> dispatch
// pipeline. Spec.md §4.8 requires at most one concurrently executable run
// per process; runMu enforces that by rejecting a second Launch while one
// is in flight rather than queuing it.
type orchestrator struct {
	pool    *browserpool.Pool
	bus     *eventbus.Bus
	fetcher sitemap.Fetcher
	log     *zap.Logger

	runMu   sync.Mutex
	running bool
}

func (o *orchestrator) Launch(ctx context.Context, runID string, cfg config.Configuration, onComplete func(run.RunSummary)) error {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return errs.New(errs.CodeConfig, "a run is already in progress")
	}
	o.running = true
	o.runMu.Unlock()
	release := func() {
		o.runMu.Lock()
		o.running = false
		o.runMu.Unlock()
	}

	cfg = cfg.Clone()
	filters, err := cfg.CompileFilters()
	if err != nil {
		release()
		return err
	}

	urls := cfg.URLs
	if cfg.SitemapURL != "" {
		discovered, err := sitemap.Load(ctx, o.fetcher, cfg.SitemapURL)
		if err != nil {
			release()
			return err
		}
		urls = discovered
	}
	urls = sitemap.Filter(urls, filters, cfg.MaxPages)
	if len(urls) == 0 {
		release()
		return errs.New(errs.CodeConfig, "no urls survived sitemap discovery and filtering")
	}

	r := run.New(runID, cfg, urls, time.Now())
	chain := audit.NewChain(cfg)
	settings := audit.Settings{
		PerformanceBudget:         cfg.PerformanceBudget,
		AccessibilityAnalyzerPath: cfg.AccessibilityAnalyzerPath,
		EvaluateTimeout:           10 * time.Second,
	}
	limiter := ratelimit.New(cfg.MaxRequestsPerSecond, time.Duration(cfg.DelayMs)*time.Millisecond)
	writer := artifact.New(cfg.OutputDir, o.log)
	dispatcher := workqueue.New(workqueue.Config{
		Concurrency:     cfg.Concurrency,
		MaxRetries:      cfg.MaxRetries,
		BaseRetryDelay:  time.Duration(cfg.BaseRetryDelayMs) * time.Millisecond,
		FollowRedirects: cfg.FollowRedirects,
		MaxRedirects:    cfg.MaxRedirects,
		Screenshots:     cfg.Screenshots,
	}, o.pool, limiter, chain, settings, o.bus, writer, obslog.ForRun(o.log, runID))

	go func() {
		defer release()
		summary := dispatcher.Run(context.Background(), r)
		onComplete(summary)
	}()
	return nil
}
