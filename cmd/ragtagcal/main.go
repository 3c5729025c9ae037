package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"ragtagcal/internal/cache"
	"ragtagcal/internal/config"
	"ragtagcal/internal/feed"
	appLog "ragtagcal/internal/log"
	"ragtagcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("ragtagcal starting", "version", "0.1.0")

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyEnvOverrides(conf)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"cache_dir", conf.CacheDir,
		"cache_ttl", conf.CacheTTL,
		"months", conf.Months,
		"refresh", conf.RefreshCron,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	fetcher := feed.NewFetcher(conf.FeedURL)
	mgr := cache.NewManager(conf.CacheDir, conf.TTL(), fetcher)

	if flags.once {
		if _, err := mgr.Refresh(ctx); err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		appLog.Info("refresh complete, exiting")
		return
	}

	// Bootstrap the cache before accepting traffic; a failed bootstrap
	// aborts startup.
	if err := mgr.Init(ctx); err != nil {
		appLog.Error("cache init failed", err)
		os.Exit(1)
	}

	// Periodic background refresh keeps the TTL from expiring in-request.
	// The staleness check in Get stays authoritative either way.
	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		if _, err := mgr.Refresh(context.Background()); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, mgr).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}

	appLog.Info("ragtagcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one cache refresh and exit")

	flag.Parse()

	return cfg
}

// applyEnvOverrides lets deployment environments override file config
// without editing it.
func applyEnvOverrides(conf *config.Config) {
	if v := os.Getenv("RAGTAGCAL_FEED_URL"); v != "" {
		conf.FeedURL = v
	}
	if v := os.Getenv("RAGTAGCAL_LISTEN"); v != "" {
		conf.Listen = v
	}
}
