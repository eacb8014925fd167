// Package main runs the crash ingestion daemon: it periodically copies crash
// reports from the configured feed into the document store and serves the
// realtime, test-crash, health, and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/balaan/admindash/pkg/config"
	"github.com/balaan/admindash/pkg/ingest"
)

var (
	envFile     = flag.String("env", ".env", "Environment file to load if present")
	httpTimeout = flag.Duration("http-timeout", 30*time.Second, "Timeout for crash feed requests")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Syncs crash reports into the admin document store.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CRASH_SOURCE_URL    - Crash feed returning a JSON array (empty: no periodic sync)\n")
		fmt.Fprintf(os.Stderr, "  CRASH_SOURCE_TOKEN  - Bearer token for the crash feed\n")
		fmt.Fprintf(os.Stderr, "  SYNC_INTERVAL       - Time between syncs (default: 5m)\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE            - memory or dynamodb (default: memory)\n")
		fmt.Fprintf(os.Stderr, "  PORT                - HTTP server port (default: 8080)\n")
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Crash sync failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Crash sync stopped")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}

	var source ingest.Source = ingest.StaticSource(nil)
	if cfg.CrashSourceURL != "" {
		source = &ingest.HTTPSource{
			Client: &http.Client{Timeout: *httpTimeout},
			URL:    cfg.CrashSourceURL,
			Token:  cfg.CrashSourceToken,
		}
	} else {
		slog.Warn("CRASH_SOURCE_URL not set, periodic sync ingests nothing")
	}

	job, err := ingest.New(ingest.Config{
		Store:    store,
		Source:   source,
		Interval: cfg.SyncInterval,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return job.Run(ctx) })
	g.Go(func() error { return job.Serve(ctx, ":"+cfg.Port) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
