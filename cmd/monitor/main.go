package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/daot/disasterdata/internal/adapter/httpserver"
	"github.com/daot/disasterdata/internal/bluesky"
	"github.com/daot/disasterdata/internal/classify"
	"github.com/daot/disasterdata/internal/config"
	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/enrich"
	"github.com/daot/disasterdata/internal/fetch"
	"github.com/daot/disasterdata/internal/geocode"
	"github.com/daot/disasterdata/internal/observability"
	"github.com/daot/disasterdata/internal/pipeline"
	"github.com/daot/disasterdata/internal/queue"
	"github.com/daot/disasterdata/internal/store"
)

// statusProvider snapshots the moving parts for /statusz.
type statusProvider struct {
	queue    *queue.Queue
	resolver *geocode.Resolver
}

func (s statusProvider) Status() httpserver.Status {
	return httpserver.Status{
		QueueDepth:      s.queue.Len(),
		CachedLocations: s.resolver.CacheSize(),
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := bluesky.NewClient(cfg.BskyHost)
	if err := client.Login(ctx, cfg.BskyUser, cfg.BskyPass); err != nil {
		logger.Error("bluesky login failed", "error", err)
		return 1
	}
	logger.Info("bluesky session established", "host", cfg.BskyHost)

	// Geocoding is feature-flagged; without it the resolver runs on the
	// cache and store tiers alone.
	var geocoder domain.Geocoder
	if cfg.GeocodeEnabled {
		geocoder = geocode.NewHereClient(cfg.GeocodeURL, cfg.GeocodeAPIKey, cfg.GeocodeTimeout, logger)
		logger.Info("external geocoding enabled", "max_in_flight", cfg.GeocodeInFlight)
	} else {
		logger.Info("external geocoding disabled")
	}

	storeClient := store.NewClient(cfg.StoreURL, cfg.StoreUser, cfg.StorePass, logger)

	var locationTier geocode.LocationStore
	if cfg.StoreLocationTier {
		locationTier = storeClient
	}

	resolver := geocode.NewResolver(locationTier, geocoder, cfg.FuzzyThreshold, cfg.GeocodeInFlight, logger, metrics)
	if cfg.CitiesSeedFile != "" {
		n, err := resolver.SeedFromCSV(cfg.CitiesSeedFile)
		if err != nil {
			logger.Error("seeding location cache failed", "file", cfg.CitiesSeedFile, "error", err)
			return 1
		}
		logger.Info("location cache seeded", "file", cfg.CitiesSeedFile, "entries", n)
	}

	var classifier classify.Classifier
	if cfg.ModelPath != "" {
		onnx, err := classify.NewONNXClassifier(cfg.ModelPath)
		if err != nil {
			logger.Error("loading classification model failed", "path", cfg.ModelPath, "error", err)
			return 1
		}
		defer onnx.Close() //nolint:errcheck // session teardown at exit
		classifier = onnx
		logger.Info("classification model loaded", "path", cfg.ModelPath)
	} else {
		classifier = classify.NewKeywordClassifier()
		logger.Info("using keyword classifier")
	}

	q := queue.New(cfg.QueueSize, metrics)
	enricher := enrich.NewEnricher(cfg.MinWords, classifier, logger)
	pipe := pipeline.New(q, enricher, resolver, storeClient, logger, metrics, cfg.Workers)

	var since, until string
	if !cfg.Since.IsZero() {
		since = cfg.Since.UTC().Format(time.RFC3339)
	}
	if !cfg.Until.IsZero() {
		until = cfg.Until.UTC().Format(time.RFC3339)
	}
	fetcher := fetch.NewFetcher(client, q, fetch.Config{
		Queries:    cfg.Queries,
		Since:      since,
		Until:      until,
		Window:     cfg.Range,
		Interval:   cfg.TimeWindow / time.Duration(cfg.RequestLimit),
		Identifier: cfg.BskyUser,
		Password:   cfg.BskyPass,
	}, clockwork.NewRealClock(), logger, metrics)

	srv := httpserver.NewServer(cfg.HTTPAddr, pipe, statusProvider{queue: q, resolver: resolver}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if err := pipe.Run(runCtx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- fetcher.Run(runCtx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-fetchErr:
		if err != nil {
			logger.Error("fetch loop failed", "error", err)
			exitCode = 1
		}
		logger.Info("shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-pipeDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not drain before deadline")
	}

	logger.Info("shutdown complete")
	return exitCode
}
