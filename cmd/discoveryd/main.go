// Package main wires together the discovery service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/api"
	"github.com/sitelens/discovery/internal/blueprint"
	"github.com/sitelens/discovery/internal/clock/system"
	"github.com/sitelens/discovery/internal/compliance"
	"github.com/sitelens/discovery/internal/config"
	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/fetch"
	"github.com/sitelens/discovery/internal/fingerprint"
	"github.com/sitelens/discovery/internal/hash/sha256"
	"github.com/sitelens/discovery/internal/id/uuid"
	"github.com/sitelens/discovery/internal/jobs"
	"github.com/sitelens/discovery/internal/logging"
	"github.com/sitelens/discovery/internal/metrics"
	memorypublisher "github.com/sitelens/discovery/internal/notify/memory"
	pubsubpublisher "github.com/sitelens/discovery/internal/notify/pubsub"
	"github.com/sitelens/discovery/internal/pipeline"
	"github.com/sitelens/discovery/internal/selectorgen"
	"github.com/sitelens/discovery/internal/storage/blob"
	"github.com/sitelens/discovery/internal/storage/memory"
	"github.com/sitelens/discovery/internal/storage/postgres"
	"github.com/sitelens/discovery/internal/template"
	"github.com/sitelens/discovery/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.NewGenerator()

	var (
		siteStore      discovery.SiteStore
		jobStore       discovery.JobStore
		blueprintStore discovery.BlueprintStore
		templateStore  discovery.TemplateStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		defer pool.Close()
		siteStore = postgres.NewSiteStore(pool)
		jobStore = postgres.NewJobStore(pool)
		blueprintStore = postgres.NewBlueprintStore(pool)
		templateStore = postgres.NewTemplateStore(pool)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		sites := memory.NewSiteStore()
		siteStore = sites
		jobStore = memory.NewJobStore()
		blueprintStore = memory.NewBlueprintStore(sites)
		templateStore = memory.NewTemplateStore()
	}

	queue := memory.NewQueue(cfg.Jobs.QueueDepth)
	defer queue.Close()

	var publisher discovery.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()
		pub, err := pubsubpublisher.New(client)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer pub.Stop()
		publisher = pub
	} else {
		publisher = memorypublisher.New()
	}

	var snapshots discovery.BlobStore
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		store, err := blob.NewGCS(client, blob.GCSConfig{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs snapshot store init failed", zap.Error(err))
		}
		snapshots = store
	case cfg.Storage.LocalDir != "":
		store, err := blob.NewLocal(blob.LocalConfig{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("local snapshot store init failed", zap.Error(err))
		}
		snapshots = store
	}

	gate := compliance.New(compliance.Config{
		UserAgent:     cfg.Compliance.UserAgent,
		MinDelay:      time.Duration(cfg.Compliance.MinDelaySeconds) * time.Second,
		RobotsTTL:     time.Duration(cfg.Compliance.RobotsCacheTTL) * time.Second,
		RobotsTimeout: time.Duration(cfg.Compliance.RobotsTimeoutSec) * time.Second,
	}, logger.Named("compliance"))

	static, err := fetch.NewStatic(fetch.StaticConfig{
		UserAgent: cfg.Compliance.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	}, logger.Named("fetch"))
	if err != nil {
		logger.Fatal("static fetcher init failed", zap.Error(err))
	}
	var renderer *fetch.Renderer
	if cfg.Headless.Enabled {
		renderer, err = fetch.NewRenderer(fetch.RendererConfig{
			UserAgent:   cfg.Compliance.UserAgent,
			MaxParallel: cfg.Headless.MaxParallel,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay: time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		}, logger.Named("renderer"))
		if err != nil {
			logger.Warn("renderer init failed, rendered fetches disabled", zap.Error(err))
			renderer = nil
		}
	}
	fetcher := fetch.NewClient(static, renderer, sha256.New(), logger.Named("fetch"))

	var generator discovery.SelectorGenerator
	if cfg.Selector.AnthropicAPIKey != "" {
		gen, err := selectorgen.New(selectorgen.Config{
			APIKey: cfg.Selector.AnthropicAPIKey,
			Model:  cfg.Selector.Model,
		}, logger.Named("selectorgen"))
		if err != nil {
			logger.Fatal("selector generator init failed", zap.Error(err))
		}
		generator = gen
	} else {
		logger.Info("selector generation capability not configured")
	}

	prints := fingerprint.NewService(logger.Named("fingerprint"))
	pipe := pipeline.New(gate, fetcher, generator, snapshots, logger.Named("pipeline"))
	matcher := template.NewMatcher(templateStore, logger.Named("template"))
	versioner := blueprint.NewVersioner(blueprintStore, idGen, clk, logger.Named("blueprint"))
	jobService := jobs.NewService(siteStore, jobStore, queue, idGen, clk, cfg.Jobs.MaxRetries, logger.Named("jobs"))

	deps := worker.Deps{
		Queue:     queue,
		Sites:     siteStore,
		Jobs:      jobStore,
		Gate:      gate,
		Fetcher:   fetcher,
		Prints:    prints,
		Pipeline:  pipe,
		Matcher:   matcher,
		Merge:     template.Merge,
		Versioner: versioner,
		Generator: generator,
		Publisher: publisher,
		Clock:     clk,
	}
	for i := 0; i < cfg.Jobs.Workers; i++ {
		w := worker.New(worker.Config{
			ID:                fmt.Sprintf("worker-%d", i),
			HardBudget:        time.Duration(cfg.Jobs.HardBudgetSec) * time.Second,
			SoftBudget:        time.Duration(cfg.Jobs.SoftBudgetSec) * time.Second,
			HeartbeatInterval: time.Duration(cfg.Jobs.HeartbeatSeconds) * time.Second,
		}, deps, logger.Named("worker"))
		go w.Run(ctx)
	}
	logger.Info("workers started", zap.Int("count", cfg.Jobs.Workers))

	apiServer := api.NewServer(siteStore, blueprintStore, jobService, versioner, idGen, clk, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
