// Package main is the entry point for the lineage-observer service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/lineage-observer/internal/api"
	"github.com/vitaliisemenov/lineage-observer/internal/api/handlers"
	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/checks"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
	"github.com/vitaliisemenov/lineage-observer/internal/config"
	"github.com/vitaliisemenov/lineage-observer/internal/engine"
	"github.com/vitaliisemenov/lineage-observer/internal/tieredcache"
	"github.com/vitaliisemenov/lineage-observer/pkg/logger"
)

const serviceName = "lineage-observer"

var serviceVersion = "0.1.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     serviceName,
		Short:   "Data-lineage and observability engine over dbt-style manifest/catalog artifacts",
		Version: serviceVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.AddCommand(serve)
	return root
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting lineage-observer", "version", serviceVersion, "environment", cfg.App.Environment)

	manifestPath, err := artifact.ResolvePath(cfg.Artifacts.WorkDir, cfg.Artifacts.ManifestPath)
	if err != nil {
		return fmt.Errorf("resolving manifest path: %w", err)
	}
	catalogPath, err := artifact.ResolvePath(cfg.Artifacts.WorkDir, cfg.Artifacts.CatalogPath)
	if err != nil {
		return fmt.Errorf("resolving catalog path: %w", err)
	}
	var sourcesPath string
	if cfg.Artifacts.SourcesPath != "" {
		sourcesPath, err = artifact.ResolvePath(cfg.Artifacts.WorkDir, cfg.Artifacts.SourcesPath)
		if err != nil {
			return fmt.Errorf("resolving sources path: %w", err)
		}
	}

	store, err := artifact.NewStore(manifestPath, catalogPath, sourcesPath, cfg.Artifacts.FreshnessCacheSize, log)
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}

	resolver := compare.NewResolver(cfg.Artifacts.WorkDir, cfg.Artifacts.SnapshotRoot, store)

	var registerer prometheus.Registerer
	if cfg.Cache.EnableMetrics {
		registerer = prometheus.DefaultRegisterer
	}
	cache := tieredcache.New(tieredcache.NewMetrics(registerer))

	thresholds := checks.Thresholds{
		VolumePct:              cfg.Checks.VolumeThresholdPct,
		FreshnessMinutes:       cfg.Checks.FreshnessThresholdMinutes,
		ReferenceFreshnessMins: cfg.Checks.ReferenceFreshnessThresholdMins,
	}

	eng := engine.New(store, resolver, cache, thresholds)
	h := handlers.New(eng, log)

	routerConfig := api.DefaultRouterConfig(log)
	routerConfig.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	routerConfig.RateLimitBurst = cfg.Server.RateLimitBurst
	routerConfig.Handlers = h

	router := api.NewRouter(routerConfig)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods("GET")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	signalHandler := NewSignalHandler(store, log)
	if err := signalHandler.Start(); err != nil {
		return fmt.Errorf("starting signal handler: %w", err)
	}
	defer signalHandler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
