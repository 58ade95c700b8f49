// tdtpexplore — interactive explorer backend for crowdfunding project data.
//
// Usage:
//
//	tdtpexplore [--dev] [--config path] [--addr :8501] [--write-metadata]
//
// Flags:
//
//	--dev             Start in dev mode: in-process miniredis for the count cache and events
//	--config          Path to tdtpexplore.yaml (default: configs/tdtpexplore.yaml)
//	--addr            Override server.addr from config
//	--write-metadata  Derive the filter metadata document from the dataset, write it and exit
//
// Environment:
//
//	TDTPEXPLORE_REDIS_PASSWORD  Redis password (used if not set in config)
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

	"github.com/rs/zerolog/log"

	"github.com/ruslano69/tdtp-explorer/internal/api"
	"github.com/ruslano69/tdtp-explorer/internal/infra"
	"github.com/ruslano69/tdtp-explorer/internal/session"
	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/paging"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
	"github.com/ruslano69/tdtp-explorer/pkg/metadata"
	"github.com/ruslano69/tdtp-explorer/pkg/reconcile"
	"github.com/ruslano69/tdtp-explorer/pkg/render"
)

func main() {
	dev := flag.Bool("dev", false, "dev mode: in-process miniredis")
	configPath := flag.String("config", "configs/tdtpexplore.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8501)")
	writeMeta := flag.Bool("write-metadata", false, "derive filter metadata from the dataset, write it and exit")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}
	log.Logger = infra.NewLogger(cfg.Logging, os.Stderr)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the dataset once; every session shares the handle.
	src, err := dataset.OpenSource(ctx, cfg.Source)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Source.Type).Msg("dataset open failed")
	}
	handle, err := dataset.Open(ctx, src)
	if err != nil {
		log.Fatal().Err(err).Str("source", src.Name()).Msg("dataset schema rejected")
	}
	defer handle.Close()
	log.Info().Str("source", handle.Name()).Int("columns", len(handle.Columns())).Msg("dataset opened")

	if *writeMeta {
		meta, err := metadata.Derive(ctx, handle, cfg.Columns)
		if err != nil {
			log.Fatal().Err(err).Msg("metadata derivation failed")
		}
		if err := meta.Write(cfg.Metadata.Path); err != nil {
			log.Fatal().Err(err).Msg("metadata write failed")
		}
		log.Info().Str("path", cfg.Metadata.Path).Int("categories", len(meta.Categories)-1).Msg("metadata written")
		return
	}

	meta, err := metadata.Load(cfg.Metadata.Path)
	if err != nil {
		log.Warn().Err(err).Msg("filter metadata unavailable, using defaults")
	}

	inf, err := infra.Setup(ctx, cfg, *dev)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure setup failed")
	}
	defer inf.Close()

	if *dev {
		log.Warn().Msg("──────────────────────────────────────────────────────")
		log.Warn().Msg("  DEV MODE ACTIVE — in-process miniredis              ")
		log.Warn().Msg("  DO NOT use in production                             ")
		log.Warn().Msg("──────────────────────────────────────────────────────")
	}

	base := reconcile.Config{
		Handle:   handle,
		Builder:  query.NewBuilder(cfg.Columns, log.Logger),
		Engine:   &paging.Engine{Cache: inf.CountCache(cfg.CountCache), Logger: log.Logger},
		Renderer: render.New(cfg.Columns),
		Meta:     meta,
		PageSize: cfg.Server.PageSize,
	}

	var publisher session.Publisher
	if p := inf.Publisher(cfg.Events); p != nil {
		publisher = p
	}
	sessions := session.NewRegistry(base, cfg.Server.SessionTTL, publisher, log.Logger)
	go sessions.Run(ctx, cfg.Server.SweepInterval)

	var redis api.Pinger
	if inf.Redis != nil {
		redis = inf
	}
	router := api.NewRouter(api.Deps{
		Sessions:      sessions,
		Meta:          meta,
		Redis:         redis,
		ExportMaxRows: cfg.Export.MaxRows,
		Timeout:       cfg.Server.WriteTimeout,
		Logger:        log.Logger,
	})

	// HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("dev", *dev).
			Str("config", *configPath).
			Msg("tdtpexplore started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("stopped")
}
