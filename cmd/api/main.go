package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidforge/internal/artifacts"
	"vidforge/internal/config"
	"vidforge/internal/export"
	"vidforge/internal/httpapi"
	"vidforge/internal/httpapi/handlers"
	"vidforge/internal/media"
	"vidforge/internal/pipeline"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/shutdown"
	"vidforge/internal/providers"
	"vidforge/internal/render"
	"vidforge/internal/repositories"
	"vidforge/internal/storage"
	"vidforge/internal/timeline"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:       logger.DefaultConfig().Level,
		Format:      logger.DefaultConfig().Format,
		ServiceName: "vidforge-api",
	})
	log.Info("starting vidforge API", "version", "0.1.0")

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)
	tracker := shutdown.NewProcessTracker(log)
	shutdownMgr.Register("encodes", tracker.KillAll)

	store := artifacts.NewStore(cfg.DataRoot)
	timelines := timeline.NewStore(store)
	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, tracker, log)
	renderer := render.New(ffmpeg, log)

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Artifacts:         store,
		Timelines:         timelines,
		Renderer:          renderer,
		Providers:         pipeline.Providers{Script: providers.NewLocalScript()},
		VisualConcurrency: cfg.EncodeBudget(),
		Log:               log,
	})
	if err != nil {
		log.LogFatal("failed to build job runner", err)
	}
	shutdownMgr.RegisterSimple("job-runner", runner.Wait)

	// Optional durable export history.
	var history *repositories.ExportHistoryRepository
	if cfg.DatabaseURL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		history = repositories.NewExportHistoryRepository(pool)
		if err := history.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to ensure export history schema", err)
		}
		log.Info("PostgreSQL connected")
	}

	// Optional fleet queue: exports run in separate worker processes.
	var fleet *export.RedisQueue
	if cfg.RedisAddr != "" {
		log.Info("connecting to Redis")
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		fleet = export.NewRedisQueue(rdb, cfg.ExportQueueName)
		log.Info("Redis connected", "queue", cfg.ExportQueueName)
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	if sp != nil {
		log.Info("storage provider initialized", "provider", sp.Provider())
	}

	exportDeps := export.Deps{
		Artifacts: store,
		Encoder:   ffmpeg,
		Renderer:  renderer,
		Workers:   cfg.EncodeBudget(),
		Publisher: sp,
		Log:       log,
	}
	if history != nil {
		// Assigning a nil *ExportHistoryRepository would make the interface
		// field non-nil, so only set it when the repository exists.
		exportDeps.History = history
	}
	orchestrator, err := export.New(exportDeps)
	if err != nil {
		log.LogFatal("failed to build export orchestrator", err)
	}
	shutdownMgr.RegisterSimple("export-orchestrator", orchestrator.Close)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Runner:    runner,
			Exports:   orchestrator,
			Timelines: timelines,
			Artifacts: store,
			Renderer:  renderer,
			Fleet:     fleet,
			History:   history,
			Log:       log,
		},
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Log:                log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // editor renders are synchronous
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
