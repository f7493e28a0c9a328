// The worker binary consumes export tasks from the Redis fleet queue and
// runs them through a local orchestrator. The API process records the task
// id, so history written here resolves status queries over there.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidforge/internal/artifacts"
	"vidforge/internal/config"
	"vidforge/internal/export"
	"vidforge/internal/media"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/shutdown"
	"vidforge/internal/render"
	"vidforge/internal/repositories"
	"vidforge/internal/storage"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:       logger.DefaultConfig().Level,
		Format:      logger.DefaultConfig().Format,
		ServiceName: "vidforge-worker",
	})
	log.Info("starting vidforge worker", "version", "0.1.0")

	if cfg.RedisAddr == "" {
		log.LogFatal("worker requires REDIS_ADDR", errors.New("missing REDIS_ADDR"))
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)
	tracker := shutdown.NewProcessTracker(log)
	shutdownMgr.Register("encodes", tracker.KillAll)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	queue := export.NewRedisQueue(rdb, cfg.ExportQueueName)
	log.Info("Redis connected", "queue", cfg.ExportQueueName)

	var history *repositories.ExportHistoryRepository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})
		history = repositories.NewExportHistoryRepository(pool)
		if err := history.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to ensure export history schema", err)
		}
		log.Info("PostgreSQL connected")
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	store := artifacts.NewStore(cfg.DataRoot)
	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, tracker, log)
	renderer := render.New(ffmpeg, log)

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

	// Consume until shutdown. BRPOP unblocks when the manager cancels its
	// context.
	go func() {
		runCtx := shutdownMgr.Context()
		for {
			task, err := queue.Pop(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				log.LogError(runCtx, "queue pop failed", err)
				time.Sleep(time.Second)
				continue
			}
			id, err := orchestrator.EnqueueTask(runCtx, task)
			if err != nil {
				log.LogError(runCtx, "task rejected", err, "task_id", task.ID)
				continue
			}
			log.Info("task accepted", "job_id", id, "preset", task.Request.PresetName)
		}
	}()

	log.Info("worker ready", "encode_budget", cfg.EncodeBudget())
	shutdownMgr.Wait()
}
