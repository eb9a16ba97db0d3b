package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deckgen/internal/auth"
	"deckgen/internal/config"
	"deckgen/internal/db"
	"deckgen/internal/deck"
	"deckgen/internal/events"
	httpx "deckgen/internal/http"
	"deckgen/internal/http/handler"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
	"deckgen/internal/observability"
	"deckgen/internal/pipeline"
	"deckgen/internal/storage"
)

func main() {
	cfg, _ := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "deckgen",
		Environment: cfg.LogMode,
	})

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connect failed", "error", err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal("database migrate failed", "error", err)
	}

	objects, closeObjects, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("storage init failed", "error", err)
	}
	defer closeObjects()

	var pub events.Publisher = events.Nop{}
	var source handler.EventSource
	if cfg.RedisAddr != "" {
		rb, err := events.NewRedis(ctx, log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("redis events disabled", "error", err)
		} else {
			defer rb.Close()
			pub = rb
			source = rb
		}
	}

	jobsRepo := &jobs.Repo{DB: gdb}
	runner := pipeline.NewRunner(jobsRepo, objects, pub, log, cfg.WorkerID, deck.Placement{
		OffsetX: cfg.ImageOffsetEMU,
		OffsetY: cfg.ImageOffsetEMU,
		Width:   cfg.ImageSizeEMU,
		Height:  cfg.ImageSizeEMU,
	})

	if cfg.WorkerEnabled {
		wake, err := jobs.Listen(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn("job notifications unavailable, polling only", "error", err)
		}
		worker := &jobs.Worker{
			ID:       cfg.WorkerID,
			Log:      log,
			Interval: cfg.WorkerPollInterval,
			Wake:     wake,
			Next: func(ctx context.Context) (bool, error) {
				res, err := runner.RunNext(ctx)
				return res.Claimed, err
			},
		}
		go worker.Run(ctx)
	}

	var jwtSvc *auth.JWT
	if cfg.TriggerJWTSecret != "" {
		jwtSvc = auth.NewJWT(cfg.TriggerJWTSecret)
	}
	r := httpx.NewRouter(cfg, log, runner, jobsRepo, source, jwtSvc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageBackend, "worker", cfg.WorkerEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", "error", err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = shutdownOtel(shutdownCtx)
}

func openStorage(ctx context.Context, cfg config.Config, log *logger.Logger) (storage.Store, func(), error) {
	switch cfg.StorageBackend {
	case "gcs":
		g, err := storage.NewGCS(ctx, log, cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	case "local":
		l, err := storage.NewLocal(cfg.LocalStorageDir)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}
