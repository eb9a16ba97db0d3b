package jobs

import (
	"context"
	"time"

	"deckgen/internal/logger"
)

// Worker polls for queued jobs and hands each one to Next. Next processes at
// most one job per call and reports whether it claimed anything.
type Worker struct {
	ID       string
	Log      *logger.Logger
	Interval time.Duration
	Wake     <-chan struct{}
	Next     func(ctx context.Context) (claimed bool, err error)
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := w.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("worker_id", w.ID)
	log.Info("worker started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
		case <-w.Wake:
		}
		w.drain(ctx, log)
	}
}

// drain keeps claiming until the queue is empty or an error occurs.
func (w *Worker) drain(ctx context.Context, log *logger.Logger) {
	for ctx.Err() == nil {
		claimed, err := w.Next(ctx)
		if err != nil {
			log.Warn("worker run error", "error", err)
			return
		}
		if !claimed {
			return
		}
	}
}
