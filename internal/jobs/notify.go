package jobs

import (
	"context"
	"time"

	"github.com/lib/pq"

	"deckgen/internal/logger"
)

// NotifyChannel is the Postgres channel the insert trigger publishes on.
const NotifyChannel = "generation_jobs"

// Listen subscribes to job-insert notifications and signals wake for each one.
// Signals are coalesced: a pending wake-up is never duplicated.
func Listen(ctx context.Context, dsn string, log *logger.Logger) (<-chan struct{}, error) {
	wake := make(chan struct{}, 1)

	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("job listener event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				// n is nil after a reconnect; a wake-up is still warranted
				if n != nil {
					log.Debug("job notification", "job_id", n.Extra)
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()
	return wake, nil
}
