package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"deckgen/internal/logger"
)

type Redis struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedis(ctx context.Context, log *logger.Logger, addr, channel string) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "deckgen.jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		log:     log.With("service", "RedisEvents"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// Channel returns the pub/sub channel for one job, so subscribers can follow a
// single job without filtering.
func (r *Redis) Channel(jobID string) string {
	return r.channel + "." + jobID
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.rdb.Pipeline()
	pipe.Publish(ctx, r.channel, raw)
	pipe.Publish(ctx, r.Channel(ev.JobID), raw)
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe forwards the events of one job to onEvent until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, jobID string, onEvent func(Event)) error {
	sub := r.rdb.Subscribe(ctx, r.Channel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					r.log.Warn("bad event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
