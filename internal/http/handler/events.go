package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"deckgen/internal/events"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
)

// EventSource delivers the live events of one job until ctx is done.
type EventSource interface {
	Subscribe(ctx context.Context, jobID string, onEvent func(events.Event)) error
}

type EventsHandler struct {
	Source    EventSource
	Jobs      JobReader
	Log       *logger.Logger
	Heartbeat time.Duration
}

// Stream sends the job's current state, then its events as server-sent
// events. The stream ends after the final progress event or an error event.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	j, err := h.Jobs.Get(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan events.Event, 64)
	finished := j.Status == jobs.StatusDone || j.Status == jobs.StatusError
	if !finished {
		err = h.Source.Subscribe(ctx, id.String(), func(ev events.Event) {
			select {
			case outbound <- ev:
			default:
				h.Log.Warn("dropping job event; outbound buffer full", "job_id", ev.JobID)
			}
		})
		if err != nil {
			h.Log.Warn("event subscribe failed", "job_id", id.String(), "error", err)
			http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	level := events.LevelInfo
	if j.Status == jobs.StatusError {
		level = events.LevelError
	}
	writeEvent(w, "snapshot", events.Event{
		JobID:    id.String(),
		Phase:    string(j.Status),
		Level:    level,
		Progress: j.Progress,
		Message:  j.ProgressMessage,
		Time:     time.Now().UTC(),
	})
	flusher.Flush()
	if finished {
		return
	}

	interval := h.Heartbeat
	if interval <= 0 {
		interval = 15 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-outbound:
			writeEvent(w, "progress", ev)
			flusher.Flush()
			if ev.Progress >= 100 || ev.Level == events.LevelError {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, raw)
}
