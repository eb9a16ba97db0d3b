package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"deckgen/internal/events"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
)

// Progress bands, in percent.
const (
	progressDownloadStart = 0
	progressRowsStart     = 5
	progressArchiveStart  = 85
	progressFinalizeStart = 97
	progressDone          = 100
)

const (
	PhaseDownload = "download"
	PhaseDecode   = "decode"
	PhaseScan     = "scan"
	PhaseRows     = "rows"
	PhaseArchive  = "archive"
	PhaseFinalize = "finalize"
)

// Reporter is the only channel through which a run emits progress and events.
// Every event carries the job id, phase and level.
type Reporter interface {
	Progress(ctx context.Context, pct int, phase, message string)
	Event(ctx context.Context, level events.Level, phase, message string, kv ...interface{})
}

// rowProgress maps "done rows of total" onto the rows band.
func rowProgress(done, total int) int {
	if total <= 0 {
		return progressArchiveStart
	}
	return progressRowsStart + (progressArchiveStart-progressRowsStart)*done/total
}

func archiveProgress(done, total int) int {
	if total <= 0 {
		return progressFinalizeStart
	}
	return progressArchiveStart + (progressFinalizeStart-progressArchiveStart)*done/total
}

// jobReporter writes progress to the job record, the log and the event
// publisher. It never moves backwards.
type jobReporter struct {
	jobID uuid.UUID
	store jobs.Store
	log   *logger.Logger
	pub   events.Publisher
	last  int
}

func newJobReporter(jobID uuid.UUID, store jobs.Store, log *logger.Logger, pub events.Publisher) *jobReporter {
	if pub == nil {
		pub = events.Nop{}
	}
	return &jobReporter{
		jobID: jobID,
		store: store,
		log:   log.With("job_id", jobID.String()),
		pub:   pub,
		last:  -1,
	}
}

func (r *jobReporter) Progress(ctx context.Context, pct int, phase, message string) {
	pct = min(max(pct, 0), progressDone)
	if pct < r.last {
		pct = r.last
	}
	if pct == r.last && pct != progressDone {
		return
	}
	r.last = pct

	if pct < progressDone {
		if err := r.store.UpdateProgress(ctx, r.jobID, pct, message); err != nil {
			r.log.Warn("progress update failed", "phase", phase, "progress", pct, "error", err)
		}
	}
	r.log.Debug(message, "phase", phase, "level", events.LevelInfo, "progress", pct)
	r.publish(ctx, events.Event{Phase: phase, Level: events.LevelInfo, Progress: pct, Message: message})
}

func (r *jobReporter) Event(ctx context.Context, level events.Level, phase, message string, kv ...interface{}) {
	kv = append([]interface{}{"phase", phase, "level", level}, kv...)
	switch level {
	case events.LevelError:
		r.log.Error(message, kv...)
	case events.LevelWarn:
		r.log.Warn(message, kv...)
	default:
		r.log.Info(message, kv...)
	}
	r.publish(ctx, events.Event{Phase: phase, Level: level, Progress: max(r.last, 0), Message: message})
}

func (r *jobReporter) publish(ctx context.Context, ev events.Event) {
	ev.JobID = r.jobID.String()
	ev.Time = time.Now().UTC()
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Debug("event publish failed", "error", err)
	}
}
