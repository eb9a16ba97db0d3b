// Package pipeline runs one generation job end to end: claim, download,
// decode, render every row, archive and finalize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"deckgen/internal/archive"
	"deckgen/internal/deck"
	"deckgen/internal/events"
	"deckgen/internal/images"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
	"deckgen/internal/naming"
	"deckgen/internal/storage"
	"deckgen/internal/tabular"
)

const (
	ArchiveName     = "presentations.zip"
	pptxContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// RowError is a tolerated failure of a single row.
type RowError struct {
	Row int // 1-based
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Result summarises one RunNext call.
type Result struct {
	Claimed       bool
	JobID         uuid.UUID
	Status        jobs.Status
	RowsTotal     int
	RowsSucceeded int
	RowsFailed    int
	ArchivePath   string
	Notes         string
	Error         string
}

type Runner struct {
	Jobs      jobs.Store
	Storage   storage.Store
	Events    events.Publisher
	Log       *logger.Logger
	WorkerID  string
	Placement deck.Placement

	tracer trace.Tracer
}

func NewRunner(store jobs.Store, objects storage.Store, pub events.Publisher, log *logger.Logger, workerID string, place deck.Placement) *Runner {
	return &Runner{
		Jobs:      store,
		Storage:   objects,
		Events:    pub,
		Log:       log.With("service", "pipeline.Runner"),
		WorkerID:  workerID,
		Placement: place,
		tracer:    otel.Tracer("deckgen/pipeline"),
	}
}

func (r *Runner) spans() trace.Tracer {
	if r.tracer == nil {
		return otel.Tracer("deckgen/pipeline")
	}
	return r.tracer
}

// RunNext claims the oldest queued job and runs it to completion. A zero
// Result with a nil error means nothing was queued. The returned error covers
// store failures only; job failures are reported through Result.Status.
func (r *Runner) RunNext(ctx context.Context) (Result, error) {
	job, err := r.Jobs.ClaimNext(ctx, r.WorkerID)
	if err != nil {
		return Result{}, err
	}
	if job == nil {
		return Result{}, nil
	}
	return r.Run(ctx, job)
}

// Run processes a job already in processing. It is the single error boundary:
// whatever happens inside, the job leaves processing.
func (r *Runner) Run(ctx context.Context, job *jobs.Job) (Result, error) {
	ctx, span := r.spans().Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.owner_id", job.OwnerUserID.String()),
		attribute.String("job.missing_image_behavior", string(job.MissingImageBehavior)),
	))
	defer span.End()

	rep := newJobReporter(job.ID, r.Jobs, r.Log, r.Events)
	st := &runState{job: job, rep: rep}

	out, err := r.protected(ctx, st)

	// finalization must land even if the caller's context is gone
	fctx := context.WithoutCancel(ctx)
	res := Result{
		Claimed:       true,
		JobID:         job.ID,
		RowsTotal:     st.total,
		RowsSucceeded: len(st.entries),
		RowsFailed:    st.failed,
	}
	if cerr := r.Jobs.RecordCounts(fctx, job.ID, st.total, len(st.entries), st.failed); cerr != nil {
		rep.log.Warn("record counts failed", "error", cerr)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.cleanup(fctx, st)
		rep.Event(fctx, events.LevelError, PhaseFinalize, "job failed", "error", err)
		out = jobs.Outcome{Status: jobs.StatusError, ErrorMessage: err.Error(), Warnings: st.warnings}
	}

	if ferr := r.Jobs.Finish(fctx, job.ID, out); ferr != nil {
		span.RecordError(ferr)
		return res, fmt.Errorf("finish job %s: %w", job.ID, ferr)
	}

	res.Status = out.Status
	res.ArchivePath = out.OutputArchivePath
	res.Notes = out.Notes
	res.Error = out.ErrorMessage
	if out.Status == jobs.StatusDone {
		rep.Progress(fctx, progressDone, PhaseFinalize, "Done")
	}
	span.SetAttributes(
		attribute.String("job.status", string(out.Status)),
		attribute.Int("job.rows_succeeded", res.RowsSucceeded),
		attribute.Int("job.rows_failed", res.RowsFailed),
	)
	return res, nil
}

// runState is what a run accumulates; the boundary reads it after a failure.
type runState struct {
	job      *jobs.Job
	rep      *jobReporter
	total    int
	failed   int
	entries  []archive.Entry
	uploaded []string
	warnings []string
}

func (s *runState) warn(msg string) {
	s.warnings = append(s.warnings, msg)
}

func (r *Runner) protected(ctx context.Context, st *runState) (out jobs.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return r.process(ctx, st)
}

func (r *Runner) process(ctx context.Context, st *runState) (jobs.Outcome, error) {
	job, rep := st.job, st.rep
	owner, jobID := job.OwnerUserID.String(), job.ID.String()

	rep.Progress(ctx, progressDownloadStart, PhaseDownload, "Downloading inputs")
	in, err := r.fetch(ctx, job)
	if err != nil {
		return jobs.Outcome{}, err
	}
	rep.Progress(ctx, progressRowsStart, PhaseDownload, "Inputs downloaded")

	table, err := tabular.Decode(job.CsvUpload.StoragePath, in.Data)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("decode data: %w", err)
	}
	for _, w := range table.Warnings {
		st.warn(w)
		rep.Event(ctx, events.LevelWarn, PhaseDecode, w)
	}
	st.total = len(table.Rows)
	if job.CsvUpload.RowCount > 0 && job.CsvUpload.RowCount != st.total {
		rep.Event(ctx, events.LevelInfo, PhaseDecode, "row count differs from upload metadata",
			"recorded", job.CsvUpload.RowCount, "decoded", st.total)
	}

	tpl, err := deck.Open(in.Template)
	if err != nil {
		return jobs.Outcome{}, err
	}
	occs, err := deck.ScanImagePlaceholders(tpl)
	if err != nil {
		return jobs.Outcome{}, err
	}
	textVars, imageVars := deck.Variables(tpl)
	rep.Event(ctx, events.LevelInfo, PhaseScan, "template scanned",
		"text_variables", len(textVars), "image_variables", len(imageVars),
		"image_placeholders", len(occs), "rows", st.total)
	for _, v := range unmatched(append(textVars, imageVars...), table.Headers) {
		msg := fmt.Sprintf("template variable %s has no matching column", v)
		st.warn(msg)
		rep.Event(ctx, events.LevelWarn, PhaseScan, msg)
	}

	resolver := images.NewResolver(r.Storage, job.MissingImageBehavior, owner, job.TemplateID.String(), rep.log)
	currentRow := 0
	resolver.OnMiss = func(m images.Miss) {
		msg := fmt.Sprintf("row %d: image %q for %s not found, %s applied", currentRow, m.Value, m.Variable, m.Policy)
		st.warn(msg)
		rep.Event(ctx, events.LevelWarn, PhaseRows, msg)
	}
	names := naming.NewGenerator(job.FilenameTemplate)

	var firstRowErr error
	for i, row := range table.Rows {
		currentRow = i + 1
		key, name, err := r.renderRow(ctx, st, in.Template, row, occs, resolver, names)
		if err != nil {
			if fatal(err) {
				return jobs.Outcome{}, &RowError{Row: currentRow, Err: err}
			}
			rowErr := &RowError{Row: currentRow, Err: err}
			if firstRowErr == nil {
				firstRowErr = rowErr
			}
			st.failed++
			st.warn(rowErr.Error())
			rep.Event(ctx, events.LevelWarn, PhaseRows, "row failed", "row", currentRow, "error", err)
		} else {
			st.entries = append(st.entries, archive.Entry{Name: name, Key: key})
		}
		rep.Progress(ctx, rowProgress(i+1, st.total), PhaseRows,
			fmt.Sprintf("Generated %d of %d presentations", i+1, st.total))
	}

	if len(st.entries) == 0 {
		return jobs.Outcome{}, fmt.Errorf("no presentations generated: all %d rows failed (first: %v)", st.total, firstRowErr)
	}

	rep.Progress(ctx, progressArchiveStart, PhaseArchive, "Building archive")
	archiveKey := storage.Key(owner, jobID, ArchiveName)
	if err := r.buildArchive(ctx, st, archiveKey); err != nil {
		return jobs.Outcome{}, err
	}

	rep.Progress(ctx, progressFinalizeStart, PhaseFinalize, "Finalizing")
	return jobs.Outcome{
		Status:            jobs.StatusDone,
		OutputArchivePath: archiveKey,
		Notes:             summarize(resolver.Stats(), st.failed),
		Warnings:          st.warnings,
	}, nil
}

func (r *Runner) fetch(ctx context.Context, job *jobs.Job) (*Inputs, error) {
	ctx, span := r.spans().Start(ctx, "pipeline.fetch")
	defer span.End()
	in, err := FetchInputs(ctx, r.Storage, job.Template.StoragePath, job.CsvUpload.StoragePath)
	if err != nil {
		span.RecordError(err)
	}
	return in, err
}

// renderRow produces, names and uploads one presentation.
func (r *Runner) renderRow(ctx context.Context, st *runState, tpl []byte, row tabular.Row, occs []deck.Occurrence, resolver *images.Resolver, names *naming.Generator) (key, name string, err error) {
	ctx, span := r.spans().Start(ctx, "pipeline.row", trace.WithAttributes(attribute.Int("row.index", row.Index)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	doc, err := deck.RenderText(tpl, deck.TextValues(row.Values))
	if err != nil {
		return "", "", err
	}
	doc, err = deck.InjectImages(ctx, doc, row.Values, occs, resolver.Resolve, r.Placement)
	if err != nil {
		return "", "", err
	}

	name = names.Next(row.Index, row.Values)
	key = storage.Key(st.job.OwnerUserID.String(), st.job.ID.String(), name)
	if err := r.Storage.Upload(ctx, key, doc, pptxContentType); err != nil {
		return "", "", fmt.Errorf("upload %s: %w", name, err)
	}
	st.uploaded = append(st.uploaded, key)
	return key, name, nil
}

func (r *Runner) buildArchive(ctx context.Context, st *runState, key string) error {
	ctx, span := r.spans().Start(ctx, "pipeline.archive", trace.WithAttributes(attribute.Int("archive.entries", len(st.entries))))
	defer span.End()

	data, err := archive.BuildWithProgress(ctx, r.Storage, st.entries, func(done, total int) {
		st.rep.Progress(ctx, archiveProgress(done, total), PhaseArchive,
			fmt.Sprintf("Archived %d of %d presentations", done, total))
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.Storage.Upload(ctx, key, data, archive.ContentType); err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload archive: %w", err)
	}
	return nil
}

// cleanup removes per-row outputs of a failed run so it leaves nothing behind.
func (r *Runner) cleanup(ctx context.Context, st *runState) {
	for _, key := range st.uploaded {
		if err := r.Storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			st.rep.log.Warn("delete partial output failed (ignored)", "key", key, "error", err)
		}
	}
}

// fatal reports whether a row error aborts the whole job.
func fatal(err error) bool {
	var te *deck.TemplateError
	var mie *images.MissingImageError
	return errors.As(err, &te) || errors.As(err, &mie)
}

func summarize(s images.Stats, failedRows int) string {
	var parts []string
	if s.Substituted > 0 {
		parts = append(parts, plural(s.Substituted, "image substitution", "image substitutions")+" (placeholder image used)")
	}
	if s.Skipped > 0 {
		parts = append(parts, plural(s.Skipped, "image skipped", "images skipped"))
	}
	if failedRows > 0 {
		parts = append(parts, plural(failedRows, "row failed", "rows failed"))
	}
	return strings.Join(parts, "; ")
}

// unmatched returns the variables with no column of the same name.
func unmatched(vars, headers []string) []string {
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[h] = true
	}
	var out []string
	for _, v := range vars {
		if !have[v] {
			out = append(out, v)
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
