package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrTransient marks store failures that are safe to retry on the next invocation.
var ErrTransient = errors.New("transient job store error")

// ErrAlreadyFinished is returned by Finish when the job is no longer processing.
var ErrAlreadyFinished = errors.New("job is not processing")

// maxClaimAttempts bounds how many lost CAS races ClaimNext tolerates before
// reporting that nothing is claimable.
const maxClaimAttempts = 5

// Store is the narrow job-store surface the pipeline consumes.
type Store interface {
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	RecordCounts(ctx context.Context, id uuid.UUID, total, succeeded, failed int) error
	Finish(ctx context.Context, id uuid.UUID, out Outcome) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
}

type Repo struct {
	DB *gorm.DB
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// Enqueue inserts a queued job. Job creation belongs to the upload flow in
// production; this exists for tooling and tests.
func (r *Repo) Enqueue(ctx context.Context, j *Job) error {
	j.Status = StatusQueued
	j.Progress = 0
	return r.DB.WithContext(ctx).Omit("Template", "CsvUpload").Create(j).Error
}

// CompareAndSetStatus moves a job from one status to another in a single
// conditional update. It reports whether this caller won the transition.
func (r *Repo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.DB.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimNext atomically moves the oldest queued job to processing and returns it
// with its Template and CsvUpload loaded. It returns nil, nil when there is
// nothing to claim.
func (r *Repo) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var candidate Job
		err := r.DB.WithContext(ctx).
			Select("id").
			Where("status = ?", StatusQueued).
			Order("created_at asc").
			Order("id asc").
			Limit(1).
			Find(&candidate).Error
		if err != nil {
			return nil, transient("select queued job", err)
		}
		if candidate.ID == uuid.Nil {
			return nil, nil
		}

		now := time.Now().UTC()
		won, err := r.CompareAndSetStatus(ctx, candidate.ID, StatusQueued, StatusProcessing, map[string]interface{}{
			"claimed_by": workerID,
			"started_at": now,
			"progress":   0,
		})
		if err != nil {
			return nil, transient("claim job", err)
		}
		if !won {
			// another claimer got there first
			continue
		}

		job, err := r.Get(ctx, candidate.ID)
		if err != nil {
			return nil, transient("load claimed job", err)
		}
		return job, nil
	}
	return nil, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := r.DB.WithContext(ctx).
		Preload("Template").
		Preload("CsvUpload").
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateProgress never moves progress backwards and only touches jobs that are
// still processing.
func (r *Repo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return r.DB.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ? AND progress <= ?", id, StatusProcessing, progress).
		Updates(map[string]interface{}{
			"progress":         progress,
			"progress_message": message,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *Repo) RecordCounts(ctx context.Context, id uuid.UUID, total, succeeded, failed int) error {
	return r.DB.WithContext(ctx).
		Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rows_total":     total,
			"rows_succeeded": succeeded,
			"rows_failed":    failed,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// Finish writes the terminal status. It succeeds exactly once per claim.
func (r *Repo) Finish(ctx context.Context, id uuid.UUID, out Outcome) error {
	now := time.Now().UTC()
	extra := map[string]interface{}{
		"finished_at": now,
	}
	switch out.Status {
	case StatusDone:
		extra["progress"] = 100
		extra["progress_message"] = "Done"
		extra["output_archive_path"] = out.OutputArchivePath
		if out.Notes != "" {
			extra["notes"] = out.Notes
		}
	case StatusError:
		extra["progress_message"] = "Failed"
		extra["error_message"] = out.ErrorMessage
	default:
		return fmt.Errorf("finish: %q is not a terminal status", out.Status)
	}
	if len(out.Warnings) > 0 {
		raw, err := json.Marshal(out.Warnings)
		if err != nil {
			return err
		}
		extra["warnings"] = datatypes.JSON(raw)
	}

	won, err := r.CompareAndSetStatus(ctx, id, StatusProcessing, out.Status, extra)
	if err != nil {
		return transient("finish job", err)
	}
	if !won {
		return ErrAlreadyFinished
	}
	return nil
}
