package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"deckgen/internal/jobs"
)

type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

type JobHandler struct {
	Jobs JobReader
}

type jobView struct {
	ID                   uuid.UUID               `json:"id"`
	Status               jobs.Status             `json:"status"`
	Progress             int                     `json:"progress"`
	ProgressMessage      string                  `json:"progress_message"`
	MissingImageBehavior jobs.MissingImagePolicy `json:"missing_image_behavior"`
	OutputArchivePath    *string                 `json:"output_archive_path,omitempty"`
	ErrorMessage         *string                 `json:"error_message,omitempty"`
	Notes                *string                 `json:"notes,omitempty"`
	Warnings             json.RawMessage         `json:"warnings,omitempty"`
	RowsTotal            int                     `json:"rows_total"`
	RowsSucceeded        int                     `json:"rows_succeeded"`
	RowsFailed           int                     `json:"rows_failed"`
	StartedAt            *time.Time              `json:"started_at,omitempty"`
	FinishedAt           *time.Time              `json:"finished_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	v := jobView{
		ID:                   j.ID,
		Status:               j.Status,
		Progress:             j.Progress,
		ProgressMessage:      j.ProgressMessage,
		MissingImageBehavior: j.MissingImageBehavior,
		OutputArchivePath:    j.OutputArchivePath,
		ErrorMessage:         j.ErrorMessage,
		Notes:                j.Notes,
		RowsTotal:            j.RowsTotal,
		RowsSucceeded:        j.RowsSucceeded,
		RowsFailed:           j.RowsFailed,
		StartedAt:            j.StartedAt,
		FinishedAt:           j.FinishedAt,
		CreatedAt:            j.CreatedAt,
	}
	if len(j.Warnings) > 0 {
		v.Warnings = json.RawMessage(j.Warnings)
	}
	writeJSON(w, http.StatusOK, v)
}
