package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"deckgen/internal/auth"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
	"deckgen/internal/pipeline"
)

// Runner runs at most one queued job per call.
type Runner interface {
	RunNext(ctx context.Context) (pipeline.Result, error)
}

type GenerateHandler struct {
	Runner Runner
	Log    *logger.Logger
}

// Generate claims and runs the next queued job. It takes no payload.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	res, err := h.Runner.RunNext(r.Context())
	if err != nil {
		h.Log.Warn("generate trigger failed", "caller", caller, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	if !res.Claimed {
		writeJSON(w, http.StatusOK, map[string]any{"message": "No queued jobs"})
		return
	}

	h.Log.Info("generate trigger finished", "caller", caller, "job_id", res.JobID.String(), "status", res.Status)
	if res.Status != jobs.StatusDone {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  res.Error,
			"job_id": res.JobID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("Job %s completed: %d of %d presentations generated", res.JobID, res.RowsSucceeded, res.RowsTotal),
		"job_id":         res.JobID,
		"rows_succeeded": res.RowsSucceeded,
		"rows_failed":    res.RowsFailed,
		"archive_path":   res.ArchivePath,
		"notes":          res.Notes,
	})
}

// Preflight answers cross-origin preflight requests with no body.
func (h *GenerateHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
