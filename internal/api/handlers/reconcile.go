package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconciler/internal/adapters/xlsxreport"
	"github.com/eshaffer321/ledger-reconciler/internal/api/dto"
	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconciler/internal/application/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReconcileHandler starts and tracks background reconciliation runs.
type ReconcileHandler struct {
	*Base
	service *service.ReconcileService
}

// NewReconcileHandler creates a new reconcile handler.
func NewReconcileHandler(svc *service.ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{Base: &Base{}, service: svc}
}

// Start handles POST /api/reconcile - starts a new run.
func (h *ReconcileHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartRunRequest
	// An empty body starts a live run of every flow.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	flows := make([]reconcile.Flow, 0, len(req.Flows))
	for _, name := range req.Flows {
		f, err := reconcile.ParseFlow(name)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
			return
		}
		flows = append(flows, f)
	}
	if req.Workers < 0 {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("workers must be non-negative"))
		return
	}

	jobID, err := h.service.StartRun(r.Context(), service.RunRequest{
		DryRun:    req.DryRun,
		Flows:     flows,
		HolderIDs: req.HolderIDs,
		Stages:    req.Stages,
		Workers:   req.Workers,
		Trigger:   "api",
	})
	if errors.Is(err, service.ErrRunInProgress) {
		h.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeRunConflict, err.Error()))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusAccepted, dto.StartRunResponse{
		JobID:  jobID,
		Status: string(service.StatusPending),
	})
}

// List handles GET /api/reconcile - lists every job, newest first.
func (h *ReconcileHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.service.ListJobs()

	response := dto.JobListResponse{
		Jobs:  make([]dto.JobResponse, 0, len(jobs)),
		Count: len(jobs),
	}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, toJobResponse(job))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Active handles GET /api/reconcile/active
func (h *ReconcileHandler) Active(w http.ResponseWriter, r *http.Request) {
	job, ok := h.service.ActiveJob()
	if !ok {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("active job"))
		return
	}
	h.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// Get handles GET /api/reconcile/{jobId}
func (h *ReconcileHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	h.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// Cancel handles DELETE /api/reconcile/{jobId}
func (h *ReconcileHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	err := h.service.CancelRun(jobID)
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("job"))
	case err != nil:
		h.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeCancelFailed, err.Error()))
	default:
		h.WriteJSON(w, http.StatusAccepted, dto.MessageResponse{Message: "cancellation requested"})
	}
}

// Report handles GET /api/reconcile/{jobId}/report.xlsx
func (h *ReconcileHandler) Report(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Result == nil {
		h.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeUnavailable, "job has no result yet"))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reconcile-%s.xlsx"`, job.Result.RunID))
	if err := xlsxreport.Write(w, job.Result); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
	}
}

func (h *ReconcileHandler) lookupJob(w http.ResponseWriter, r *http.Request) (service.Job, bool) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("job ID is required"))
		return service.Job{}, false
	}
	job, err := h.service.GetJob(jobID)
	if err != nil {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("job"))
		return service.Job{}, false
	}
	return job, true
}

func toJobResponse(job service.Job) dto.JobResponse {
	response := dto.JobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Trigger:   job.Request.Trigger,
		DryRun:    job.Request.DryRun,
		StartedAt: job.StartedAt.UTC().Format(time.RFC3339),
	}
	for _, f := range job.Request.Flows {
		response.Flows = append(response.Flows, string(f))
	}

	if job.CompletedAt != nil {
		completedAt := job.CompletedAt.UTC().Format(time.RFC3339)
		response.CompletedAt = &completedAt
	}

	if res := job.Result; res != nil {
		brief := &dto.JobResultBrief{
			RunID:        res.RunID,
			Holders:      res.Holders,
			Considered:   res.Considered,
			Matched:      res.Matched,
			Committed:    res.Committed,
			Created:      res.Created,
			Ambiguous:    res.Ambiguous,
			Skipped:      len(res.Skips),
			WriteErrors:  len(res.WriteErrors),
			HolderErrors: len(res.HolderErrors),
			Cancelled:    res.Cancelled,
		}
		if counts := res.SkipCounts(); len(counts) > 0 {
			brief.SkipReasons = make(map[string]int, len(counts))
			for reason, n := range counts {
				brief.SkipReasons[string(reason)] = n
			}
		}
		response.Result = brief
	}

	if job.Error != nil {
		msg := job.Error.Error()
		response.Error = &msg
	}

	return response
}
