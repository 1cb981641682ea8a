package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconciler/internal/api/dto"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// RunsHandler serves the audit history of reconciliation runs.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(repo storage.Repository) *RunsHandler {
	return &RunsHandler{Base: NewBase(repo)}
}

// List handles GET /api/runs?status=&limit=&offset=
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := storage.RunFilters{
		Status: r.URL.Query().Get("status"),
		Limit:  ParseIntParam(r, "limit", 20),
		Offset: ParseIntParam(r, "offset", 0),
	}
	if filters.Limit < 0 || filters.Offset < 0 {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("limit and offset must be non-negative"))
		return
	}

	runs, err := h.repo.ListRuns(r.Context(), filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.RunListResponse{
		Runs:   make([]dto.RunResponse, 0, len(runs)),
		Count:  len(runs),
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	h.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

// Decisions handles GET /api/runs/{id}/decisions?holder_id=&flow=&status=
func (h *RunsHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	filters, ok := h.rowFilters(w, r)
	if !ok {
		return
	}
	filters.Status = r.URL.Query().Get("status")

	rows, err := h.repo.ListDecisions(r.Context(), run.ID, filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.DecisionListResponse{
		RunID:     run.ID,
		Decisions: make([]dto.DecisionResponse, 0, len(rows)),
		Count:     len(rows),
	}
	for _, d := range rows {
		response.Decisions = append(response.Decisions, toDecisionResponse(d))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Skips handles GET /api/runs/{id}/skips?holder_id=&flow=&reason=
func (h *RunsHandler) Skips(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	filters, ok := h.rowFilters(w, r)
	if !ok {
		return
	}
	filters.Reason = r.URL.Query().Get("reason")

	rows, err := h.repo.ListSkips(r.Context(), run.ID, filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.SkipListResponse{
		RunID: run.ID,
		Skips: make([]dto.SkipResponse, 0, len(rows)),
		Count: len(rows),
	}
	for _, s := range rows {
		response.Skips = append(response.Skips, dto.SkipResponse{
			HolderID: s.HolderID,
			Flow:     s.Flow,
			Kind:     s.Kind,
			RecordID: s.RecordID,
			Reason:   s.Reason,
			Detail:   s.Detail,
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// SkipSummary handles GET /api/runs/{id}/skips/summary
func (h *RunsHandler) SkipSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	reasons, err := h.repo.SkipSummary(r.Context(), run.ID)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	total := 0
	for _, n := range reasons {
		total += n
	}
	h.WriteJSON(w, http.StatusOK, dto.SkipSummaryResponse{RunID: run.ID, Reasons: reasons, Total: total})
}

func (h *RunsHandler) lookupRun(w http.ResponseWriter, r *http.Request) (*storage.Run, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("run ID is required"))
		return nil, false
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("run"))
		return nil, false
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return nil, false
	}
	return run, true
}

func (h *RunsHandler) rowFilters(w http.ResponseWriter, r *http.Request) (storage.RowFilters, bool) {
	holderID, ok := ParseInt64Param(r, "holder_id")
	if !ok {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("holder_id must be an integer"))
		return storage.RowFilters{}, false
	}
	return storage.RowFilters{
		HolderID: holderID,
		Flow:     r.URL.Query().Get("flow"),
		Limit:    ParseIntParam(r, "limit", 0),
		Offset:   ParseIntParam(r, "offset", 0),
	}, true
}

func toRunResponse(run *storage.Run) dto.RunResponse {
	resp := dto.RunResponse{
		ID:           run.ID,
		Trigger:      run.Trigger,
		DryRun:       run.DryRun,
		Flows:        run.Flows,
		Status:       run.Status,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		Holders:      run.Holders,
		Considered:   run.Considered,
		Matched:      run.Matched,
		Committed:    run.Committed,
		Created:      run.Created,
		Ambiguous:    run.Ambiguous,
		Skipped:      run.Skipped,
		WriteErrors:  run.WriteErrors,
		HolderErrors: run.HolderErrors,
		Error:        run.Error,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toDecisionResponse(d *storage.DecisionRecord) dto.DecisionResponse {
	resp := dto.DecisionResponse{
		ID:         d.ID,
		HolderID:   d.HolderID,
		Flow:       d.Flow,
		Action:     d.Action,
		PlatformID: d.PlatformID,
		BankID:     d.BankID,
		Ambiguous:  d.Ambiguous,
		Status:     d.Status,
		CreatedID:  d.CreatedID,
		Error:      d.Error,
		RecordedAt: d.RecordedAt.UTC().Format(time.RFC3339),
	}
	if d.Payload != "" && json.Valid([]byte(d.Payload)) {
		resp.Payload = json.RawMessage(d.Payload)
	}
	return resp
}
