package handlers

import (
	"net/http"

	"github.com/eshaffer321/ledger-reconciler/internal/api/dto"
	"github.com/eshaffer321/ledger-reconciler/internal/application/service"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	*Base
	service *service.ReconcileService
}

// NewHealthHandler creates a health handler. svc may be nil.
func NewHealthHandler(svc *service.ReconcileService) *HealthHandler {
	return &HealthHandler{Base: &Base{}, service: svc}
}

// ServeHTTP reports liveness and the active job, if any.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := dto.NewHealthResponse()
	if h.service != nil {
		if job, ok := h.service.ActiveJob(); ok {
			response.ActiveJob = job.ID
		}
	}
	h.WriteJSON(w, http.StatusOK, response)
}
