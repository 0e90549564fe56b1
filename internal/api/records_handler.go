package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/providers"
)

// UpdateRecord handles PATCH /api/v1/{kind}s/{id}. The change is visible in
// the grouped views before the database confirms it and is reverted if the
// write fails.
func (h *Handlers) UpdateRecord(kind entities.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id := chi.URLParam(r, "id")

		var req dtos.PatchRequest
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		svc, err := h.deps.Services.Workspace.Service(kind)
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}
		rec, err := svc.Update(r.Context(), id, req.Fields)
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		common.RespondSuccess(w, initTime, "Record updated", rec)
	}
}

// CreateRecord handles POST /api/v1/{kind}s
func (h *Handlers) CreateRecord(kind entities.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.CreateRequest
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}
		if len(req.Fields) == 0 {
			respondServiceError(w, r, initTime, providers.Validation("fields are required"))
			return
		}

		svc, err := h.deps.Services.Workspace.Service(kind)
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}
		rec, err := svc.Create(r.Context(), entities.Record{ID: req.ID, Kind: kind, Fields: req.Fields})
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		common.RespondSuccess(w, initTime, "Record created", rec, http.StatusCreated)
	}
}

// DeleteRecord handles DELETE /api/v1/{kind}s/{id}
func (h *Handlers) DeleteRecord(kind entities.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id := chi.URLParam(r, "id")

		svc, err := h.deps.Services.Workspace.Service(kind)
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		common.RespondSuccess(w, initTime, "Record deleted", nil)
	}
}
