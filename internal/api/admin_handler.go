package api

import (
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/jobs"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/dtos"
)

// TriggerResync handles POST /api/v1/admin/resync
//
// Reloads every collection from the database. Kinds that fail keep their
// previous contents and are reported with an error.
func (h *Handlers) TriggerResync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}
		if h.deps.Resync == nil {
			common.RespondError(w, initTime, nil, "Resync is not available", http.StatusServiceUnavailable)
			return
		}

		logging.Info("Manual resync triggered", "user_id", claims.UserID())
		results, err := h.deps.Resync.Run(r.Context(), jobs.SourceManual)
		if err != nil && len(results) == 0 {
			respondServiceError(w, r, initTime, err)
			return
		}

		resp := dtos.ResyncResponse{
			Results:  make([]dtos.ResyncKindResult, 0, len(results)),
			Duration: time.Since(initTime).Round(time.Millisecond).String(),
		}
		for _, res := range results {
			item := dtos.ResyncKindResult{Kind: res.Kind.String(), Records: res.Records}
			if res.Err != nil {
				item.Error = res.Err.Error()
			}
			resp.Results = append(resp.Results, item)
		}

		message := "Resync complete"
		if err != nil {
			message = "Resync completed with errors"
		}
		common.RespondSuccess(w, initTime, message, resp)
	}
}

// ResetCapabilities handles POST /api/v1/admin/capabilities/reset
//
// Forgets every cached schema answer, for use after a migration adds or drops
// an optional column. Criteria are re-evaluated right away.
func (h *Handlers) ResetCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		cleared := h.deps.Services.Capabilities.Reset()
		for _, svc := range h.deps.Services.Workspace.Services() {
			if _, err := svc.RefreshCriteria(r.Context()); err != nil {
				logging.Warn("Criteria refresh after capability reset failed", "kind", svc.Kind().String(), "error", err.Error())
			}
		}

		common.RespondSuccess(w, initTime, "Capability cache cleared", dtos.CapabilityResetResponse{Cleared: cleared})
	}
}

// GetSyncHistory handles GET /api/v1/admin/sync-history
func (h *Handlers) GetSyncHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		rows, err := h.deps.Repo.SyncHistory.List(r.Context())
		if err != nil {
			common.RespondError(w, initTime, err, "Failed to load sync history", http.StatusInternalServerError)
			return
		}
		common.RespondSuccess(w, initTime, "Sync history fetched", rows)
	}
}
