package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/export"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/providers"
)

// CreateExportLink handles POST /api/v1/exports/link. The link carries the
// caller's scope, so whoever downloads it sees what the caller saw.
func (h *Handlers) CreateExportLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req dtos.ExportLinkRequest
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		token, expiresAt, err := h.deps.Services.Exports.CreateLink(common.ExportRequest{
			UserID:     claims.UserID(),
			Role:       claims.Role().String(),
			ProviderID: claims.ProviderID(),
			View:       req.View,
			Format:     req.Format,
			Tab:        req.Tab,
			Search:     req.Search,
			Date:       req.Date,
		})
		if err != nil {
			common.RespondError(w, initTime, err, "Invalid export request", http.StatusBadRequest)
			return
		}

		common.RespondSuccess(w, initTime, "Export link created", dtos.ExportLinkResponse{
			URL:       fmt.Sprintf("/exports/%s?token=%s", req.Format, url.QueryEscape(token)),
			ExpiresAt: expiresAt,
		})
	}
}

// DownloadExport handles GET /exports/{format}?token=. The token is consumed
// on first use.
func (h *Handlers) DownloadExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		signed, err := h.deps.Services.Exports.Redeem(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			common.RespondError(w, initTime, err, "Export link is not valid", statusFor(err))
			return
		}

		req := signed.Request
		if chi.URLParam(r, "format") != req.Format {
			respondServiceError(w, r, initTime, providers.Validation("link was issued for %s", req.Format))
			return
		}
		format, err := export.ParseFormat(req.Format)
		if err != nil {
			respondServiceError(w, r, initTime, providers.Validation("%v", err))
			return
		}

		// Render fully before writing so failures still get a JSON error
		var buf bytes.Buffer
		if err := h.deps.Services.Exports.Render(&buf, req); err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}

		logging.Info("Export downloaded", "user_id", req.UserID, "view", req.View, "format", req.Format, "bytes", buf.Len())
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.deps.Services.Exports.Filename(req)))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}
