package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/jobs"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/services"
)

const maxBodyBytes = 1 << 20

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, providers.ErrValidation), errors.Is(err, providers.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, providers.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, providers.ErrAlreadyExists), errors.Is(err, providers.ErrStaleWrite):
		return http.StatusConflict
	case errors.Is(err, providers.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, jobs.ErrResyncRunning):
		return http.StatusConflict
	case errors.Is(err, common.ErrLinkExpired), errors.Is(err, common.ErrLinkConsumed):
		return http.StatusGone
	case errors.Is(err, common.ErrLinkInvalid):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, providers.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondServiceError logs err and sends the user-facing message for it
func respondServiceError(w http.ResponseWriter, r *http.Request, initTime time.Time, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.Error("Request failed", "path", r.URL.Path, "status", code, "error", err.Error())
	} else {
		logging.Debug("Request rejected", "path", r.URL.Path, "status", code, "error", err.Error())
	}
	common.RespondError(w, initTime, err, providers.UserMessage(err), code)
}

// decodeJSON reads a size-limited JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return providers.Validation("invalid request body: %v", err)
	}
	return nil
}

// scopeFor limits views to what the caller may see
func scopeFor(claims auth.UserClaims) services.Scope {
	return services.Scope{Role: claims.Role(), ProviderID: claims.ProviderID()}
}

// requireClaims returns the caller's claims or rejects the request
func requireClaims(w http.ResponseWriter, r *http.Request) (auth.UserClaims, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		common.RespondUnauthorized(w, fmt.Errorf("no claims on request"))
		return nil, false
	}
	return claims, true
}

// scopedNotification strips record identity and failure detail for callers
// that can only see their own tours. Notifications are not scoped per provider.
func scopedNotification(n services.Notification, restricted bool) services.Notification {
	if restricted {
		n.EntityID = ""
		n.Detail = ""
	}
	return n
}
