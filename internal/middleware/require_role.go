package middleware

import (
	"net/http"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
)

// RequireRole lets through callers whose role ranks at least min
func RequireRole(min constants.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.GetUserClaims(r.Context())
			if claims == nil {
				common.RespondUnauthorized(w, nil)
				return
			}

			// Check permissions BEFORE calling next handler
			if !claims.HasRole(min) {
				common.RespondPermissionDenied(w, min.String())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IsProviderMiddleware() func(http.Handler) http.Handler {
	return RequireRole(constants.RoleProvider)
}

func IsManagerMiddleware() func(http.Handler) http.Handler {
	return RequireRole(constants.RoleManager)
}

func IsAdminMiddleware() func(http.Handler) http.Handler {
	return RequireRole(constants.RoleAdmin)
}
