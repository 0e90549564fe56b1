package middleware

import (
	"net/http"
	"strings"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/common"
)

// AuthMiddleware verifies the bearer token and stores the claims on the request.
// Websocket clients cannot set headers, so an access_token query parameter is
// accepted as well.
func AuthMiddleware(verifier *auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			authHeader := r.Header.Get("Authorization")
			switch {
			case strings.HasPrefix(authHeader, "Bearer "):
				raw = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			case r.URL.Query().Get("access_token") != "":
				raw = r.URL.Query().Get("access_token")
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				common.RespondUnauthorized(w, err)
				return
			}

			ctx := auth.SetUserClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
