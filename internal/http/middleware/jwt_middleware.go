package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/pkg/auth"
	"github.com/diagnosis/qr-attendance/pkg/logger"
)

type ctxKey string

const CtxClaims ctxKey = "claims"

// RequireSession rejects requests without a valid bearer session and puts
// the claims on the context.
func RequireSession(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			claims, err := auth.Parse(strings.TrimPrefix(authz, "Bearer "), secret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid authorization token", response.CodeInvalidToken)
				return
			}
			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			ctx = context.WithValue(ctx, logger.UserNameKey, claims.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after RequireSession.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Claims(r).IsAdmin() {
			response.Forbidden(w, "admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func Claims(r *http.Request) *auth.Claims {
	v, _ := r.Context().Value(CtxClaims).(*auth.Claims)
	return v
}
