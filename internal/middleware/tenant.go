package middleware

import (
	"net/http"

	"github.com/rpattn/datamigrate/internal/auth"

	"github.com/google/uuid"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"
)

// TenantMiddleware extracts the tenant and user scope from request headers and
// stores them on the context. Requests without a valid tenant are rejected;
// upstream infrastructure is expected to have authenticated the headers.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(r.Header.Get(tenantHeader))
		if err != nil || tenantID == uuid.Nil {
			http.Error(w, `{"error":"missing or invalid `+tenantHeader+` header"}`, http.StatusUnauthorized)
			return
		}
		ctx := auth.ContextWithTenantID(r.Context(), tenantID)

		if userID, err := uuid.Parse(r.Header.Get(userHeader)); err == nil && userID != uuid.Nil {
			ctx = auth.ContextWithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
