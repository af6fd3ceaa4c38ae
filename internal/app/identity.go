package app

import (
	"net/http"
	"strconv"

	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// TenantIdentity resolves the caller's tenant and actor from the
// X-Tenant-ID and X-Actor-ID headers set by the edge gateway. Requests
// without a valid tenant pass through without an identity; handlers
// decide whether that is acceptable.
func TenantIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.ParseInt(r.Header.Get("X-Tenant-ID"), 10, 64)
		if err != nil || tenantID <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
		ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{
			TenantID: tenantID,
			UserID:   actorID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
