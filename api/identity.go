package api

import (
	"net/http"

	"github.com/recordflow/recordflow/core"
)

// Headers the external auth layer sets on every request.
const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
)

// identifiedFunc is a handler that has already passed the tenancy check.
type identifiedFunc func(w http.ResponseWriter, r *http.Request, id core.Identity)

// identified extracts the tenant and actor from the request headers and
// rejects requests without a tenant.
func (s *Server) identified(next identifiedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := core.Identity{
			TenantID: r.Header.Get(TenantHeader),
			ActorID:  r.Header.Get(ActorHeader),
		}

		if id.TenantID == "" {
			s.respond(w, http.StatusUnauthorized, envelope{Success: false, Error: "missing tenant context"})
			return
		}
		if id.ActorID == "" {
			id.ActorID = "anonymous"
		}

		next(w, r, id)
	})
}
