package core

import "context"

// Identity carries the tenant and actor for a request. It is supplied by the
// external authentication layer and threaded through every operation.
type Identity struct {
	// TenantID is the ID of the organization owning the data being accessed.
	TenantID string `json:"tenant_id"`

	// ActorID is the ID of the user performing the operation.
	ActorID string `json:"actor_id"`
}

func (id Identity) Valid() bool {
	return id.TenantID != "" && id.ActorID != ""
}

type identityKey struct{}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored in ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
