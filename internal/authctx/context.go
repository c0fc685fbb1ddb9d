// ABOUTME: Request-scoped identity context assembled from verified credentials
// ABOUTME: Provides the wire shape and context.Context propagation helpers

package authctx

import (
	"context"

	"github.com/openkeys/keygate/internal/method"
)

// Identity is the per-request identity context consumed by signing
// logic. It is built fresh for every request, passed by parameter, and
// never persisted: concurrent requests must not observe each other's
// identities.
type Identity struct {
	// PKPID is the key pair this identity was assembled for.
	PKPID string

	// ActionIDs is the action call chain, outermost caller first, the
	// currently executing action last. The order is caller-supplied and
	// preserved verbatim.
	ActionIDs []string

	// VerifiedAddress is the wallet address recovered from an address
	// credential, empty if none was presented.
	VerifiedAddress string

	// Methods holds every verified credential in presentation order,
	// deduplicated by (type, id). Scope resolution happens at
	// authorization time, never here.
	Methods []method.CanonicalID
}

// MethodContextWire is one entry of the authMethodContexts wire field.
type MethodContextWire struct {
	UserID         string `json:"userId"`
	AppID          string `json:"appId"`
	AuthMethodType uint32 `json:"authMethodType"`
}

// IdentityWire is the JSON shape of an identity context.
type IdentityWire struct {
	ActionIpfsIDs      []string            `json:"actionIpfsIds"`
	AuthSigAddress     *string             `json:"authSigAddress"`
	AuthMethodContexts []MethodContextWire `json:"authMethodContexts"`
}

// Wire converts the identity to its JSON wire shape.
func (id *Identity) Wire() IdentityWire {
	w := IdentityWire{
		ActionIpfsIDs:      append([]string{}, id.ActionIDs...),
		AuthMethodContexts: make([]MethodContextWire, 0, len(id.Methods)),
	}
	if id.VerifiedAddress != "" {
		addr := id.VerifiedAddress
		w.AuthSigAddress = &addr
	}
	for _, m := range id.Methods {
		w.AuthMethodContexts = append(w.AuthMethodContexts, MethodContextWire{
			UserID:         m.UserID,
			AppID:          m.AppID,
			AuthMethodType: uint32(m.Type),
		})
	}
	return w
}

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
