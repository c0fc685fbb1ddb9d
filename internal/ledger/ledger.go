// ABOUTME: Permission ledger interfaces and data types for PKP auth methods
// ABOUTME: Defines read/write capability interfaces and ledger error values

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/openkeys/keygate/internal/method"
)

// ErrUnavailable is returned when the ledger backend cannot be reached.
// Callers must fail closed: an unavailable ledger never means "allow".
var ErrUnavailable = errors.New("ledger unavailable")

// Ledger is the read capability consumed by the authorization core. The
// authoritative ledger is an external system of record; implementations
// here are clients, mirrors, or test fakes.
type Ledger interface {
	// GetScopes returns the scope set registered for the auth method on
	// the PKP. A permitted method with no scopes returns an empty set; an
	// unregistered method also returns an empty set.
	GetScopes(ctx context.Context, pkpID string, m method.AuthMethod) (method.ScopeSet, error)

	// IsPermitted reports whether the auth method is registered for the
	// PKP at all, regardless of scopes.
	IsPermitted(ctx context.Context, pkpID string, m method.AuthMethod) (bool, error)
}

// Writer is the mutation capability. The authorization core never writes;
// grants and revocations come from external callers (admin tooling, the
// on-chain contract relay).
type Writer interface {
	// AddAuthMethod registers the method for the PKP with the given
	// scopes, replacing any existing scope set for the pair.
	AddAuthMethod(ctx context.Context, pkpID string, m method.AuthMethod, scopes method.ScopeSet) error

	// RemoveAuthMethod removes the method and all of its scopes.
	RemoveAuthMethod(ctx context.Context, pkpID string, m method.AuthMethod) error

	// AddScope grants one scope to an already registered method.
	AddScope(ctx context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error

	// RemoveScope revokes one scope. The method stays registered; an
	// empty remaining set means authentication-only.
	RemoveScope(ctx context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error
}

// Store combines both capabilities for backends that hold local state.
type Store interface {
	Ledger
	Writer
	Close() error
}

// Grant is a single (pkp, method, scopes) registration row, used by
// admin listings.
type Grant struct {
	PKPID     string
	Method    method.AuthMethod
	Scopes    method.ScopeSet
	CreatedAt time.Time
	UpdatedAt time.Time
}
