// ABOUTME: Scope enforcement for signing requests against the permission ledger
// ABOUTME: Fresh ledger reads per decision; fail closed on ledger errors

package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/ledger"
	"github.com/openkeys/keygate/internal/method"
)

// ErrAuthorizationUnavailable is returned when the ledger cannot answer
// and the decision therefore cannot be made. Callers must treat it as a
// denial, never as an allow.
var ErrAuthorizationUnavailable = errors.New("authorization unavailable")

// Enforcer decides allow/deny for signing requests. Every decision reads
// the ledger fresh: a revoked scope takes effect on the very next call,
// so results must never be cached across requests.
type Enforcer struct {
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewEnforcer creates an enforcer over the given ledger.
func NewEnforcer(l ledger.Ledger) *Enforcer {
	return &Enforcer{
		ledger: l,
		logger: slog.Default().With("component", "scope"),
	}
}

// Authorize reports whether any method in the identity holds the
// required scope for the PKP.
//
// A false result is a correct denial, not an error: the caller decides
// whether to deny outright or request additional credentials. Methods
// with empty scope sets are authentication-only and never authorize
// anything. An error means the decision could not be made; the caller
// must fail closed.
func (e *Enforcer) Authorize(ctx context.Context, identity *authctx.Identity, pkpID string, required method.Scope) (bool, error) {
	if identity == nil {
		return false, nil
	}
	if !required.Valid() {
		return false, fmt.Errorf("invalid scope %d", uint32(required))
	}

	for _, m := range identity.Methods {
		scopes, err := e.ledger.GetScopes(ctx, pkpID, m.Method())
		if err != nil {
			if errors.Is(err, ledger.ErrUnavailable) {
				e.logger.Warn("ledger unavailable during authorization",
					"pkp_id", pkpID, "method_type", m.Type.String())
				return false, fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, err)
			}
			return false, err
		}
		// Exact membership: scopes are not hierarchical, and an empty
		// set means authentication-only.
		if scopes.Contains(required) {
			e.logger.Debug("authorized",
				"pkp_id", pkpID, "method_type", m.Type.String(), "scope", required.String())
			return true, nil
		}
	}

	e.logger.Debug("denied: no method holds required scope",
		"pkp_id", pkpID, "scope", required.String(), "methods", len(identity.Methods))
	return false, nil
}
