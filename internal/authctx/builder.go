// ABOUTME: Builder assembling verified credentials into an identity context
// ABOUTME: Deduplicates methods and preserves the caller-supplied action chain

package authctx

import (
	"fmt"
	"log/slog"

	"github.com/openkeys/keygate/internal/method"
)

// Builder assembles identity contexts. It performs no verification (the
// credential verifier already ran) and no authorization (the scope
// enforcer runs later, against fresh ledger state).
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a context builder.
func NewBuilder() *Builder {
	return &Builder{logger: slog.Default().With("component", "authctx")}
}

// Build assembles the identity for one request.
//
// verified must contain only credentials the verifier accepted; failed
// credentials are excluded by the caller. Duplicate (type, id) pairs are
// collapsed to the first occurrence. actionChain is copied verbatim:
// index 0 is the outermost caller, the last index the currently
// executing action.
func (b *Builder) Build(pkpID string, verified []method.CanonicalID, actionChain []string) (*Identity, error) {
	if pkpID == "" {
		return nil, fmt.Errorf("pkp id is required")
	}

	id := &Identity{
		PKPID:     pkpID,
		ActionIDs: append([]string{}, actionChain...),
		Methods:   make([]method.CanonicalID, 0, len(verified)),
	}

	seen := make(map[string]struct{}, len(verified))
	for _, c := range verified {
		if !c.Type.Valid() {
			return nil, fmt.Errorf("credential with invalid method type %d", uint32(c.Type))
		}
		key := c.Method().Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		id.Methods = append(id.Methods, c)

		if c.Type == method.TypeAddress && id.VerifiedAddress == "" {
			id.VerifiedAddress = c.ID
		}
	}

	b.logger.Debug("built identity context",
		"pkp_id", pkpID,
		"methods", len(id.Methods),
		"actions", len(id.ActionIDs),
	)
	return id, nil
}
