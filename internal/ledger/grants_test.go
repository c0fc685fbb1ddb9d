// ABOUTME: Tests for admin grant listings across ledger backends
// ABOUTME: Verifies listing order, scope contents, and isolation between PKPs

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkeys/keygate/internal/method"
)

func TestListGrants(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			lister, ok := store.(interface {
				ListGrants(ctx context.Context, pkpID string) ([]*Grant, error)
			})
			require.True(t, ok, "backend must support grant listings")

			a := method.AuthMethod{Type: method.TypeAddress, ID: "0xabc"}
			b := method.AuthMethod{Type: method.TypeGoogleJWT, ID: "0xdef"}
			require.NoError(t, store.AddAuthMethod(ctx, testPKP, a, method.NewScopeSet(method.ScopeSignAnything)))
			require.NoError(t, store.AddAuthMethod(ctx, testPKP, b, method.NewScopeSet()))

			// A different PKP's grants must not leak into the listing.
			other := method.AuthMethod{Type: method.TypeDiscord, ID: "0x999"}
			require.NoError(t, store.AddAuthMethod(ctx, "0xother", other, method.NewScopeSet(method.ScopeOnlySignMessages)))

			grants, err := lister.ListGrants(ctx, testPKP)
			require.NoError(t, err)
			require.Len(t, grants, 2)

			byKey := make(map[string]*Grant, len(grants))
			for _, g := range grants {
				assert.Equal(t, testPKP, g.PKPID)
				byKey[g.Method.Key()] = g
			}
			require.Contains(t, byKey, a.Key())
			require.Contains(t, byKey, b.Key())
			assert.True(t, byKey[a.Key()].Scopes.Contains(method.ScopeSignAnything))
			assert.Empty(t, byKey[b.Key()].Scopes.Slice(), "authentication-only method lists an empty scope set")

			// Empty listing for an unknown PKP, not an error.
			grants, err = lister.ListGrants(ctx, "0xunknown")
			require.NoError(t, err)
			assert.Empty(t, grants)
		})
	}
}

func TestListGrants_ReflectsMutations(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			lister, ok := store.(interface {
				ListGrants(ctx context.Context, pkpID string) ([]*Grant, error)
			})
			require.True(t, ok)

			require.NoError(t, store.AddAuthMethod(ctx, testPKP, testMethod, method.NewScopeSet(method.ScopeSignAnything, method.ScopeOnlySignMessages)))
			require.NoError(t, store.RemoveScope(ctx, testPKP, testMethod, method.ScopeSignAnything))

			grants, err := lister.ListGrants(ctx, testPKP)
			require.NoError(t, err)
			require.Len(t, grants, 1)
			assert.Equal(t, []method.Scope{method.ScopeOnlySignMessages}, grants[0].Scopes.Slice())

			require.NoError(t, store.RemoveAuthMethod(ctx, testPKP, testMethod))
			grants, err = lister.ListGrants(ctx, testPKP)
			require.NoError(t, err)
			assert.Empty(t, grants)
		})
	}
}
