// ABOUTME: Bounded-staleness read-through cache over a permission ledger
// ABOUTME: Uses an expirable LRU; caches ledger reads, never authorize results

package ledger

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openkeys/keygate/internal/method"
)

// CachedLedger wraps a Ledger with a TTL-bounded LRU. Staleness is
// bounded by the TTL: a revocation is visible no later than one TTL after
// it lands in the backing ledger. Deployments that need revocation on the
// very next request must not wrap their ledger at all.
type CachedLedger struct {
	backing Ledger
	scopes  *expirable.LRU[string, method.ScopeSet]
	perms   *expirable.LRU[string, bool]
}

// NewCachedLedger creates a read-through cache with the given entry
// bound and TTL.
func NewCachedLedger(backing Ledger, size int, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		backing: backing,
		scopes:  expirable.NewLRU[string, method.ScopeSet](size, nil, ttl),
		perms:   expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// cacheKey builds the LRU key for a (pkp, method) pair.
func cacheKey(pkpID string, m method.AuthMethod) string {
	return pkpID + "|" + m.Key()
}

// GetScopes serves from cache when fresh, falling through to the backing
// ledger otherwise. Errors are never cached.
func (c *CachedLedger) GetScopes(ctx context.Context, pkpID string, m method.AuthMethod) (method.ScopeSet, error) {
	key := cacheKey(pkpID, m)
	if set, ok := c.scopes.Get(key); ok {
		return set.Clone(), nil
	}

	set, err := c.backing.GetScopes(ctx, pkpID, m)
	if err != nil {
		return nil, err
	}
	c.scopes.Add(key, set.Clone())
	return set, nil
}

// IsPermitted serves from cache when fresh.
func (c *CachedLedger) IsPermitted(ctx context.Context, pkpID string, m method.AuthMethod) (bool, error) {
	key := cacheKey(pkpID, m)
	if ok, hit := c.perms.Get(key); hit {
		return ok, nil
	}

	ok, err := c.backing.IsPermitted(ctx, pkpID, m)
	if err != nil {
		return false, err
	}
	c.perms.Add(key, ok)
	return ok, nil
}

// Invalidate drops cached entries for a (pkp, method) pair. Admin
// tooling calls this after a local mutation so the revocation is visible
// immediately instead of after the TTL.
func (c *CachedLedger) Invalidate(pkpID string, m method.AuthMethod) {
	key := cacheKey(pkpID, m)
	c.scopes.Remove(key)
	c.perms.Remove(key)
}
