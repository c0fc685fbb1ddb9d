// ABOUTME: In-memory permission ledger for tests and embedded use
// ABOUTME: Thread-safe map-backed implementation of the Store interface

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openkeys/keygate/internal/method"
)

// MemoryLedger is a map-backed Store. It is safe for concurrent use and
// is the reference implementation the rest of the core is tested against.
type MemoryLedger struct {
	mu     sync.RWMutex
	grants map[string]map[string]*Grant // pkpID -> method key -> grant
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{grants: make(map[string]map[string]*Grant)}
}

// GetScopes returns a copy of the registered scope set, or an empty set
// if the method is not registered.
func (l *MemoryLedger) GetScopes(_ context.Context, pkpID string, m method.AuthMethod) (method.ScopeSet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if g, ok := l.grants[pkpID][m.Key()]; ok {
		return g.Scopes.Clone(), nil
	}
	return method.NewScopeSet(), nil
}

// IsPermitted reports whether the method is registered for the PKP.
func (l *MemoryLedger) IsPermitted(_ context.Context, pkpID string, m method.AuthMethod) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.grants[pkpID][m.Key()]
	return ok, nil
}

// AddAuthMethod registers the method, replacing any existing scope set.
func (l *MemoryLedger) AddAuthMethod(_ context.Context, pkpID string, m method.AuthMethod, scopes method.ScopeSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if l.grants[pkpID] == nil {
		l.grants[pkpID] = make(map[string]*Grant)
	}
	l.grants[pkpID][m.Key()] = &Grant{
		PKPID:     pkpID,
		Method:    m,
		Scopes:    scopes.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// RemoveAuthMethod deletes the method. Removing an unregistered method
// succeeds silently.
func (l *MemoryLedger) RemoveAuthMethod(_ context.Context, pkpID string, m method.AuthMethod) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.grants[pkpID], m.Key())
	return nil
}

// AddScope grants one scope, registering the method if needed.
func (l *MemoryLedger) AddScope(_ context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.grants[pkpID] == nil {
		l.grants[pkpID] = make(map[string]*Grant)
	}
	g, ok := l.grants[pkpID][m.Key()]
	if !ok {
		now := time.Now().UTC()
		g = &Grant{PKPID: pkpID, Method: m, Scopes: method.NewScopeSet(), CreatedAt: now, UpdatedAt: now}
		l.grants[pkpID][m.Key()] = g
	}
	g.Scopes.Add(scope)
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveScope revokes one scope. The method stays registered.
func (l *MemoryLedger) RemoveScope(_ context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.grants[pkpID][m.Key()]; ok {
		g.Scopes.Remove(scope)
		g.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ListGrants returns all registrations for a PKP, for admin listings.
func (l *MemoryLedger) ListGrants(_ context.Context, pkpID string) ([]*Grant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	grants := make([]*Grant, 0, len(l.grants[pkpID]))
	for _, g := range l.grants[pkpID] {
		copied := *g
		copied.Scopes = g.Scopes.Clone()
		grants = append(grants, &copied)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Method.Key() < grants[j].Method.Key() })
	return grants, nil
}

// Close is a no-op for the in-memory ledger.
func (l *MemoryLedger) Close() error { return nil }
