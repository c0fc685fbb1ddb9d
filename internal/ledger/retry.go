// ABOUTME: Retrying wrapper for ledger reads with exponential backoff
// ABOUTME: Bounded retries; exhaustion surfaces ErrUnavailable (fail closed)

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openkeys/keygate/internal/method"
)

// RetryingLedger wraps a Ledger and retries transient failures with
// exponential backoff. Retries are bounded; when they are exhausted the
// read fails with ErrUnavailable and the caller must deny.
type RetryingLedger struct {
	backing  Ledger
	maxTries uint
	maxWait  time.Duration
}

// NewRetryingLedger wraps the ledger with at most maxTries attempts per
// read. maxWait caps the backoff interval between attempts.
func NewRetryingLedger(backing Ledger, maxTries uint, maxWait time.Duration) *RetryingLedger {
	if maxTries == 0 {
		maxTries = 1
	}
	return &RetryingLedger{backing: backing, maxTries: maxTries, maxWait: maxWait}
}

// newBackOff builds the per-call backoff policy.
func (r *RetryingLedger) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	if r.maxWait > 0 {
		bo.MaxInterval = r.maxWait
	}
	return bo
}

// GetScopes retries the read on transient errors.
func (r *RetryingLedger) GetScopes(ctx context.Context, pkpID string, m method.AuthMethod) (method.ScopeSet, error) {
	set, err := backoff.Retry(ctx, func() (method.ScopeSet, error) {
		s, err := r.backing.GetScopes(ctx, pkpID, m)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxTries))
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, fmt.Errorf("%w: retries exhausted", ErrUnavailable)
		}
		return nil, err
	}
	return set, nil
}

// IsPermitted retries the read on transient errors.
func (r *RetryingLedger) IsPermitted(ctx context.Context, pkpID string, m method.AuthMethod) (bool, error) {
	ok, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := r.backing.IsPermitted(ctx, pkpID, m)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return false, backoff.Permanent(err)
		}
		return ok, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxTries))
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return false, fmt.Errorf("%w: retries exhausted", ErrUnavailable)
		}
		return false, err
	}
	return ok, nil
}
