// ABOUTME: Session delegation minting gated by scope enforcement
// ABOUTME: Exchanges a verified credential for a time-bounded PKP-signed delegation

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/method"
)

// Minting errors.
var (
	ErrInsufficientScope   = errors.New("credential lacks the scope required for session issuance")
	ErrLifetimeOutOfBounds = errors.New("requested lifetime out of bounds")
	ErrSigningUnavailable  = errors.New("distributed signer unavailable")
)

// Signer is the distributed quorum signer collaborator. Sign blocks on a
// network round trip; implementations must honor context cancellation.
type Signer interface {
	// Sign produces a 65-byte secp256k1 signature by the PKP's key over
	// the given digest.
	Sign(ctx context.Context, pkpID string, digest []byte) ([]byte, error)
}

// enforcer is the slice of the scope enforcer the authorizer needs.
type enforcer interface {
	Authorize(ctx context.Context, identity *authctx.Identity, pkpID string, required method.Scope) (bool, error)
}

// Delegation is the minted session authorization. A client presents it
// instead of the original credential and authenticates requests by
// signing with the session key until Expiry.
type Delegation struct {
	SessionPublicKey string `json:"sessionPublicKey"` // hex
	PKPID            string `json:"pkpId"`
	Expiry           int64  `json:"expiry"` // unix seconds
	Signature        string `json:"signature"` // hex, PKP signature over the statement
	Nonce            string `json:"nonce"`
	IssuedAt         int64  `json:"issuedAt"` // unix seconds
}

// Statement reconstructs the canonical statement the delegation was
// signed over.
func (d *Delegation) Statement() Statement {
	return Statement{
		PKPID:            d.PKPID,
		SessionPublicKey: d.SessionPublicKey,
		Nonce:            d.Nonce,
		IssuedAt:         time.Unix(d.IssuedAt, 0),
		ExpiresAt:        time.Unix(d.Expiry, 0),
	}
}

// Policy bounds session issuance.
type Policy struct {
	// MaxLifetime caps the requested lifetime. Requests above it are
	// rejected, not clamped, so a client never silently gets a shorter
	// session than it asked for.
	MaxLifetime time.Duration

	// MinScope is the scope a credential must hold before it may mint a
	// session. Defaults to sign-anything.
	MinScope method.Scope
}

// Authorizer mints session delegations.
type Authorizer struct {
	enforcer enforcer
	signer   Signer
	policy   Policy
	logger   *slog.Logger
}

// NewAuthorizer creates a session authorizer with the given policy.
func NewAuthorizer(e enforcer, s Signer, policy Policy) *Authorizer {
	if policy.MinScope == 0 {
		policy.MinScope = method.ScopeSignAnything
	}
	return &Authorizer{
		enforcer: e,
		signer:   s,
		policy:   policy,
		logger:   slog.Default().With("component", "session"),
	}
}

// Mint exchanges one verified credential for a delegation binding
// sessionPublicKey to the PKP for the requested lifetime.
//
// No state is created until the distributed signer succeeds: a failed or
// timed-out mint produces nothing, so retries are safe.
func (a *Authorizer) Mint(ctx context.Context, credential method.CanonicalID, pkpID, sessionPublicKey string, lifetime time.Duration) (*Delegation, error) {
	sessionKey, err := normalizeSessionKey(sessionPublicKey)
	if err != nil {
		return nil, err
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("%w: lifetime must be positive", ErrLifetimeOutOfBounds)
	}
	if a.policy.MaxLifetime > 0 && lifetime > a.policy.MaxLifetime {
		return nil, fmt.Errorf("%w: %v exceeds maximum %v", ErrLifetimeOutOfBounds, lifetime, a.policy.MaxLifetime)
	}

	identity := &authctx.Identity{
		PKPID:   pkpID,
		Methods: []method.CanonicalID{credential},
	}
	allowed, err := a.enforcer.Authorize(ctx, identity, pkpID, a.policy.MinScope)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s required", ErrInsufficientScope, a.policy.MinScope)
	}

	now := time.Now().UTC().Truncate(time.Second)
	stmt := Statement{
		PKPID:            pkpID,
		SessionPublicKey: sessionKey,
		Nonce:            uuid.NewString(),
		IssuedAt:         now,
		ExpiresAt:        now.Add(lifetime),
	}

	sig, err := a.signer.Sign(ctx, pkpID, stmt.SigningHash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}

	a.logger.Info("minted session delegation",
		"pkp_id", pkpID,
		"expires_at", stmt.ExpiresAt,
		"method_type", credential.Type.String(),
	)

	return &Delegation{
		SessionPublicKey: sessionKey,
		PKPID:            pkpID,
		Expiry:           stmt.ExpiresAt.Unix(),
		Signature:        "0x" + hex.EncodeToString(sig),
		Nonce:            stmt.Nonce,
		IssuedAt:         stmt.IssuedAt.Unix(),
	}, nil
}

// normalizeSessionKey validates and canonicalizes a hex ed25519 public key.
func normalizeSessionKey(key string) (string, error) {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "0x"))
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("session public key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("session public key must be 32 bytes, got %d", len(raw))
	}
	return s, nil
}
