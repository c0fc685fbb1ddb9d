// ABOUTME: Credential verification dispatch over a registered per-kind table
// ABOUTME: Resolves raw external credentials into canonical auth method identities

package verifier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/replay"
)

// Verification errors. Per-credential failures are local: one bad
// credential never aborts the rest of a batch.
var (
	ErrUnsupportedMethod   = errors.New("unsupported auth method")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrExpiredCredential   = errors.New("credential expired")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Credential is the tagged union presented for verification. Type selects
// the kind; exactly one payload field matching the kind must be set.
type Credential struct {
	Type method.Type `json:"authMethodType"`

	Wallet   *WalletCredential   `json:"wallet,omitempty"`
	Action   *ActionCredential   `json:"action,omitempty"`
	WebAuthn *WebAuthnCredential `json:"webauthn,omitempty"`
	OAuth    *OAuthCredential    `json:"oauth,omitempty"`
	JWT      *JWTCredential      `json:"jwt,omitempty"`
	OTP      *OTPCredential      `json:"otp,omitempty"`
}

// kindVerifier validates one credential kind. Implementations are pure:
// they never touch the permission ledger.
type kindVerifier interface {
	verify(ctx context.Context, cred Credential) (method.CanonicalID, error)
}

// Config carries the trust anchors and policy knobs for verification.
type Config struct {
	// Issuers is the JWT issuer allow-list. Tokens from any other issuer
	// are rejected outright.
	Issuers []IssuerConfig

	// OAuthProviders configures remote introspection for OAuth kinds.
	OAuthProviders []OAuthProviderConfig

	// OTPIssuerPublicKey is the fixed ed25519 key the OTP service signs
	// its tokens with.
	OTPIssuerPublicKey ed25519.PublicKey

	// WalletMaxAge bounds the age of wallet sign-in timestamps.
	// Defaults to 5 minutes.
	WalletMaxAge time.Duration

	// HTTPClient is used for OAuth introspection. Defaults to a client
	// with a 10 second timeout.
	HTTPClient *http.Client

	// Nonces tracks consumed wallet sign-in nonces. Optional; when nil a
	// tracker sized for the wallet window is created.
	Nonces *replay.Tracker
}

// Verifier dispatches credentials to per-kind verifiers. The kind table
// is closed at construction; unknown kinds fail with
// ErrUnsupportedMethod.
type Verifier struct {
	kinds  map[method.Type]kindVerifier
	nonces *replay.Tracker
}

// New builds a verifier from the config. Kinds without the required
// trust anchors (e.g. no OTP issuer key) are simply not registered and
// fail as unsupported.
func New(cfg Config) (*Verifier, error) {
	maxAge := cfg.WalletMaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = replay.NewTracker(maxAge, 10000)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	v := &Verifier{
		kinds:  make(map[method.Type]kindVerifier),
		nonces: nonces,
	}

	v.kinds[method.TypeAddress] = &walletVerifier{maxAge: maxAge, nonces: nonces}
	v.kinds[method.TypeAction] = &actionVerifier{}
	v.kinds[method.TypeWebAuthn] = &webAuthnVerifier{}

	if len(cfg.Issuers) > 0 {
		jv, err := newJWTVerifier(cfg.Issuers)
		if err != nil {
			return nil, fmt.Errorf("configuring jwt verifier: %w", err)
		}
		for _, iss := range cfg.Issuers {
			v.kinds[iss.Type] = jv
		}
	}

	for _, p := range cfg.OAuthProviders {
		// A provider registered under a non-OAuth type would shadow the
		// built-in verifier for that kind.
		if p.Type != method.TypeDiscord && p.Type != method.TypeGoogle {
			return nil, fmt.Errorf("oauth provider: type %s is not an oauth kind", p.Type)
		}
		v.kinds[p.Type] = &oauthVerifier{provider: p, client: client}
	}

	if len(cfg.OTPIssuerPublicKey) > 0 {
		ov := &otpVerifier{issuerKey: cfg.OTPIssuerPublicKey}
		for _, t := range []method.Type{
			method.TypeStytchEmailOTP,
			method.TypeStytchSMSOTP,
			method.TypeStytchWhatsAppOTP,
			method.TypeStytchTOTP,
		} {
			v.kinds[t] = ov
		}
	}

	return v, nil
}

// Close releases the nonce tracker.
func (v *Verifier) Close() {
	if v.nonces != nil {
		v.nonces.Close()
	}
}

// Verify validates one credential and returns its canonical identity.
// Verification is idempotent at the identity level: a credential always
// resolves to the same canonical id. Wallet presentations are the one
// exception to side-effect freedom: their sign-in nonce is consumed on
// success, so a byte-identical wallet credential is rejected as a
// replay. A fresh nonce from the same wallet yields the same id.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (method.CanonicalID, error) {
	if !cred.Type.Valid() {
		return method.CanonicalID{}, fmt.Errorf("%w: type %d", ErrUnsupportedMethod, uint32(cred.Type))
	}
	kv, ok := v.kinds[cred.Type]
	if !ok {
		return method.CanonicalID{}, fmt.Errorf("%w: %s not configured", ErrUnsupportedMethod, cred.Type)
	}
	return kv.verify(ctx, cred)
}

// BatchResult pairs one batch entry with its outcome.
type BatchResult struct {
	ID  method.CanonicalID
	Err error
}

// VerifyBatch verifies independent credentials concurrently. Results are
// returned in input order; a failed credential carries its error in its
// slot and does not affect the others.
func (v *Verifier) VerifyBatch(ctx context.Context, creds []Credential) []BatchResult {
	results := make([]BatchResult, len(creds))

	g, ctx := errgroup.WithContext(ctx)
	for i, cred := range creds {
		g.Go(func() error {
			id, err := v.Verify(ctx, cred)
			results[i] = BatchResult{ID: id, Err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures live in results
	return results
}
