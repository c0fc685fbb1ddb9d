// ABOUTME: Tests for the session delegation authentication middleware
// ABOUTME: Covers signature checks, nonce replay, and identity propagation

package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/replay"
	"github.com/openkeys/keygate/internal/session"
)

// staticKeyResolver resolves every PKP id to one fixed public key.
type staticKeyResolver struct {
	pkpID  string
	pubKey string
}

func (r *staticKeyResolver) PublicKey(_ context.Context, pkpID string) (string, error) {
	if pkpID != r.pkpID {
		return "", errors.New("unknown pkp")
	}
	return r.pubKey, nil
}

type sessionFixture struct {
	resolver   *staticKeyResolver
	delegation *session.Delegation
	sessionKey ed25519.PrivateKey
}

// newSessionFixture mints a delegation directly with a local PKP key.
func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	pkpKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	pkpPub := "0x" + hex.EncodeToString(crypto.FromECDSAPub(&pkpKey.PublicKey))
	pkpID, err := method.DerivePKPID(pkpPub)
	if err != nil {
		t.Fatal(err)
	}

	sessionPub, sessionPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	stmt := session.Statement{
		PKPID:            pkpID,
		SessionPublicKey: hex.EncodeToString(sessionPub),
		Nonce:            "delegation-nonce",
		IssuedAt:         now,
		ExpiresAt:        now.Add(time.Hour),
	}
	sig, err := crypto.Sign(stmt.SigningHash(), pkpKey)
	if err != nil {
		t.Fatal(err)
	}

	return &sessionFixture{
		resolver: &staticKeyResolver{pkpID: pkpID, pubKey: pkpPub},
		delegation: &session.Delegation{
			SessionPublicKey: stmt.SessionPublicKey,
			PKPID:            pkpID,
			Expiry:           stmt.ExpiresAt.Unix(),
			Signature:        "0x" + hex.EncodeToString(sig),
			Nonce:            stmt.Nonce,
			IssuedAt:         stmt.IssuedAt.Unix(),
		},
		sessionKey: sessionPriv,
	}
}

// authenticate attaches the fixture's delegation and a request
// signature over "METHOD PATH NONCE".
func (f *sessionFixture) authenticate(t *testing.T, req *http.Request, nonce string) {
	t.Helper()

	raw, err := json.Marshal(f.delegation)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+base64.RawURLEncoding.EncodeToString(raw))
	req.Header.Set("X-Session-Nonce", nonce)

	signed := req.Method + " " + req.URL.Path + " " + nonce
	sig := ed25519.Sign(f.sessionKey, []byte(signed))
	req.Header.Set("X-Session-Signature", hex.EncodeToString(sig))
}

// signedRequest builds a GET request authenticated with the fixture's
// session key.
func (f *sessionFixture) signedRequest(t *testing.T, path, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.authenticate(t, req, nonce)
	return req
}

func newProtectedHandler(t *testing.T, f *sessionFixture) (http.Handler, *string) {
	t.Helper()

	tracker := replay.NewTracker(time.Minute, 100)
	t.Cleanup(tracker.Close)

	var seenPKP string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := authctx.FromContext(r.Context()); id != nil {
			seenPKP = id.PKPID
		}
		w.WriteHeader(http.StatusOK)
	})
	return SessionAuthMiddleware(f.resolver, tracker)(inner), &seenPKP
}

func TestSessionAuthMiddleware_ValidRequest(t *testing.T) {
	f := newSessionFixture(t)
	handler, seenPKP := newProtectedHandler(t, f)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if *seenPKP != f.delegation.PKPID {
		t.Errorf("handler saw pkp %q, want %q", *seenPKP, f.delegation.PKPID)
	}
}

func TestSessionAuthMiddleware_ReplayedNonce(t *testing.T) {
	f := newSessionFixture(t)
	handler, _ := newProtectedHandler(t, f)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed request status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// A fresh nonce works again.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-2"))
	if rec.Code != http.StatusOK {
		t.Errorf("fresh nonce status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSessionAuthMiddleware_WrongSessionKey(t *testing.T) {
	f := newSessionFixture(t)
	handler, _ := newProtectedHandler(t, f)

	// Sign with a key other than the delegated one.
	_, otherKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	f.sessionKey = otherKey

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionAuthMiddleware_ExpiredDelegation(t *testing.T) {
	f := newSessionFixture(t)
	f.delegation.Expiry = time.Now().Add(-time.Hour).Unix()
	handler, _ := newProtectedHandler(t, f)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionAuthMiddleware_MissingHeaders(t *testing.T) {
	f := newSessionFixture(t)
	handler, _ := newProtectedHandler(t, f)

	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"no authorization", func(r *http.Request) { r.Header.Del("Authorization") }},
		{"not bearer", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer !!!") }},
		{"no nonce", func(r *http.Request) { r.Header.Del("X-Session-Nonce") }},
		{"no signature", func(r *http.Request) { r.Header.Del("X-Session-Signature") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.signedRequest(t, "/api/ping", "n-"+tt.name)
			tt.mutate(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestSessionAuthMiddleware_UnknownPKP(t *testing.T) {
	f := newSessionFixture(t)
	f.resolver.pkpID = "0xsomeoneelse"
	handler, _ := newProtectedHandler(t, f)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.signedRequest(t, "/api/ping", "n-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
