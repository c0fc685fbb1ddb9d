// ABOUTME: HTTP middleware authenticating requests with session delegations
// ABOUTME: Verifies the session key signature and consumes per-request nonces

package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/replay"
	"github.com/openkeys/keygate/internal/session"
)

// PKPKeyResolver resolves a PKP id to its uncompressed secp256k1 public
// key. The lookup backs onto the key registry.
type PKPKeyResolver interface {
	PublicKey(ctx context.Context, pkpID string) (string, error)
}

// StaticKeyResolver serves PKP keys from a fixed map, for deployments
// whose key registry lives in configuration.
type StaticKeyResolver map[string]string

func (r StaticKeyResolver) PublicKey(_ context.Context, pkpID string) (string, error) {
	key, ok := r[pkpID]
	if !ok {
		return "", fmt.Errorf("no key registered for pkp %s", pkpID)
	}
	return key, nil
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// SessionAuthMiddleware creates an HTTP middleware that authenticates
// requests carrying a session delegation.
//
// The client presents:
//
//	Authorization: Bearer <base64url delegation JSON>
//	X-Session-Nonce: <unique nonce>
//	X-Session-Signature: <hex ed25519 signature over "METHOD PATH NONCE">
//
// The delegation is validated against the PKP's key, the request
// signature against the delegated session key, and the nonce is consumed
// so a captured request cannot be replayed inside the delegation's
// lifetime.
func SessionAuthMiddleware(keys PKPKeyResolver, nonces *replay.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			raw, err := base64.RawURLEncoding.DecodeString(token)
			if err != nil {
				http.Error(w, `{"error":"malformed delegation token"}`, http.StatusUnauthorized)
				return
			}
			var d session.Delegation
			if err := json.Unmarshal(raw, &d); err != nil {
				http.Error(w, `{"error":"malformed delegation token"}`, http.StatusUnauthorized)
				return
			}

			pkpKey, err := keys.PublicKey(r.Context(), d.PKPID)
			if err != nil {
				http.Error(w, `{"error":"unknown pkp"}`, http.StatusUnauthorized)
				return
			}
			if err := session.Validate(&d, d.SessionPublicKey, d.PKPID, pkpKey, time.Now()); err != nil {
				http.Error(w, `{"error":"invalid session delegation"}`, http.StatusUnauthorized)
				return
			}

			nonce := r.Header.Get("X-Session-Nonce")
			sigHex := r.Header.Get("X-Session-Signature")
			if nonce == "" || sigHex == "" {
				http.Error(w, `{"error":"missing session signature headers"}`, http.StatusUnauthorized)
				return
			}

			sessionKey, err := hex.DecodeString(d.SessionPublicKey)
			if err != nil || len(sessionKey) != ed25519.PublicKeySize {
				http.Error(w, `{"error":"invalid session delegation"}`, http.StatusUnauthorized)
				return
			}
			sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
			if err != nil {
				http.Error(w, `{"error":"invalid session signature"}`, http.StatusUnauthorized)
				return
			}
			signed := r.Method + " " + r.URL.Path + " " + nonce
			if !ed25519.Verify(ed25519.PublicKey(sessionKey), []byte(signed), sig) {
				http.Error(w, `{"error":"invalid session signature"}`, http.StatusUnauthorized)
				return
			}

			// Consume the nonce last: a request rejected above must not
			// burn its nonce.
			if !nonces.Consume(d.SessionPublicKey + ":" + nonce) {
				http.Error(w, `{"error":"replayed request nonce"}`, http.StatusUnauthorized)
				return
			}

			identity := &authctx.Identity{PKPID: d.PKPID}
			next.ServeHTTP(w, r.WithContext(authctx.WithIdentity(r.Context(), identity)))
		})
	}
}
