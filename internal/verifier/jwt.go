// ABOUTME: JWT credential verification against an issuer allow-list
// ABOUTME: Covers Google, Apple, and Stytch session JWTs with exp/iat bounds

package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openkeys/keygate/internal/method"
)

// JWTCredential is a signed token from one of the allow-listed issuers.
type JWTCredential struct {
	Token string `json:"token"`
}

// IssuerConfig is one allow-list entry: tokens with this iss claim are
// verified with the given public key and resolve to the given method type.
type IssuerConfig struct {
	Issuer       string      `yaml:"issuer"`
	Type         method.Type `yaml:"auth_method_type"`
	PublicKeyPEM string      `yaml:"public_key"`
}

// issuerKey is a parsed allow-list entry.
type issuerKey struct {
	typ method.Type
	key any
}

// jwtVerifier validates JWTs for every issuer-backed method type.
type jwtVerifier struct {
	issuers map[string]issuerKey
	parser  *jwt.Parser
}

// newJWTVerifier parses the allow-list public keys up front so a bad key
// fails at startup, not on the first request.
func newJWTVerifier(issuers []IssuerConfig) (*jwtVerifier, error) {
	v := &jwtVerifier{
		issuers: make(map[string]issuerKey, len(issuers)),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA"}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
	for _, iss := range issuers {
		if iss.Issuer == "" {
			return nil, fmt.Errorf("issuer entry missing issuer url")
		}
		// Only JWT kinds may be issuer-backed. A non-JWT type here would
		// shadow the built-in verifier registered for that kind.
		if iss.Type != method.TypeGoogleJWT && iss.Type != method.TypeAppleJWT && iss.Type != method.TypeStytchJWT {
			return nil, fmt.Errorf("issuer %s: type %s is not a jwt kind", iss.Issuer, iss.Type)
		}
		key, err := parsePublicKeyPEM(iss.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", iss.Issuer, err)
		}
		v.issuers[iss.Issuer] = issuerKey{typ: iss.Type, key: key}
	}
	return v, nil
}

// parsePublicKeyPEM accepts RSA, EC, or Ed25519 public keys in PEM form.
func parsePublicKeyPEM(pemStr string) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemStr)); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM([]byte(pemStr)); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pemStr)); err == nil {
		return key, nil
	}
	return nil, errors.New("public key is not valid RSA, EC, or Ed25519 PEM")
}

func (v *jwtVerifier) verify(_ context.Context, cred Credential) (method.CanonicalID, error) {
	req := cred.JWT
	if req == nil {
		return method.CanonicalID{}, fmt.Errorf("%w: missing jwt payload", ErrMalformedCredential)
	}

	var matched issuerKey
	token, err := v.parser.Parse(req.Token, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, errors.New("token has no issuer")
		}
		entry, ok := v.issuers[iss]
		if !ok {
			return nil, fmt.Errorf("issuer %q not in allow-list", iss)
		}
		if entry.typ != cred.Type {
			return nil, fmt.Errorf("issuer %q does not serve method type %s", iss, cred.Type)
		}
		matched = entry
		return entry.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return method.CanonicalID{}, fmt.Errorf("%w: %v", ErrExpiredCredential, err)
		}
		return method.CanonicalID{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return method.CanonicalID{}, ErrInvalidSignature
	}

	iss, err := token.Claims.GetIssuer()
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: reading issuer: %v", ErrMalformedCredential, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return method.CanonicalID{}, fmt.Errorf("%w: token has no subject", ErrMalformedCredential)
	}

	// Canonical id binds the stable (issuer, subject) pair. Mutable
	// claims like email never feed the id.
	sum := sha256.Sum256([]byte(iss + ":" + sub))

	return method.CanonicalID{
		Type:   matched.typ,
		ID:     "0x" + hex.EncodeToString(sum[:]),
		UserID: sub,
		AppID:  iss,
	}, nil
}
