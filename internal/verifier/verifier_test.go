// ABOUTME: Tests for credential dispatch and batch verification
// ABOUTME: Covers unsupported kinds, action CIDs, webauthn parsing, batch ordering

package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openkeys/keygate/internal/method"
)

func TestVerify_UnsupportedKinds(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name string
		typ  method.Type
	}{
		{"null type", method.TypeNull},
		{"reserved type 7", method.Type(7)},
		{"unassigned type", method.Type(42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), Credential{Type: tt.typ})
			if !errors.Is(err, ErrUnsupportedMethod) {
				t.Errorf("error = %v, want ErrUnsupportedMethod", err)
			}
		})
	}
}

func TestVerify_UnconfiguredKind(t *testing.T) {
	// No issuers configured: the GoogleJWT kind is valid but not served.
	v := newTestVerifier(t)

	_, err := v.Verify(context.Background(), Credential{
		Type: method.TypeGoogleJWT,
		JWT:  &JWTCredential{Token: "x"},
	})
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("error = %v, want ErrUnsupportedMethod", err)
	}
}

func TestAction_ValidCID(t *testing.T) {
	v := newTestVerifier(t)

	const actionCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	id, err := v.Verify(context.Background(), Credential{
		Type:   method.TypeAction,
		Action: &ActionCredential{CID: actionCID},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Type != method.TypeAction || id.ID != actionCID {
		t.Errorf("canonical id = (%s, %q), want (action, %q)", id.Type, id.ID, actionCID)
	}
}

func TestAction_InvalidCID(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name string
		cid  string
	}{
		{"empty", ""},
		{"garbage", "not-a-cid"},
		{"truncated", "QmYwAP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), Credential{
				Type:   method.TypeAction,
				Action: &ActionCredential{CID: tt.cid},
			})
			if !errors.Is(err, ErrMalformedCredential) {
				t.Errorf("error = %v, want ErrMalformedCredential", err)
			}
		})
	}
}

func TestWebAuthn_MalformedPayloads(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name string
		cred *WebAuthnCredential
	}{
		{"missing payload", nil},
		{"missing public key", &WebAuthnCredential{AssertionResponse: []byte(`{}`)}},
		{"bad assertion json", &WebAuthnCredential{
			AssertionResponse: []byte(`not json`),
			PublicKey:         []byte{1, 2, 3},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), Credential{
				Type:     method.TypeWebAuthn,
				WebAuthn: tt.cred,
			})
			if !errors.Is(err, ErrMalformedCredential) {
				t.Errorf("error = %v, want ErrMalformedCredential", err)
			}
		})
	}
}

func TestVerifyBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	v := newTestVerifier(t)
	key, _ := crypto.GenerateKey()
	now := time.Now().Unix()

	creds := []Credential{
		signWallet(t, key, now, "batch-nonce-0"),
		{Type: method.TypeNull}, // fails: unsupported
		{Type: method.TypeAction, Action: &ActionCredential{CID: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}},
	}

	results := v.VerifyBatch(context.Background(), creds)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("results[0] error = %v", results[0].Err)
	}
	if results[0].ID.Type != method.TypeAddress {
		t.Errorf("results[0] type = %s, want address", results[0].ID.Type)
	}
	if !errors.Is(results[1].Err, ErrUnsupportedMethod) {
		t.Errorf("results[1] error = %v, want ErrUnsupportedMethod", results[1].Err)
	}
	// The failing credential must not poison its neighbors.
	if results[2].Err != nil {
		t.Errorf("results[2] error = %v", results[2].Err)
	}
	if results[2].ID.Type != method.TypeAction {
		t.Errorf("results[2] type = %s, want action", results[2].ID.Type)
	}
}

func TestVerifyBatch_Empty(t *testing.T) {
	v := newTestVerifier(t)
	results := v.VerifyBatch(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("got %d results for empty batch", len(results))
	}
}
