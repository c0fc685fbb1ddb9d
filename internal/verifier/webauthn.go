// ABOUTME: WebAuthn assertion verification against a registered COSE public key
// ABOUTME: Checks challenge, origin, RP id hash, and the assertion signature

package verifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/openkeys/keygate/internal/method"
)

// WebAuthnCredential carries a raw assertion response plus the ceremony
// parameters and the credential public key registered for the
// authenticator. The public key travels with the request because the
// binding that matters lives in the permission ledger, not in a local
// user table.
type WebAuthnCredential struct {
	AssertionResponse []byte `json:"assertionResponse"` // PublicKeyCredential JSON from navigator.credentials.get
	Challenge         string `json:"challenge"`         // base64url challenge issued for this ceremony
	Origin            string `json:"origin"`            // expected web origin
	RPID              string `json:"rpId"`              // expected relying party id
	PublicKey         []byte `json:"publicKey"`         // registered COSE credential public key
}

type webAuthnVerifier struct{}

func (w *webAuthnVerifier) verify(_ context.Context, cred Credential) (method.CanonicalID, error) {
	req := cred.WebAuthn
	if req == nil {
		return method.CanonicalID{}, fmt.Errorf("%w: missing webauthn payload", ErrMalformedCredential)
	}
	if len(req.PublicKey) == 0 {
		return method.CanonicalID{}, fmt.Errorf("%w: missing credential public key", ErrMalformedCredential)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.AssertionResponse))
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: parsing assertion: %v", ErrMalformedCredential, err)
	}

	clientData := parsed.Response.CollectedClientData
	if clientData.Type != protocol.AssertCeremony {
		return method.CanonicalID{}, fmt.Errorf("%w: ceremony type %q", ErrInvalidSignature, clientData.Type)
	}
	if clientData.Challenge != req.Challenge {
		return method.CanonicalID{}, fmt.Errorf("%w: challenge mismatch", ErrInvalidSignature)
	}
	if clientData.Origin != req.Origin {
		return method.CanonicalID{}, fmt.Errorf("%w: origin %q not allowed", ErrInvalidSignature, clientData.Origin)
	}

	rpIDHash := sha256.Sum256([]byte(req.RPID))
	if !bytes.Equal(rpIDHash[:], parsed.Response.AuthenticatorData.RPIDHash) {
		return method.CanonicalID{}, fmt.Errorf("%w: rp id hash mismatch", ErrInvalidSignature)
	}
	if !parsed.Response.AuthenticatorData.Flags.UserPresent() {
		return method.CanonicalID{}, fmt.Errorf("%w: user presence flag not set", ErrInvalidSignature)
	}

	// The authenticator signs rawAuthData || sha256(clientDataJSON).
	clientDataHash := sha256.Sum256(parsed.Raw.AssertionResponse.ClientDataJSON)
	signedData := append([]byte{}, parsed.Raw.AssertionResponse.AuthenticatorData...)
	signedData = append(signedData, clientDataHash[:]...)

	key, err := webauthncose.ParsePublicKey(req.PublicKey)
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: parsing credential key: %v", ErrMalformedCredential, err)
	}
	valid, err := webauthncose.VerifySignature(key, signedData, parsed.Response.Signature)
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return method.CanonicalID{}, fmt.Errorf("%w: assertion signature rejected", ErrInvalidSignature)
	}

	idHash := sha256.Sum256(parsed.RawID)
	return method.CanonicalID{
		Type:   method.TypeWebAuthn,
		ID:     "0x" + hex.EncodeToString(idHash[:]),
		UserID: parsed.ID,
	}, nil
}
