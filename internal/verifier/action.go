// ABOUTME: Action credential verification for IPFS-addressed actions
// ABOUTME: Validates the action CID and canonicalizes it as the method id

package verifier

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/openkeys/keygate/internal/method"
)

// ActionCredential identifies the action currently executing by its IPFS
// CID. The caller (the action runtime) asserts the CID; this verifier
// only canonicalizes it. Trust in the assertion comes from the runtime
// boundary, the same way the original contract trusts its own callers.
type ActionCredential struct {
	CID string `json:"cid"`
}

type actionVerifier struct{}

func (a *actionVerifier) verify(_ context.Context, cred Credential) (method.CanonicalID, error) {
	req := cred.Action
	if req == nil {
		return method.CanonicalID{}, fmt.Errorf("%w: missing action payload", ErrMalformedCredential)
	}

	c, err := cid.Decode(req.CID)
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: invalid action cid: %v", ErrMalformedCredential, err)
	}

	// Canonical form, not the caller's spelling: two encodings of the
	// same CID must resolve to the same auth method id.
	canonical := c.String()

	return method.CanonicalID{
		Type:   method.TypeAction,
		ID:     canonical,
		UserID: canonical,
	}, nil
}
