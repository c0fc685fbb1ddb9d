// ABOUTME: Session delegation validation against the PKP's public key
// ABOUTME: Checks expiry, binding fields, and the PKP signature over the statement

package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openkeys/keygate/internal/method"
)

// Validation errors.
var (
	ErrDelegationExpired = errors.New("session delegation expired")
	ErrDelegationInvalid = errors.New("session delegation invalid")
)

// Validate checks a delegation against the expected session key, PKP,
// and the PKP's public key. now is injected so callers control the
// clock. A delegation is never renewed: once expired, a new one must be
// minted.
func Validate(d *Delegation, sessionPublicKey, pkpID, pkpPublicKey string, now time.Time) error {
	if d == nil {
		return fmt.Errorf("%w: nil delegation", ErrDelegationInvalid)
	}

	sessionKey, err := normalizeSessionKey(sessionPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelegationInvalid, err)
	}
	if d.SessionPublicKey != sessionKey {
		return fmt.Errorf("%w: session key mismatch", ErrDelegationInvalid)
	}
	if d.PKPID != pkpID {
		return fmt.Errorf("%w: pkp mismatch", ErrDelegationInvalid)
	}
	if !now.Before(time.Unix(d.Expiry, 0)) {
		return fmt.Errorf("%w: expired at %s", ErrDelegationExpired, time.Unix(d.Expiry, 0).UTC().Format(time.RFC3339))
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(d.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: signature not hex: %v", ErrDelegationInvalid, err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("%w: signature is %d bytes, want 65", ErrDelegationInvalid, len(sig))
	}
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	if recSig[64] > 1 {
		return fmt.Errorf("%w: bad recovery id", ErrDelegationInvalid)
	}

	pub, err := crypto.SigToPub(d.Statement().SigningHash(), recSig)
	if err != nil {
		return fmt.Errorf("%w: recovering signer: %v", ErrDelegationInvalid, err)
	}
	signerAddr := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())

	pkpAddr, err := method.PKPAddress(pkpPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelegationInvalid, err)
	}
	if signerAddr != pkpAddr {
		return fmt.Errorf("%w: statement not signed by the PKP", ErrDelegationInvalid)
	}
	return nil
}
