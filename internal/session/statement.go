// ABOUTME: Canonical session delegation statement construction and hashing
// ABOUTME: SIWE-style text binding a session key to a PKP for a bounded interval

package session

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// statementVersion is bumped only for incompatible statement changes.
const statementVersion = "1"

// Statement is the canonical authorization text the PKP signs. It is
// both human readable and reconstructible from the delegation fields, so
// a validator never needs to store the original text.
type Statement struct {
	PKPID            string
	SessionPublicKey string // hex, no 0x prefix
	Nonce            string
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// String renders the canonical text. Every field is line-oriented; the
// rendering is byte-exact for a given field set.
func (s Statement) String() string {
	return fmt.Sprintf(
		"keygate wants you to sign in with your programmable key pair:\n"+
			"%s\n"+
			"\n"+
			"URI: session:%s\n"+
			"Version: %s\n"+
			"Nonce: %s\n"+
			"Issued At: %s\n"+
			"Expiration Time: %s",
		s.PKPID,
		s.SessionPublicKey,
		statementVersion,
		s.Nonce,
		s.IssuedAt.UTC().Format(time.RFC3339),
		s.ExpiresAt.UTC().Format(time.RFC3339),
	)
}

// SigningHash returns the EIP-191 personal-sign digest of the statement,
// the exact bytes the distributed signer commits to.
func (s Statement) SigningHash() []byte {
	text := s.String()
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(text), text)
	return crypto.Keccak256([]byte(prefixed))
}
