// ABOUTME: Local secp256k1 signer for development and single-node deployments
// ABOUTME: Stands in for the distributed quorum signer behind the Signer interface

package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs with one in-process key. Production deployments
// replace it with a client for the distributed signing quorum; the rest
// of the engine cannot tell the difference.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner wraps an existing key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// NewLocalSignerFromHex parses a hex-encoded secp256k1 private key.
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing signer key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

// Sign produces a 65-byte recoverable signature over the digest. The
// pkpID parameter is ignored: a local signer holds exactly one key.
func (s *LocalSigner) Sign(_ context.Context, _ string, digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

// PublicKeyHex returns the signer's uncompressed public key with a 0x
// prefix, the form PKP ids are derived from.
func (s *LocalSigner) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSAPub(&s.key.PublicKey))
}
