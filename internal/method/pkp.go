// ABOUTME: PKP identity helpers deriving ids and addresses from public keys
// ABOUTME: Uses keccak-256 over the uncompressed secp256k1 public key

package method

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// PKP identifies a distributed key pair. The id is derived from the
// public key and is immutable once the key is minted.
type PKP struct {
	ID        string // 0x-prefixed keccak-256 of the uncompressed public key
	PublicKey string // 0x-prefixed uncompressed secp256k1 public key (65 bytes)
}

// DerivePKPID computes the PKP id for an uncompressed secp256k1 public
// key given as hex (with or without 0x prefix, 65 bytes starting 0x04).
func DerivePKPID(publicKeyHex string) (string, error) {
	raw, err := decodePublicKey(publicKeyHex)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256(raw)), nil
}

// PKPAddress computes the eth-style address controlled by the PKP's
// public key. Session delegations are verified against this address.
func PKPAddress(publicKeyHex string) (string, error) {
	raw, err := decodePublicKey(publicKeyHex)
	if err != nil {
		return "", err
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// decodePublicKey decodes a hex public key and checks the uncompressed
// secp256k1 shape.
func decodePublicKey(publicKeyHex string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(publicKeyHex), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("public key must be 65 uncompressed bytes, got %d", len(raw))
	}
	return raw, nil
}
