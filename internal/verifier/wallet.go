// ABOUTME: Wallet address credential verification via EIP-191 personal-sign recovery
// ABOUTME: Recovers the signer address and enforces timestamp and nonce freshness

package verifier

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/replay"
)

// WalletCredential is an EIP-191 personal-sign signature over the fixed
// sign-in message for the given timestamp and nonce.
type WalletCredential struct {
	Signature string `json:"signature"` // hex, 65 bytes (r || s || v)
	Timestamp int64  `json:"timestamp"` // unix seconds the message was signed
	Nonce     string `json:"nonce"`     // random one-time string
}

// walletSignInMessage is the exact text the wallet signs.
func walletSignInMessage(timestamp int64, nonce string) string {
	return fmt.Sprintf("keygate wallet auth\nTimestamp: %d\nNonce: %s", timestamp, nonce)
}

// walletVerifier recovers the signer address from a personal-sign
// signature and tracks nonces to prevent replay.
type walletVerifier struct {
	maxAge time.Duration
	nonces *replay.Tracker
}

func (w *walletVerifier) verify(_ context.Context, cred Credential) (method.CanonicalID, error) {
	req := cred.Wallet
	if req == nil {
		return method.CanonicalID{}, fmt.Errorf("%w: missing wallet payload", ErrMalformedCredential)
	}
	if req.Nonce == "" {
		return method.CanonicalID{}, fmt.Errorf("%w: missing nonce", ErrMalformedCredential)
	}

	// Check the timestamp window before doing any crypto.
	signedAt := time.Unix(req.Timestamp, 0)
	age := time.Since(signedAt)
	if age < 0 {
		// Allow small clock skew for timestamps slightly in the future.
		if age < -time.Minute {
			return method.CanonicalID{}, fmt.Errorf("%w: timestamp in the future", ErrExpiredCredential)
		}
	} else if age > w.maxAge {
		return method.CanonicalID{}, fmt.Errorf("%w: signed %v ago, max %v", ErrExpiredCredential, age.Round(time.Second), w.maxAge)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: signature not hex: %v", ErrMalformedCredential, err)
	}
	if len(sig) != 65 {
		return method.CanonicalID{}, fmt.Errorf("%w: signature is %d bytes, want 65", ErrMalformedCredential, len(sig))
	}

	// Normalize the recovery id: wallets emit 27/28, recovery wants 0/1.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	if recSig[64] > 1 {
		return method.CanonicalID{}, fmt.Errorf("%w: bad recovery id %d", ErrInvalidSignature, sig[64])
	}

	hash := personalSignHash(walletSignInMessage(req.Timestamp, req.Nonce))
	pub, err := crypto.SigToPub(hash, recSig)
	if err != nil {
		return method.CanonicalID{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	address := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())

	// The nonce key includes the address so one wallet's nonce cannot be
	// burned by another. Consume is atomic to avoid a TOCTOU race between
	// concurrent presentations.
	nonceKey := fmt.Sprintf("%s:%d:%s", address, req.Timestamp, req.Nonce)
	if !w.nonces.Consume(nonceKey) {
		return method.CanonicalID{}, fmt.Errorf("%w: nonce already used", ErrInvalidSignature)
	}

	return method.CanonicalID{
		Type:   method.TypeAddress,
		ID:     address,
		UserID: address,
	}, nil
}

// personalSignHash computes the EIP-191 personal-sign digest of a message.
func personalSignHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
