// ABOUTME: Package doc for the method package
// ABOUTME: Describes auth method types, scopes, and canonical identities

// Package method defines the core data model for the authorization engine.
//
// # Auth Methods
//
// An auth method is a (type, id) pair bound to a PKP in the permission
// ledger. The type identifies the credential kind (wallet address, action,
// WebAuthn, OAuth provider, JWT issuer, OTP channel); the id is an opaque
// string derived deterministically from the credential by the verifier.
//
// Type values are stable wire constants and must never be renumbered.
// Type 0 is reserved and never valid.
//
// # Scopes
//
// A scope is a capability granted to an auth method for a PKP:
//
//   - SignAnything (1): authorize any signing operation
//   - OnlySignMessages (2): authorize message signing only
//
// Scopes are not hierarchical. SignAnything does not imply
// OnlySignMessages; each scope must be granted explicitly. An auth method
// with an empty scope set is authentication-only and can never authorize
// a signing operation.
//
// # PKP Identity
//
// A PKP is addressed by an id derived from its uncompressed secp256k1
// public key (keccak-256 of the key bytes), the same derivation used for
// eth-style token ids.
package method
