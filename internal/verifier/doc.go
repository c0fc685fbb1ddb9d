// ABOUTME: Package doc for the verifier package
// ABOUTME: Explains credential kinds, canonical ids, and trust boundaries

// Package verifier resolves raw external credentials into canonical auth
// method identities.
//
// # Credential Kinds
//
// Each supported kind has its own validation rules:
//
//   - Address: EIP-191 personal-sign signature over the fixed sign-in
//     message; the signer address is the canonical id.
//   - Action: IPFS CID of the executing action, canonicalized.
//   - WebAuthn: assertion verified against the registered COSE key;
//     canonical id is the hashed credential id.
//   - Discord/Google OAuth: remote userinfo introspection; canonical id
//     hashes (user id, app id).
//   - Google/Apple/Stytch JWTs: signature checked against the issuer
//     allow-list; canonical id hashes (issuer, subject).
//   - Stytch OTP kinds: service-issued token verified with the fixed
//     OTP issuer key; canonical id hashes (channel, destination).
//
// Verification is pure and idempotent. Verifiers never read or write the
// permission ledger; resolving scopes is the enforcer's job.
//
// # Residual Trust
//
// Canonical ids are derived from identifiers the upstream provider
// declares stable (JWT subject, OTP destination). If a provider allows
// an account admin to reassign such an identifier, the resulting
// confused-deputy risk belongs to that provider. This core cannot detect
// the reassignment.
package verifier
