// ABOUTME: Auth method type and scope enumerations with stable wire constants
// ABOUTME: Defines AuthMethod, CanonicalID, and the ScopeSet operations

package method

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies a credential kind. Values are stable wire constants.
type Type uint32

const (
	TypeNull      Type = 0 // reserved, never valid
	TypeAddress   Type = 1
	TypeAction    Type = 2
	TypeWebAuthn  Type = 3
	TypeDiscord   Type = 4
	TypeGoogle    Type = 5
	TypeGoogleJWT Type = 6
	// 7 reserved/unused
	TypeAppleJWT          Type = 8
	TypeStytchJWT         Type = 9
	TypeStytchEmailOTP    Type = 10
	TypeStytchSMSOTP      Type = 11
	TypeStytchWhatsAppOTP Type = 12
	TypeStytchTOTP        Type = 13
)

// typeNames maps each valid type to its display name.
var typeNames = map[Type]string{
	TypeAddress:           "address",
	TypeAction:            "action",
	TypeWebAuthn:          "webauthn",
	TypeDiscord:           "discord",
	TypeGoogle:            "google",
	TypeGoogleJWT:         "google-jwt",
	TypeAppleJWT:          "apple-jwt",
	TypeStytchJWT:         "stytch-jwt",
	TypeStytchEmailOTP:    "stytch-email-otp",
	TypeStytchSMSOTP:      "stytch-sms-otp",
	TypeStytchWhatsAppOTP: "stytch-whatsapp-otp",
	TypeStytchTOTP:        "stytch-totp",
}

// Valid reports whether t is a defined, usable auth method type.
// Type 0 and unassigned values are invalid.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// String returns the display name for the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Scope is a capability granted to an auth method for a PKP.
type Scope uint32

const (
	ScopeSignAnything     Scope = 1
	ScopeOnlySignMessages Scope = 2
)

// Valid reports whether s is a defined scope.
func (s Scope) Valid() bool {
	return s == ScopeSignAnything || s == ScopeOnlySignMessages
}

// String returns the display name for the scope.
func (s Scope) String() string {
	switch s {
	case ScopeSignAnything:
		return "sign-anything"
	case ScopeOnlySignMessages:
		return "only-sign-messages"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// ScopeSet is the set of scopes granted to an auth method. An empty set
// means authentication-only: the method can never authorize anything.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether the set includes the scope. Membership is
// exact: ScopeSignAnything does not imply ScopeOnlySignMessages.
func (ss ScopeSet) Contains(s Scope) bool {
	_, ok := ss[s]
	return ok
}

// Add returns the set with the scope included.
func (ss ScopeSet) Add(s Scope) ScopeSet {
	ss[s] = struct{}{}
	return ss
}

// Remove deletes the scope from the set. Removing an absent scope is a
// no-op.
func (ss ScopeSet) Remove(s Scope) {
	delete(ss, s)
}

// Slice returns the scopes in ascending wire order.
func (ss ScopeSet) Slice() []Scope {
	out := make([]Scope, 0, len(ss))
	for s := range ss {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set.
func (ss ScopeSet) Clone() ScopeSet {
	out := make(ScopeSet, len(ss))
	for s := range ss {
		out[s] = struct{}{}
	}
	return out
}

// String renders the set as a comma-separated list in wire order.
func (ss ScopeSet) String() string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss.Slice() {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}

// AuthMethod is a (type, id) pair bound to a PKP in the permission ledger.
type AuthMethod struct {
	Type Type
	ID   string
}

// Key returns the ledger lookup key for the method.
func (m AuthMethod) Key() string {
	return fmt.Sprintf("%d:%s", uint32(m.Type), m.ID)
}

// CanonicalID is the output of credential verification: the auth method
// the credential resolves to, plus the provider-specific decomposition
// used when assembling an identity context. UserID and AppID are
// informational; authorization decisions key off (Type, ID) only.
type CanonicalID struct {
	Type   Type
	ID     string
	UserID string // provider subject (JWT sub, OAuth user id, address, ...)
	AppID  string // provider application (JWT iss, OAuth client, ...)
}

// Method returns the auth method the canonical id resolves to.
func (c CanonicalID) Method() AuthMethod {
	return AuthMethod{Type: c.Type, ID: c.ID}
}
