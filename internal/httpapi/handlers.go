// ABOUTME: JSON HTTP handlers for credential verification and authorization decisions
// ABOUTME: Maps engine error taxonomy onto HTTP status codes

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openkeys/keygate/internal/ledger"
	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/scope"
	"github.com/openkeys/keygate/internal/session"
	"github.com/openkeys/keygate/internal/verifier"
)

// VerifyRequest is the JSON request body for POST /api/verify.
type VerifyRequest struct {
	Credentials []verifier.Credential `json:"credentials"`
}

// VerifyResult is one entry of the verification response. Exactly one of
// the identity fields or Error is meaningful.
type VerifyResult struct {
	AuthMethodType uint32 `json:"authMethodType"`
	AuthMethodID   string `json:"authMethodId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	AppID          string `json:"appId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// VerifyResponse is the JSON response for POST /api/verify.
type VerifyResponse struct {
	Results []VerifyResult `json:"results"`
}

// ContextRequest is the JSON request body for POST /api/context and
// POST /api/authorize.
type ContextRequest struct {
	PKPID       string                `json:"pkpId"`
	Credentials []verifier.Credential `json:"credentials"`
	ActionChain []string              `json:"actionChain,omitempty"`
	Scope       uint32                `json:"scope,omitempty"` // authorize only
}

// AuthorizeResponse is the JSON response for POST /api/authorize.
type AuthorizeResponse struct {
	Authorized bool `json:"authorized"`
}

// MintRequest is the JSON request body for POST /api/session/mint.
type MintRequest struct {
	PKPID            string              `json:"pkpId"`
	SessionPublicKey string              `json:"sessionPublicKey"`
	LifetimeSeconds  int64               `json:"lifetimeSeconds"`
	Credential       verifier.Credential `json:"credential"`
}

// ValidateRequest is the JSON request body for POST /api/session/validate.
type ValidateRequest struct {
	Delegation       session.Delegation `json:"delegation"`
	SessionPublicKey string             `json:"sessionPublicKey"`
	PKPID            string             `json:"pkpId"`
	PKPPublicKey     string             `json:"pkpPublicKey"`
}

// ValidateResponse is the JSON response for POST /api/session/validate.
// Invalid delegations are a decision, not a transport failure: the
// endpoint answers 200 with valid=false and a reason.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// GrantRequest is the JSON request body for POST /api/grants.
type GrantRequest struct {
	PKPID          string   `json:"pkpId"`
	AuthMethodType uint32   `json:"authMethodType"`
	AuthMethodID   string   `json:"authMethodId"`
	Scopes         []uint32 `json:"scopes"`
}

// GrantResponse is one grant row in admin listings.
type GrantResponse struct {
	PKPID          string   `json:"pkpId"`
	AuthMethodType uint32   `json:"authMethodType"`
	AuthMethodID   string   `json:"authMethodId"`
	Scopes         []uint32 `json:"scopes"`
}

// handleVerify handles POST /api/verify. Credentials are verified
// concurrently; per-credential failures are reported in their slot and
// never abort the batch.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Credentials) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "credentials are required")
		return
	}

	results := s.verifier.VerifyBatch(r.Context(), req.Credentials)
	resp := VerifyResponse{Results: make([]VerifyResult, len(results))}
	for i, res := range results {
		entry := VerifyResult{AuthMethodType: uint32(req.Credentials[i].Type)}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		} else {
			entry.AuthMethodID = res.ID.ID
			entry.UserID = res.ID.UserID
			entry.AppID = res.ID.AppID
		}
		resp.Results[i] = entry
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleContext handles POST /api/context. It verifies the presented
// credentials and returns the assembled identity context in wire shape.
// Verification failures are local to one credential: a failed entry is
// excluded from the context and the rest are kept.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, verified, ok := s.verifyForIdentity(w, r)
	if !ok {
		return
	}

	identity, err := s.builder.Build(req.PKPID, verified, req.ActionChain)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, identity.Wire())
}

// handleAuthorize handles POST /api/authorize. It verifies credentials,
// assembles the identity, and answers whether any presented method holds
// the requested scope on the PKP.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, verified, ok := s.verifyForIdentity(w, r)
	if !ok {
		return
	}
	sc, ok := scopeFromWire(req.Scope)
	if !ok {
		s.sendJSONError(w, http.StatusBadRequest, "scope is not a known value")
		return
	}

	identity, err := s.builder.Build(req.PKPID, verified, req.ActionChain)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	allowed, err := s.enforcer.Authorize(r.Context(), identity, req.PKPID, sc)
	if errors.Is(err, scope.ErrAuthorizationUnavailable) {
		s.sendJSONError(w, http.StatusServiceUnavailable, "authorization unavailable")
		return
	}
	if err != nil {
		s.logger.Error("authorization failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, AuthorizeResponse{Authorized: allowed})
}

// verifyForIdentity parses a ContextRequest and verifies its credential
// batch. Failed credentials are dropped, not fatal: the identity is
// assembled from whatever verified. Downstream scope checks deny an
// empty identity anyway.
func (s *Server) verifyForIdentity(w http.ResponseWriter, r *http.Request) (*ContextRequest, []method.CanonicalID, bool) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, nil, false
	}
	if req.PKPID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "pkpId is required")
		return nil, nil, false
	}

	results := s.verifier.VerifyBatch(r.Context(), req.Credentials)
	verified := make([]method.CanonicalID, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			s.logger.Debug("credential excluded from identity",
				"auth_method_type", uint32(req.Credentials[i].Type),
				"error", res.Err,
			)
			continue
		}
		verified = append(verified, res.ID)
	}
	return &req, verified, true
}

// handleSessionMint handles POST /api/session/mint.
func (s *Server) handleSessionMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PKPID == "" || req.SessionPublicKey == "" {
		s.sendJSONError(w, http.StatusBadRequest, "pkpId and sessionPublicKey are required")
		return
	}

	id, err := s.verifier.Verify(r.Context(), req.Credential)
	if err != nil {
		s.sendJSONError(w, verificationStatus(err), err.Error())
		return
	}

	lifetime := time.Duration(req.LifetimeSeconds) * time.Second
	d, err := s.authorizer.Mint(r.Context(), id, req.PKPID, req.SessionPublicKey, lifetime)
	if err != nil {
		s.sendJSONError(w, mintStatus(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleSessionValidate handles POST /api/session/validate.
func (s *Server) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := session.Validate(&req.Delegation, req.SessionPublicKey, req.PKPID, req.PKPPublicKey, time.Now())
	resp := ValidateResponse{Valid: err == nil}
	if err != nil {
		resp.Reason = err.Error()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleGrants dispatches admin grant operations by HTTP method.
func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListGrants(w, r)
	case http.MethodPost:
		s.handleCreateGrant(w, r)
	case http.MethodDelete:
		s.handleDeleteGrant(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListGrants handles GET /api/grants?pkp_id=X.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		s.sendJSONError(w, http.StatusNotImplemented, "grant listing not supported by this backend")
		return
	}
	pkpID := r.URL.Query().Get("pkp_id")
	if pkpID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "pkp_id query param required")
		return
	}

	grants, err := s.lister.ListGrants(r.Context(), pkpID)
	if err != nil {
		s.ledgerError(w, err)
		return
	}

	resp := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		scopes := make([]uint32, 0)
		for _, sc := range g.Scopes.Slice() {
			scopes = append(scopes, uint32(sc))
		}
		resp = append(resp, GrantResponse{
			PKPID:          g.PKPID,
			AuthMethodType: uint32(g.Method.Type),
			AuthMethodID:   g.Method.ID,
			Scopes:         scopes,
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleCreateGrant handles POST /api/grants. It registers the auth
// method, replacing any existing scope set for the pair.
func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		s.sendJSONError(w, http.StatusNotImplemented, "ledger is read-only")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PKPID == "" || req.AuthMethodID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "pkpId and authMethodId are required")
		return
	}
	mt := method.Type(req.AuthMethodType)
	if !mt.Valid() {
		s.sendJSONError(w, http.StatusBadRequest, "authMethodType is not a known type")
		return
	}
	scopes := method.NewScopeSet()
	for _, v := range req.Scopes {
		sc, ok := scopeFromWire(v)
		if !ok {
			s.sendJSONError(w, http.StatusBadRequest, "scopes contain an unknown value")
			return
		}
		scopes.Add(sc)
	}

	m := method.AuthMethod{Type: mt, ID: req.AuthMethodID}
	if err := s.writer.AddAuthMethod(r.Context(), req.PKPID, m, scopes); err != nil {
		s.ledgerError(w, err)
		return
	}
	s.invalidate(req.PKPID, m)
	s.logger.Info("grant created", "pkp_id", req.PKPID, "method", m.Key(), "scopes", scopes.String())
	w.WriteHeader(http.StatusCreated)
}

// handleDeleteGrant handles DELETE /api/grants. With a scope query param
// only that scope is revoked; without one the whole method is removed.
func (s *Server) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		s.sendJSONError(w, http.StatusNotImplemented, "ledger is read-only")
		return
	}

	q := r.URL.Query()
	pkpID := q.Get("pkp_id")
	typeStr := q.Get("auth_method_type")
	methodID := q.Get("auth_method_id")
	if pkpID == "" || typeStr == "" || methodID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "pkp_id, auth_method_type, and auth_method_id query params required")
		return
	}

	typeVal, err := strconv.ParseUint(typeStr, 10, 32)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "auth_method_type must be an integer")
		return
	}
	mt := method.Type(typeVal)
	if !mt.Valid() {
		s.sendJSONError(w, http.StatusBadRequest, "auth_method_type is not a known type")
		return
	}
	m := method.AuthMethod{Type: mt, ID: methodID}

	if scopeStr := q.Get("scope"); scopeStr != "" {
		scopeVal, err := strconv.ParseUint(scopeStr, 10, 32)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "scope must be an integer")
			return
		}
		sc, ok := scopeFromWire(uint32(scopeVal))
		if !ok {
			s.sendJSONError(w, http.StatusBadRequest, "scope is not a known value")
			return
		}
		if err := s.writer.RemoveScope(r.Context(), pkpID, m, sc); err != nil {
			s.ledgerError(w, err)
			return
		}
		s.invalidate(pkpID, m)
		s.logger.Info("scope revoked", "pkp_id", pkpID, "method", m.Key(), "scope", sc.String())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.writer.RemoveAuthMethod(r.Context(), pkpID, m); err != nil {
		s.ledgerError(w, err)
		return
	}
	s.invalidate(pkpID, m)
	s.logger.Info("grant removed", "pkp_id", pkpID, "method", m.Key())
	w.WriteHeader(http.StatusNoContent)
}

// invalidate drops cached entries for a mutated pair, if a cache is wired.
func (s *Server) invalidate(pkpID string, m method.AuthMethod) {
	if s.cache != nil {
		s.cache.Invalidate(pkpID, m)
	}
}

// ledgerError maps a ledger failure to a response.
func (s *Server) ledgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrUnavailable) {
		s.sendJSONError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	s.logger.Error("ledger operation failed", "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// verificationStatus maps a verifier error to an HTTP status.
func verificationStatus(err error) int {
	switch {
	case errors.Is(err, verifier.ErrUnsupportedMethod),
		errors.Is(err, verifier.ErrMalformedCredential):
		return http.StatusBadRequest
	case errors.Is(err, verifier.ErrInvalidSignature),
		errors.Is(err, verifier.ErrExpiredCredential):
		return http.StatusUnauthorized
	case errors.Is(err, verifier.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mintStatus maps a session minting error to an HTTP status.
func mintStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrLifetimeOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInsufficientScope):
		return http.StatusForbidden
	case errors.Is(err, session.ErrSigningUnavailable),
		errors.Is(err, scope.ErrAuthorizationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
