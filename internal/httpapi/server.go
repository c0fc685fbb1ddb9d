// ABOUTME: HTTP API server wiring for the authorization engine
// ABOUTME: Routes JSON endpoints for verification, identity, authorization, and sessions

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/ledger"
	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/replay"
	"github.com/openkeys/keygate/internal/scope"
	"github.com/openkeys/keygate/internal/session"
	"github.com/openkeys/keygate/internal/verifier"
)

// GrantLister is the optional listing capability of a ledger backend.
type GrantLister interface {
	ListGrants(ctx context.Context, pkpID string) ([]*ledger.Grant, error)
}

// cacheInvalidator drops cached read entries after a local mutation.
type cacheInvalidator interface {
	Invalidate(pkpID string, m method.AuthMethod)
}

// Server exposes the authorization engine over HTTP. All endpoints speak
// JSON; errors are {"error": "..."} bodies with a matching status code.
type Server struct {
	verifier   *verifier.Verifier
	builder    *authctx.Builder
	enforcer   *scope.Enforcer
	authorizer *session.Authorizer
	writer     ledger.Writer
	lister     GrantLister
	cache      cacheInvalidator
	keys       PKPKeyResolver
	nonces     *replay.Tracker
	logger     *slog.Logger

	httpServer *http.Server
}

// Config carries the server's collaborators. Writer and the listing
// capability come from the same backend in practice but are kept
// separate so read-only deployments can omit mutation entirely.
type Config struct {
	Addr       string
	Verifier   *verifier.Verifier
	Builder    *authctx.Builder
	Enforcer   *scope.Enforcer
	Authorizer *session.Authorizer
	Writer     ledger.Writer
	Lister     GrantLister

	// Cache, when set, is invalidated after grant mutations so local
	// revocations take effect before the cache TTL runs out.
	Cache cacheInvalidator

	// Keys, when set, puts the grant-admin endpoints behind session
	// delegation auth. Without a resolver the endpoints are open, for
	// single-operator deployments behind their own perimeter.
	Keys PKPKeyResolver

	// RequestNonceTTL bounds how long a session request nonce stays
	// consumed. Defaults to 5 minutes. Only meaningful with Keys set.
	RequestNonceTTL time.Duration
}

// NewServer creates the HTTP API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		verifier:   cfg.Verifier,
		builder:    cfg.Builder,
		enforcer:   cfg.Enforcer,
		authorizer: cfg.Authorizer,
		writer:     cfg.Writer,
		lister:     cfg.Lister,
		cache:      cfg.Cache,
		keys:       cfg.Keys,
		logger:     slog.Default().With("component", "httpapi"),
	}
	if cfg.Keys != nil {
		ttl := cfg.RequestNonceTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		s.nonces = replay.NewTracker(ttl, 10000)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes builds the endpoint mux. Grant administration mutates the
// ledger, so it sits behind session auth when a key resolver is
// configured.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verify", s.handleVerify)
	mux.HandleFunc("/api/context", s.handleContext)
	mux.HandleFunc("/api/authorize", s.handleAuthorize)
	mux.HandleFunc("/api/session/mint", s.handleSessionMint)
	mux.HandleFunc("/api/session/validate", s.handleSessionValidate)
	grants := http.Handler(http.HandlerFunc(s.handleGrants))
	if s.keys != nil {
		grants = SessionAuthMiddleware(s.keys, s.nonces)(grants)
	}
	mux.Handle("/api/grants", grants)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the server until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.nonces != nil {
		s.nonces.Close()
	}
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes a JSON response body.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// scopeFromWire maps a wire scope value, rejecting undefined ones.
func scopeFromWire(v uint32) (method.Scope, bool) {
	sc := method.Scope(v)
	return sc, sc.Valid()
}
