// ABOUTME: Entry point for the keygate authorization engine
// ABOUTME: Serves the HTTP API and provides grant administration commands

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/openkeys/keygate/internal/authctx"
	"github.com/openkeys/keygate/internal/config"
	"github.com/openkeys/keygate/internal/httpapi"
	"github.com/openkeys/keygate/internal/ledger"
	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/scope"
	"github.com/openkeys/keygate/internal/session"
	"github.com/openkeys/keygate/internal/verifier"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                          _
| | _____ _   _  __ _  __ _| |_ ___
| |/ / _ \ | | |/ _' |/ _' | __/ _ \
|   <  __/ |_| | (_| | (_| | ||  __/
|_|\_\___|\__, |\__, |\__,_|\__\___|
          |___/ |___/
`

// getConfigPath returns the path to the keygate config file.
// Priority: KEYGATE_CONFIG env var > XDG_CONFIG_HOME/keygate/config.yaml > ~/.config/keygate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("KEYGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "keygate", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: keygate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                                        Start the authorization engine")
		fmt.Println("  health                                       Check engine health")
		fmt.Println("  grant <pkp-id> <type> <method-id> [scope..]  Register an auth method with scopes")
		fmt.Println("  revoke <pkp-id> <type> <method-id> [scope]   Remove an auth method or one scope")
		fmt.Println("  grants <pkp-id>                              List registered auth methods")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "grant":
		err = runGrant(ctx, os.Args[2:])
	case "revoke":
		err = runRevoke(ctx, os.Args[2:])
	case "grants":
		err = runGrants(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	backend := cfg.Ledger.Backend
	if backend == "" {
		backend = "memory"
	}
	fmt.Printf("Ledger: %s\n", backend)
	fmt.Println()

	logger.Info("starting keygate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"ledger_backend", backend,
	)

	srv, cleanup, err := buildServer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return srv.ListenAndServe(ctx)
}

// buildServer assembles the engine from configuration. The returned
// cleanup closes the ledger store and the verifier's nonce tracker.
func buildServer(cfg *config.Config) (*httpapi.Server, func(), error) {
	var store ledger.Store
	var lister httpapi.GrantLister
	switch cfg.Ledger.Backend {
	case "", "memory":
		m := ledger.NewMemoryLedger()
		store, lister = m, m
	case "sqlite":
		s, err := ledger.NewSQLiteLedger(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening ledger: %w", err)
		}
		store, lister = s, s
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	// Read path: retries under the cache so cached entries are only ever
	// real ledger answers.
	var reads ledger.Ledger = store
	if cfg.Ledger.RetryMaxTries > 0 {
		reads = ledger.NewRetryingLedger(reads, cfg.Ledger.RetryMaxTries, 2*time.Second)
	}
	var cache *ledger.CachedLedger
	if cfg.Ledger.CacheTTL > 0 {
		size := cfg.Ledger.CacheSize
		if size <= 0 {
			size = 4096
		}
		cache = ledger.NewCachedLedger(reads, size, cfg.Ledger.CacheTTL)
		reads = cache
	}

	otpKey, err := cfg.OTPKey()
	if err != nil {
		return nil, nil, err
	}
	v, err := verifier.New(verifier.Config{
		Issuers:            cfg.Issuers.JWT,
		OAuthProviders:     cfg.Issuers.OAuth,
		OTPIssuerPublicKey: otpKey,
		WalletMaxAge:       cfg.Wallet.MaxAge,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("configuring verifier: %w", err)
	}

	enforcer := scope.NewEnforcer(reads)

	minScope, err := cfg.SessionMinScope()
	if err != nil {
		store.Close()
		v.Close()
		return nil, nil, err
	}
	maxLifetime := cfg.Session.MaxLifetime
	if maxLifetime <= 0 {
		maxLifetime = 24 * time.Hour
	}
	authorizer := session.NewAuthorizer(enforcer, loadSigner(), session.Policy{
		MaxLifetime: maxLifetime,
		MinScope:    minScope,
	})

	apiCfg := httpapi.Config{
		Addr:       cfg.Server.HTTPAddr,
		Verifier:   v,
		Builder:    authctx.NewBuilder(),
		Enforcer:   enforcer,
		Authorizer: authorizer,
		Writer:     store,
		Lister:     lister,
	}
	if cache != nil {
		// A typed nil in the interface field would defeat the server's
		// nil check.
		apiCfg.Cache = cache
	}
	if len(cfg.Session.PKPKeys) > 0 {
		apiCfg.Keys = httpapi.StaticKeyResolver(cfg.Session.PKPKeys)
	}
	srv := httpapi.NewServer(apiCfg)

	cleanup := func() {
		v.Close()
		if err := store.Close(); err != nil {
			slog.Error("closing ledger", "error", err)
		}
	}
	return srv, cleanup, nil
}

// loadSigner builds the delegation signer. With KEYGATE_SIGNER_KEY set a
// local in-process key is used; otherwise session minting reports the
// signer as unavailable until a quorum client is configured.
func loadSigner() session.Signer {
	if hexKey := os.Getenv("KEYGATE_SIGNER_KEY"); hexKey != "" {
		s, err := session.NewLocalSignerFromHex(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			slog.Warn("ignoring invalid KEYGATE_SIGNER_KEY", "error", err)
			return unavailableSigner{}
		}
		slog.Info("using local delegation signer", "public_key", s.PublicKeyHex())
		return s
	}
	return unavailableSigner{}
}

// unavailableSigner fails every signing request.
type unavailableSigner struct{}

func (unavailableSigner) Sign(context.Context, string, []byte) ([]byte, error) {
	return nil, fmt.Errorf("no signer configured")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

// WithGroup is a no-op; nothing here logs grouped attrs.
func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// parseMethodArgs parses the shared <pkp-id> <type> <method-id> prefix.
func parseMethodArgs(args []string) (pkpID string, mt method.Type, methodID string, rest []string, err error) {
	if len(args) < 3 {
		return "", 0, "", nil, fmt.Errorf("expected <pkp-id> <type> <method-id>")
	}
	typeVal, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return "", 0, "", nil, fmt.Errorf("type must be an integer: %w", err)
	}
	mt = method.Type(typeVal)
	if !mt.Valid() {
		return "", 0, "", nil, fmt.Errorf("type %d is not a known auth method type", typeVal)
	}
	return args[0], mt, args[2], args[3:], nil
}

func runGrant(ctx context.Context, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	pkpID, mt, methodID, scopeArgs, err := parseMethodArgs(args)
	if err != nil {
		return err
	}

	scopes := make([]uint32, 0, len(scopeArgs))
	for _, s := range scopeArgs {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("scope must be an integer: %w", err)
		}
		scopes = append(scopes, uint32(v))
	}

	body, err := json.Marshal(httpapi.GrantRequest{
		PKPID:          pkpID,
		AuthMethodType: uint32(mt),
		AuthMethodID:   methodID,
		Scopes:         scopes,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/grants", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("grant failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	color.Green("granted %s to %s on %s", mt, methodID, pkpID)
	return nil
}

func runRevoke(ctx context.Context, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	pkpID, mt, methodID, rest, err := parseMethodArgs(args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/grants?pkp_id=%s&auth_method_type=%d&auth_method_id=%s",
		cfg.Server.HTTPAddr, pkpID, uint32(mt), methodID)
	if len(rest) > 0 {
		url += "&scope=" + rest[0]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	color.Yellow("revoked %s %s on %s", mt, methodID, pkpID)
	return nil
}

func runGrants(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("expected <pkp-id>")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/grants?pkp_id=%s", cfg.Server.HTTPAddr, args[0])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing grants failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var grants []httpapi.GrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grants); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(grants) == 0 {
		fmt.Println("no auth methods registered")
		return nil
	}
	for _, g := range grants {
		scopeNames := make([]string, 0, len(g.Scopes))
		for _, s := range g.Scopes {
			scopeNames = append(scopeNames, method.Scope(s).String())
		}
		scopeCol := "(authentication only)"
		if len(scopeNames) > 0 {
			scopeCol = strings.Join(scopeNames, ", ")
		}
		fmt.Printf("%-12s %-50s %s\n", method.Type(g.AuthMethodType), g.AuthMethodID, scopeCol)
	}
	return nil
}

// apiError reads an {"error": ...} body into a command error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
