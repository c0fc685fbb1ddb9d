// ABOUTME: Configuration loading and parsing for keygate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openkeys/keygate/internal/method"
	"github.com/openkeys/keygate/internal/verifier"
)

// Config represents the complete keygate configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Issuers IssuersConfig `yaml:"issuers"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// LedgerConfig holds permission ledger storage configuration
type LedgerConfig struct {
	// Backend selects the storage engine: "memory" or "sqlite"
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	CacheSize int `yaml:"cache_size"`
	// RetryMaxTries bounds retries against a flapping backend; 0 disables
	// the retry wrapper
	RetryMaxTries uint `yaml:"retry_max_tries"`

	CacheTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CacheTTLRaw string `yaml:"cache_ttl"`
}

// IssuersConfig holds the credential trust anchors
type IssuersConfig struct {
	// JWT is the issuer allow-list for self-contained tokens
	JWT []verifier.IssuerConfig `yaml:"jwt"`

	// OAuth configures remote userinfo introspection per provider
	OAuth []verifier.OAuthProviderConfig `yaml:"oauth"`

	// OTPPublicKey is the hex ed25519 key the OTP service signs with
	OTPPublicKey string `yaml:"otp_public_key"`
}

// WalletConfig holds wallet sign-in policy
type WalletConfig struct {
	MaxAge time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxAgeRaw string `yaml:"max_age"`
}

// SessionConfig holds session delegation policy
type SessionConfig struct {
	// MinScope is the scope required before a credential may mint a
	// session: "sign_anything" or "only_sign_messages"
	MinScope string `yaml:"min_scope"`

	// PKPKeys maps PKP ids to their uncompressed secp256k1 public keys.
	// When set, grant administration requires a session delegation from
	// one of these keys.
	PKPKeys map[string]string `yaml:"pkp_keys"`

	MaxLifetime time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxLifetimeRaw string `yaml:"max_lifetime"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Ledger.Backend {
	case "", "memory":
	case "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not supported (memory, sqlite)", c.Ledger.Backend)
	}

	for i, iss := range c.Issuers.JWT {
		if iss.Issuer == "" {
			return fmt.Errorf("issuers.jwt[%d].issuer is required", i)
		}
		if iss.PublicKeyPEM == "" {
			return fmt.Errorf("issuers.jwt[%d].public_key is required", i)
		}
		if !iss.Type.Valid() {
			return fmt.Errorf("issuers.jwt[%d].auth_method_type %d is not a known type", i, iss.Type)
		}
	}
	for i, p := range c.Issuers.OAuth {
		if p.UserInfoURL == "" {
			return fmt.Errorf("issuers.oauth[%d].userinfo_url is required", i)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("issuers.oauth[%d].auth_method_type %d is not a known type", i, p.Type)
		}
	}
	if c.Issuers.OTPPublicKey != "" {
		if _, err := c.OTPKey(); err != nil {
			return err
		}
	}

	if c.Session.MinScope != "" {
		if _, err := c.SessionMinScope(); err != nil {
			return err
		}
	}
	for pkpID, key := range c.Session.PKPKeys {
		if key == "" {
			return fmt.Errorf("session.pkp_keys[%s] is empty", pkpID)
		}
	}

	return nil
}

// OTPKey decodes the configured OTP issuer key. Returns nil when the OTP
// kinds are not configured.
func (c *Config) OTPKey() (ed25519.PublicKey, error) {
	if c.Issuers.OTPPublicKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(c.Issuers.OTPPublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("issuers.otp_public_key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("issuers.otp_public_key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// SessionMinScope maps the configured scope name to its wire value.
// Defaults to sign-anything when unset.
func (c *Config) SessionMinScope() (method.Scope, error) {
	switch c.Session.MinScope {
	case "", "sign_anything":
		return method.ScopeSignAnything, nil
	case "only_sign_messages":
		return method.ScopeOnlySignMessages, nil
	default:
		return 0, fmt.Errorf("session.min_scope %q is not a known scope", c.Session.MinScope)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Ledger.CacheTTLRaw != "" {
		cfg.Ledger.CacheTTL, err = time.ParseDuration(cfg.Ledger.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Ledger.CacheTTLRaw, err)
		}
	}

	if cfg.Wallet.MaxAgeRaw != "" {
		cfg.Wallet.MaxAge, err = time.ParseDuration(cfg.Wallet.MaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing max_age %q: %w", cfg.Wallet.MaxAgeRaw, err)
		}
	}

	if cfg.Session.MaxLifetimeRaw != "" {
		cfg.Session.MaxLifetime, err = time.ParseDuration(cfg.Session.MaxLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing max_lifetime %q: %w", cfg.Session.MaxLifetimeRaw, err)
		}
	}

	return nil
}
