// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openkeys/keygate/internal/method"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configContent := `
server:
  http_addr: "0.0.0.0:8080"

ledger:
  backend: "sqlite"
  path: "./ledger.db"
  cache_size: 1024
  cache_ttl: "30s"
  retry_max_tries: 3

issuers:
  jwt:
    - issuer: "https://accounts.google.com"
      auth_method_type: 6
      public_key: "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----"
  oauth:
    - auth_method_type: 4
      userinfo_url: "https://discord.com/api/users/@me"
      app_id: "discord-app"

wallet:
  max_age: "5m"

session:
  max_lifetime: "24h"
  min_scope: "sign_anything"
  pkp_keys:
    "0xpkp1": "0x04aabb"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("Ledger.Backend = %q, want %q", cfg.Ledger.Backend, "sqlite")
	}
	if cfg.Ledger.Path != "./ledger.db" {
		t.Errorf("Ledger.Path = %q, want %q", cfg.Ledger.Path, "./ledger.db")
	}
	if cfg.Ledger.CacheSize != 1024 {
		t.Errorf("Ledger.CacheSize = %d, want 1024", cfg.Ledger.CacheSize)
	}
	if cfg.Ledger.CacheTTL != 30*time.Second {
		t.Errorf("Ledger.CacheTTL = %v, want %v", cfg.Ledger.CacheTTL, 30*time.Second)
	}
	if cfg.Ledger.RetryMaxTries != 3 {
		t.Errorf("Ledger.RetryMaxTries = %d, want 3", cfg.Ledger.RetryMaxTries)
	}

	if len(cfg.Issuers.JWT) != 1 {
		t.Fatalf("Issuers.JWT len = %d, want 1", len(cfg.Issuers.JWT))
	}
	if cfg.Issuers.JWT[0].Issuer != "https://accounts.google.com" {
		t.Errorf("Issuers.JWT[0].Issuer = %q", cfg.Issuers.JWT[0].Issuer)
	}
	if cfg.Issuers.JWT[0].Type != method.TypeGoogleJWT {
		t.Errorf("Issuers.JWT[0].Type = %d, want %d", cfg.Issuers.JWT[0].Type, method.TypeGoogleJWT)
	}
	if len(cfg.Issuers.OAuth) != 1 {
		t.Fatalf("Issuers.OAuth len = %d, want 1", len(cfg.Issuers.OAuth))
	}
	if cfg.Issuers.OAuth[0].Type != method.TypeDiscord {
		t.Errorf("Issuers.OAuth[0].Type = %d, want %d", cfg.Issuers.OAuth[0].Type, method.TypeDiscord)
	}

	if cfg.Wallet.MaxAge != 5*time.Minute {
		t.Errorf("Wallet.MaxAge = %v, want %v", cfg.Wallet.MaxAge, 5*time.Minute)
	}

	if cfg.Session.MaxLifetime != 24*time.Hour {
		t.Errorf("Session.MaxLifetime = %v, want %v", cfg.Session.MaxLifetime, 24*time.Hour)
	}
	scope, err := cfg.SessionMinScope()
	if err != nil {
		t.Fatalf("SessionMinScope() error = %v", err)
	}
	if scope != method.ScopeSignAnything {
		t.Errorf("SessionMinScope() = %v, want sign-anything", scope)
	}
	if cfg.Session.PKPKeys["0xpkp1"] != "0x04aabb" {
		t.Errorf("Session.PKPKeys = %v, want 0xpkp1 mapped", cfg.Session.PKPKeys)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_KEYGATE_ADDR", "127.0.0.1:9090")

	configContent := `
server:
  http_addr: "${TEST_KEYGATE_ADDR}"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configContent := `
server:
  http_addr "missing colon"
`
	if _, err := Load(writeConfig(t, configContent)); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configContent := `
server:
  http_addr: "0.0.0.0:8080"
session:
  max_lifetime: "invalid-duration"
`
	if _, err := Load(writeConfig(t, configContent)); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "sqlite backend without path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
ledger:
  backend: "sqlite"
`,
			wantErrSubstr: "ledger.path is required",
		},
		{
			name: "unknown ledger backend",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
ledger:
  backend: "postgres"
`,
			wantErrSubstr: "ledger.backend",
		},
		{
			name: "jwt issuer without public key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
issuers:
  jwt:
    - issuer: "https://accounts.google.com"
      auth_method_type: 6
`,
			wantErrSubstr: "public_key is required",
		},
		{
			name: "jwt issuer with unknown method type",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
issuers:
  jwt:
    - issuer: "https://accounts.google.com"
      auth_method_type: 42
      public_key: "pem"
`,
			wantErrSubstr: "auth_method_type",
		},
		{
			name: "oauth provider without userinfo url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
issuers:
  oauth:
    - auth_method_type: 4
      app_id: "app"
`,
			wantErrSubstr: "userinfo_url is required",
		},
		{
			name: "otp key not hex",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
issuers:
  otp_public_key: "not-hex"
`,
			wantErrSubstr: "otp_public_key",
		},
		{
			name: "empty pkp key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
session:
  pkp_keys:
    "0xpkp1": ""
`,
			wantErrSubstr: "pkp_keys",
		},
		{
			name: "unknown session scope",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
session:
  min_scope: "sign_everything"
`,
			wantErrSubstr: "min_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.configContent))
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestOTPKey(t *testing.T) {
	cfg := Config{}
	cfg.Issuers.OTPPublicKey = "0x" + strings.Repeat("ab", 32)
	key, err := cfg.OTPKey()
	if err != nil {
		t.Fatalf("OTPKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("OTPKey() len = %d, want 32", len(key))
	}

	cfg.Issuers.OTPPublicKey = "abcd"
	if _, err := cfg.OTPKey(); err == nil {
		t.Error("OTPKey() expected error for short key, got nil")
	}

	cfg.Issuers.OTPPublicKey = ""
	key, err = cfg.OTPKey()
	if err != nil || key != nil {
		t.Errorf("OTPKey() = %v, %v; want nil, nil when unset", key, err)
	}
}

func TestSessionMinScope(t *testing.T) {
	tests := []struct {
		in   string
		want method.Scope
	}{
		{"", method.ScopeSignAnything},
		{"sign_anything", method.ScopeSignAnything},
		{"only_sign_messages", method.ScopeOnlySignMessages},
	}
	for _, tt := range tests {
		cfg := Config{}
		cfg.Session.MinScope = tt.in
		got, err := cfg.SessionMinScope()
		if err != nil {
			t.Errorf("SessionMinScope(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SessionMinScope(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
