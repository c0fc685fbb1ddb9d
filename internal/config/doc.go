// Package config handles configuration loading for keygate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	issuers:
//	  otp_public_key: "${KEYGATE_OTP_PUBLIC_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	ledger:
//	  cache_ttl: "30s"
//	wallet:
//	  max_age: "5m"
//	session:
//	  max_lifetime: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Permission ledger storage:
//
//	ledger:
//	  backend: "sqlite"            # memory, sqlite
//	  path: "/var/lib/keygate/ledger.db"
//	  cache_size: 4096
//	  cache_ttl: "30s"
//	  retry_max_tries: 3
//
// Credential trust anchors:
//
//	issuers:
//	  jwt:
//	    - issuer: "https://accounts.google.com"
//	      auth_method_type: 6
//	      public_key: "${GOOGLE_JWT_PUBLIC_KEY}"
//	  oauth:
//	    - auth_method_type: 4
//	      userinfo_url: "https://discord.com/api/users/@me"
//	      app_id: "my-discord-app"
//	  otp_public_key: "${KEYGATE_OTP_PUBLIC_KEY}"
//
// Session delegation policy:
//
//	session:
//	  max_lifetime: "24h"
//	  min_scope: "sign_anything"   # sign_anything, only_sign_messages
//	  pkp_keys:                    # requires session auth on grant admin when set
//	    "0x1111...": "${ADMIN_PKP_PUBLIC_KEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/keygate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
