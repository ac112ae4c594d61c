// Package config handles configuration loading for mercat-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// The gateway looks for its config at:
//
//  1. Path from MERCAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mercat/gateway.yaml
//  3. ~/.config/mercat/gateway.yaml
//
// Run "mercat-gateway init" to generate a starter file along with a
// signing key and sealing key.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MERCAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  code_ttl: "5m"
//	  access_ttl: "1h"
//	  refresh_ttl: "720h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://gateway.example.com"
//
// Database:
//
//	database:
//	  path: "/var/lib/mercat/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${MERCAT_JWT_SECRET}"
//	  realm: "mercat"
//	  operator_token: "${MERCAT_OPERATOR_TOKEN}"  # enables /admin when set
//	  code_ttl: "5m"
//	  access_ttl: "1h"
//	  refresh_ttl: "720h"
//
// Sessions:
//
//	sessions:
//	  max_size: 10000
//	  idle_ttl: "1h"
//
// Spending cap defaults (credits; zero disables a check):
//
//	caps:
//	  global_weekly: 100
//	  per_site_daily: 20
//	  raw_weekly: 50
//	  summary_weekly: 50
//
// Settlement:
//
//	settlement:
//	  signing_key_path: "/var/lib/mercat/receipt_signing_key"
//	  platform_fee_bps: 500
//
// Connectors:
//
//	connectors:
//	  sealing_key: "${MERCAT_SEALING_KEY}"  # 32 bytes, hex-encoded
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Required fields (http_addr, database path, jwt_secret, signing key path, sealing key)
//   - Platform fee within 0..10000 basis points
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/mercat/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
