// ABOUTME: Configuration loading and parsing for mercat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mercat-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Caps       CapsConfig       `yaml:"caps"`
	Settlement SettlementConfig `yaml:"settlement"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the external URL advertised in OAuth metadata and
	// WWW-Authenticate challenges.
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token issuance configuration
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	Realm         string `yaml:"realm"`
	OperatorToken string `yaml:"operator_token"`

	CodeTTL    time.Duration `yaml:"-"`
	AccessTTL  time.Duration `yaml:"-"`
	RefreshTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CodeTTLRaw    string `yaml:"code_ttl"`
	AccessTTLRaw  string `yaml:"access_ttl"`
	RefreshTTLRaw string `yaml:"refresh_ttl"`
}

// SessionsConfig holds session binding configuration
type SessionsConfig struct {
	MaxSize int `yaml:"max_size"`

	IdleTTL time.Duration `yaml:"-"`

	IdleTTLRaw string `yaml:"idle_ttl"`
}

// CapsConfig holds the platform-wide default spending caps applied when a
// user has none configured. A zero or negative value disables that check.
type CapsConfig struct {
	GlobalWeekly  float64 `yaml:"global_weekly"`
	PerSiteDaily  float64 `yaml:"per_site_daily"`
	RawWeekly     float64 `yaml:"raw_weekly"`
	SummaryWeekly float64 `yaml:"summary_weekly"`
}

// SettlementConfig holds receipt signing and fee configuration
type SettlementConfig struct {
	// SigningKeyPath is an OpenSSH-format Ed25519 private key file. Required;
	// the gateway refuses to start without it.
	SigningKeyPath string `yaml:"signing_key_path"`
	PlatformFeeBps int64  `yaml:"platform_fee_bps"`
}

// ConnectorsConfig holds credential sealing configuration
type ConnectorsConfig struct {
	// SealingKey is a hex-encoded 32-byte key for connector configs and
	// stored objects.
	SealingKey string `yaml:"sealing_key"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
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
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Settlement.SigningKeyPath == "" {
		return fmt.Errorf("settlement.signing_key_path is required")
	}
	if c.Settlement.PlatformFeeBps < 0 || c.Settlement.PlatformFeeBps > 10000 {
		return fmt.Errorf("settlement.platform_fee_bps must be within [0, 10000]")
	}
	if c.Connectors.SealingKey == "" {
		return fmt.Errorf("connectors.sealing_key is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.CodeTTLRaw != "" {
		cfg.Auth.CodeTTL, err = time.ParseDuration(cfg.Auth.CodeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing code_ttl %q: %w", cfg.Auth.CodeTTLRaw, err)
		}
	}

	if cfg.Auth.AccessTTLRaw != "" {
		cfg.Auth.AccessTTL, err = time.ParseDuration(cfg.Auth.AccessTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing access_ttl %q: %w", cfg.Auth.AccessTTLRaw, err)
		}
	}

	if cfg.Auth.RefreshTTLRaw != "" {
		cfg.Auth.RefreshTTL, err = time.ParseDuration(cfg.Auth.RefreshTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_ttl %q: %w", cfg.Auth.RefreshTTLRaw, err)
		}
	}

	if cfg.Sessions.IdleTTLRaw != "" {
		cfg.Sessions.IdleTTL, err = time.ParseDuration(cfg.Sessions.IdleTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_ttl %q: %w", cfg.Sessions.IdleTTLRaw, err)
		}
	}

	return nil
}
