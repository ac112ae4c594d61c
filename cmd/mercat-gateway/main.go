// ABOUTME: Entry point for the mercat-gateway server
// ABOUTME: Serves the OAuth, tool-call and admin surfaces for paid content access

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/mercatae/mercat-gateway/internal/config"
	"github.com/mercatae/mercat-gateway/internal/connector"
	"github.com/mercatae/mercat-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   ___ _ __ ___ __ _| |_
| '_ ' _ \ / _ \ '__/ __/ _' | __|
| | | | | |  __/ | | (_| (_| | |_
|_| |_| |_|\___|_|  \___\__,_|\__|
`

// getConfigPath returns the path to the gateway config file.
// Priority: MERCAT_CONFIG env var > XDG_CONFIG_HOME/mercat/gateway.yaml > ~/.config/mercat/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MERCAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mercat", "gateway.yaml")
}

// getDataPath returns the path to the mercat data directory.
// Priority: XDG_DATA_HOME/mercat > ~/.local/share/mercat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mercat")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mercat-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  init      Create a config file and signing key")
		fmt.Println("  health    Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting mercat-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	app, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return app.Run(ctx)
}

// runInit writes a starter config with fresh secrets and generates the
// receipt signing key. Existing files are left alone.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	signingKeyPath := filepath.Join(dataPath, "signing_key")
	if err := writeSigningKey(signingKeyPath); err != nil {
		return err
	}
	green.Printf("Created signing key: %s\n", signingKeyPath)

	jwtSecret, err := randomSecret(32)
	if err != nil {
		return err
	}
	operatorToken, err := randomSecret(24)
	if err != nil {
		return err
	}
	sealingKey, err := connector.GenerateKey()
	if err != nil {
		return err
	}

	content := fmt.Sprintf(`server:
  http_addr: "127.0.0.1:8080"
  base_url: "http://127.0.0.1:8080"

database:
  path: %q

auth:
  jwt_secret: %q
  realm: "mercat"
  operator_token: %q
  code_ttl: "5m"
  access_ttl: "15m"
  refresh_ttl: "720h"

sessions:
  idle_ttl: "1h"
  max_size: 10000

caps:
  global_weekly: 100
  per_site_daily: 20
  raw_weekly: 60
  summary_weekly: 40

settlement:
  signing_key_path: %q
  platform_fee_bps: 500

connectors:
  sealing_key: %q

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "gateway.db"), jwtSecret, operatorToken, signingKeyPath, sealingKey)

	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	green.Printf("Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next: mercat-gateway serve")
	return nil
}

func writeSigningKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "mercat-gateway receipt signing key")
	if err != nil {
		return fmt.Errorf("encoding signing key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}
	return nil
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
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
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

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
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
