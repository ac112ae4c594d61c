// ABOUTME: Admin CLI for mercat-gateway catalog and policy management
// ABOUTME: Talks to the operator HTTP API using a token from a TOML config file

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

const banner = `
 _ __ ___   ___ _ __ ___ __ _| |_
| '_ ' _ \ / _ \ '__/ __/ _' | __|
| | | | | |  __/ | | (_| (_| | |_
|_| |_| |_|\___|_|  \___\__,_|\__|  admin
`

// cliConfig is the admin CLI configuration, read from TOML.
type cliConfig struct {
	GatewayURL    string `toml:"gateway_url"`
	OperatorToken string `toml:"operator_token"`
}

// getCLIConfigPath returns the path to the admin config file.
// Priority: MERCAT_ADMIN_CONFIG env var > XDG_CONFIG_HOME/mercat/admin.toml > ~/.config/mercat/admin.toml
func getCLIConfigPath() string {
	if envPath := os.Getenv("MERCAT_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mercat", "admin.toml")
}

func loadCLIConfig() (*cliConfig, error) {
	path := getCLIConfigPath()

	var cfg cliConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no config at %s; create it with gateway_url and operator_token", path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	// Environment overrides.
	if url := os.Getenv("MERCAT_GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}
	if token := os.Getenv("MERCAT_OPERATOR_TOKEN"); token != "" {
		cfg.OperatorToken = token
	}

	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "http://localhost:8080"
	}
	if cfg.OperatorToken == "" {
		return nil, fmt.Errorf("operator_token is not set in %s", path)
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	client := &apiClient{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}

	switch cmd {
	case "clients":
		err = cmdClients(client, args)
	case "resources":
		err = cmdResources(client, args)
	case "connectors":
		err = cmdConnectors(client, args)
	case "caps":
		err = cmdCaps(client, args)
	case "receipt":
		err = cmdReceipt(client, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: mercat-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  clients                     List registered OAuth clients")
	fmt.Println("  clients create              Register a new OAuth client")
	fmt.Println("  resources                   List catalog resources")
	fmt.Println("  resources create            Add a catalog resource")
	fmt.Println("  connectors create           Store a connector credential bundle")
	fmt.Println("  caps set <user-id>          Set a user's spending caps")
	fmt.Println("  receipt <receipt-id>        Fetch and verify a receipt")
	fmt.Println()
	yellow.Println("Config:")
	fmt.Printf("  %s (TOML: gateway_url, operator_token)\n", getCLIConfigPath())
	fmt.Println()
	yellow.Println("Environment overrides:")
	fmt.Println("  MERCAT_GATEWAY_URL        Gateway base URL")
	fmt.Println("  MERCAT_OPERATOR_TOKEN     Operator bearer token")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  mercat-admin clients create --name 'research-agent' --redirect https://agent.example/cb")
	fmt.Println("  mercat-admin resources create --provider p1 --title 'Weekly report' --price-flat 2 --content ./report.md")
	fmt.Println("  mercat-admin connectors create --owner p1 --type api_key --config ./creds.json")
	fmt.Println("  mercat-admin caps set alice --global-weekly 100 --per-site-daily 20")
	fmt.Println()
}

// apiClient wraps HTTP calls to the operator API.
type apiClient struct {
	cfg  *cliConfig
	http *http.Client
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.cfg.GatewayURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OperatorToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func cmdClients(c *apiClient, args []string) error {
	if len(args) > 0 && args[0] == "create" {
		return cmdClientsCreate(c, args[1:])
	}

	var clients []struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		RedirectURIs []string `json:"redirectUris"`
		Scope        string   `json:"scope"`
	}
	if err := c.do(http.MethodGet, "/admin/clients", nil, &clients); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREDIRECT URIS\tSCOPE")
	for _, cl := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cl.ID, cl.Name, strings.Join(cl.RedirectURIs, ","), cl.Scope)
	}
	return w.Flush()
}

func cmdClientsCreate(c *apiClient, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	name := flags["name"]
	redirect := flags["redirect"]
	if name == "" || redirect == "" {
		return fmt.Errorf("--name and --redirect are required")
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"name":         name,
		"redirectUris": strings.Split(redirect, ","),
		"scope":        flags["scope"],
	}
	if err := c.do(http.MethodPost, "/admin/clients", body, &created); err != nil {
		return err
	}

	color.Green("Created client %s\n", created.ID)
	return nil
}

func cmdResources(c *apiClient, args []string) error {
	if len(args) == 0 {
		var resources []struct {
			ID         string  `json:"id"`
			ProviderID string  `json:"providerId"`
			Title      string  `json:"title"`
			Domain     string  `json:"domain"`
			Format     string  `json:"format"`
			PriceFlat  float64 `json:"priceFlat"`
			PricePerKB float64 `json:"pricePerKb"`
		}
		if err := c.do(http.MethodGet, "/admin/resources", nil, &resources); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tTITLE\tDOMAIN\tFORMAT\tFLAT\tPER-KB")
		for _, res := range resources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.4f\n",
				res.ID, res.ProviderID, res.Title, res.Domain, res.Format, res.PriceFlat, res.PricePerKB)
		}
		return w.Flush()
	}
	if args[0] != "create" {
		return fmt.Errorf("usage: mercat-admin resources [create]")
	}
	flags, err := parseFlags(args[1:])
	if err != nil {
		return err
	}
	if flags["provider"] == "" || flags["title"] == "" {
		return fmt.Errorf("--provider and --title are required")
	}

	body := map[string]any{
		"providerId": flags["provider"],
		"title":      flags["title"],
		"summary":    flags["summary"],
		"domain":     flags["domain"],
		"path":       flags["path"],
		"type":       flags["type"],
		"format":     flags["format"],
	}
	if flags["tags"] != "" {
		body["tags"] = strings.Split(flags["tags"], ",")
	}
	if flags["modes"] != "" {
		body["modes"] = strings.Split(flags["modes"], ",")
	}
	if flags["connector"] != "" {
		body["connectorId"] = flags["connector"]
	}
	if flags["price-flat"] != "" {
		v, err := strconv.ParseFloat(flags["price-flat"], 64)
		if err != nil {
			return fmt.Errorf("invalid --price-flat: %w", err)
		}
		body["priceFlat"] = v
	}
	if flags["price-per-kb"] != "" {
		v, err := strconv.ParseFloat(flags["price-per-kb"], 64)
		if err != nil {
			return fmt.Errorf("invalid --price-per-kb: %w", err)
		}
		body["pricePerKb"] = v
	}
	if flags["content"] != "" {
		raw, err := os.ReadFile(flags["content"])
		if err != nil {
			return fmt.Errorf("reading content file: %w", err)
		}
		body["content"] = string(raw)
		body["contentType"] = flags["content-type"]
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, "/admin/resources", body, &created); err != nil {
		return err
	}
	color.Green("Created resource %s\n", created.ID)
	return nil
}

func cmdConnectors(c *apiClient, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return fmt.Errorf("usage: mercat-admin connectors create [flags]")
	}
	flags, err := parseFlags(args[1:])
	if err != nil {
		return err
	}
	if flags["owner"] == "" || flags["type"] == "" || flags["config"] == "" {
		return fmt.Errorf("--owner, --type and --config are required")
	}

	rawConfig, err := os.ReadFile(flags["config"])
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"ownerId": flags["owner"],
		"type":    flags["type"],
		"config":  json.RawMessage(rawConfig),
	}
	if err := c.do(http.MethodPost, "/admin/connectors", body, &created); err != nil {
		return err
	}
	color.Green("Created connector %s\n", created.ID)
	return nil
}

func cmdCaps(c *apiClient, args []string) error {
	if len(args) < 2 || args[0] != "set" {
		return fmt.Errorf("usage: mercat-admin caps set <user-id> [flags]")
	}
	userID := args[1]
	flags, err := parseFlags(args[2:])
	if err != nil {
		return err
	}

	body := map[string]any{}
	for flag, field := range map[string]string{
		"global-weekly":  "globalWeekly",
		"per-site-daily": "perSiteDaily",
		"raw-weekly":     "rawWeekly",
		"summary-weekly": "summaryWeekly",
	} {
		if flags[flag] == "" {
			continue
		}
		v, err := strconv.ParseFloat(flags[flag], 64)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", flag, err)
		}
		body[field] = v
	}

	if err := c.do(http.MethodPut, "/admin/caps/"+userID, body, nil); err != nil {
		return err
	}
	color.Green("Updated caps for %s\n", userID)
	return nil
}

func cmdReceipt(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mercat-admin receipt <receipt-id>")
	}

	var receipt struct {
		ID       string          `json:"id"`
		ChargeID string          `json:"chargeId"`
		UserID   string          `json:"userId"`
		Verified bool            `json:"verified"`
		Document json.RawMessage `json:"document"`
	}
	if err := c.do(http.MethodGet, "/admin/receipts/"+args[0], nil, &receipt); err != nil {
		return err
	}

	fmt.Printf("Receipt:  %s\n", receipt.ID)
	fmt.Printf("Charge:   %s\n", receipt.ChargeID)
	fmt.Printf("User:     %s\n", receipt.UserID)
	if receipt.Verified {
		color.Green("Signature: valid\n")
	} else {
		color.Red("Signature: INVALID\n")
	}
	if len(receipt.Document) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, receipt.Document, "", "  "); err == nil {
			fmt.Println(pretty.String())
		}
	}
	return nil
}

// parseFlags handles "--flag value" and "--flag=value" argument styles.
func parseFlags(args []string) (map[string]string, error) {
	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		arg = strings.TrimPrefix(arg, "--")
		if name, value, found := strings.Cut(arg, "="); found {
			flags[name] = value
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("--%s requires a value", arg)
		}
		flags[arg] = args[i+1]
		i++
	}
	return flags, nil
}
