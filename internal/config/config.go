package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version   int          `yaml:"version"`
	Global    GlobalConfig `yaml:"global"`
	Chains    []Chain      `yaml:"chains"`
	Anomalies Anomalies    `yaml:"anomalies"`
	Sinks     []Sink       `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath        string `yaml:"db_path"`
	Confirmations uint64 `yaml:"confirmations"`
	TxRetries     int    `yaml:"tx_retries"`
	TxBackoff     string `yaml:"tx_backoff"`
	PollInterval  string `yaml:"poll_interval"`
}

// Chain describes one EVM network carrying an escrow factory.
type Chain struct {
	ID            string   `yaml:"id"`
	ChainID       uint64   `yaml:"chain_id"`
	RPCURL        string   `yaml:"rpc_url"`
	StartBlock    string   `yaml:"start_block"`
	Confirmations *uint64  `yaml:"confirmations,omitempty"`
	ABIDirs       []string `yaml:"abi_dirs"`

	Factory           string `yaml:"factory"`
	SrcImplementation string `yaml:"src_implementation"`
	DstImplementation string `yaml:"dst_implementation"`
}

// Anomalies routes recorded anomalies to sinks.
type Anomalies struct {
	Sinks     []string `yaml:"sinks"`
	Burst     int      `yaml:"burst"`
	PerSecond float64  `yaml:"per_second"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

const (
	defaultDBPath       = "swap-tower.db"
	defaultTxRetries    = 5
	defaultTxBackoff    = 50 * time.Millisecond
	defaultPollInterval = 5 * time.Second
)

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}

	ids := map[string]struct{}{}
	chainIDs := map[uint64]string{}
	for i := range c.Chains {
		ch := &c.Chains[i]
		if _, exists := ids[ch.ID]; exists {
			return fmt.Errorf("duplicate chain id: %s", ch.ID)
		}
		ids[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", ch.ID, err)
		}
		if other, exists := chainIDs[ch.ChainID]; exists {
			return fmt.Errorf("chain %s: chain_id %d already used by %s", ch.ID, ch.ChainID, other)
		}
		chainIDs[ch.ChainID] = ch.ID
	}

	sinkIDs := map[string]*Sink{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = s
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	if err := c.Anomalies.Validate(sinkIDs); err != nil {
		return fmt.Errorf("anomalies: %w", err)
	}

	return nil
}

func (g *GlobalConfig) Validate() error {
	if g.TxRetries < 0 {
		return errors.New("tx_retries must not be negative")
	}
	for name, v := range map[string]string{"tx_backoff": g.TxBackoff, "poll_interval": g.PollInterval} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// DB returns the database path, defaulting next to the working directory.
func (g GlobalConfig) DB() string {
	if g.DBPath == "" {
		return defaultDBPath
	}
	return g.DBPath
}

// Retries returns the attempt budget for a conflicting store transaction.
func (g GlobalConfig) Retries() int {
	if g.TxRetries == 0 {
		return defaultTxRetries
	}
	return g.TxRetries
}

// Backoff returns the linear retry step.
func (g GlobalConfig) Backoff() time.Duration {
	return parseDurationOr(g.TxBackoff, defaultTxBackoff)
}

// Poll returns the idle wait between scans once a chain is caught up.
func (g GlobalConfig) Poll() time.Duration {
	return parseDurationOr(g.PollInterval, defaultPollInterval)
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Chain) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	for _, f := range [][2]string{
		{"factory", c.Factory},
		{"src_implementation", c.SrcImplementation},
		{"dst_implementation", c.DstImplementation},
	} {
		name, v := f[0], f[1]
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s: invalid address %q", name, v)
		}
	}
	return nil
}

// ConfirmationDepth returns the chain override or the global default.
func (c Chain) ConfirmationDepth(global uint64) uint64 {
	if c.Confirmations != nil {
		return *c.Confirmations
	}
	return global
}

// FactoryAddress returns the parsed factory address.
func (c Chain) FactoryAddress() common.Address {
	return common.HexToAddress(c.Factory)
}

// EscrowImplementations returns the addresses escrow clones may delegate to.
func (c Chain) EscrowImplementations() []common.Address {
	return []common.Address{common.HexToAddress(c.SrcImplementation), common.HexToAddress(c.DstImplementation)}
}

// CursorID names the chain's cursor row.
func (c Chain) CursorID() string {
	return fmt.Sprintf("evm:%d", c.ChainID)
}

func (a *Anomalies) Validate(sinkIDs map[string]*Sink) error {
	for _, id := range a.Sinks {
		if _, ok := sinkIDs[id]; !ok {
			return fmt.Errorf("unknown sink: %s", id)
		}
	}
	if a.Burst < 0 || a.PerSecond < 0 {
		return errors.New("burst and per_second must not be negative")
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
