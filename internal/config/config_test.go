package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
version: 1
global:
  db_path: ./swaps.db
  confirmations: 6
  poll_interval: 2s
chains:
  - id: ethereum
    chain_id: 1
    rpc_url: ${RPC_URL}
    start_block: "latest-100"
    factory: "0xa7bcb4eac8964306f9e3764f67db6a7af6ddf99a"
    src_implementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a"
    dst_implementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b"
  - id: polygon
    chain_id: 137
    rpc_url: http://polygon-rpc
    confirmations: 64
    factory: "0xa7bcb4eac8964306f9e3764f67db6a7af6ddf99a"
    src_implementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a"
    dst_implementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b"
anomalies:
  sinks: ["ops"]
  burst: 5
  per_second: 0.5
sinks:
  - id: ops
    type: slack
    webhook_url: ${SLACK_HOOK}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("RPC_URL", "http://example-rpc")
	t.Setenv("SLACK_HOOK", "https://hooks.slack.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Chains[0].RPCURL; got != "http://example-rpc" {
		t.Fatalf("rpc_url not interpolated, got %q", got)
	}
	if got := cfg.Chains[0].ConfirmationDepth(cfg.Global.Confirmations); got != 6 {
		t.Fatalf("expected global confirmations, got %d", got)
	}
	if got := cfg.Chains[1].ConfirmationDepth(cfg.Global.Confirmations); got != 64 {
		t.Fatalf("expected chain override, got %d", got)
	}
	if got := cfg.Global.Poll(); got != 2*time.Second {
		t.Fatalf("poll interval = %s", got)
	}
	if got := cfg.Global.Retries(); got != defaultTxRetries {
		t.Fatalf("retries = %d", got)
	}
	if got := cfg.Chains[1].CursorID(); got != "evm:137" {
		t.Fatalf("cursor id = %s", got)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected missing env to fail")
	}
	if !strings.Contains(err.Error(), "RPC_URL") || !strings.Contains(err.Error(), "SLACK_HOOK") {
		t.Fatalf("error should name missing vars: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	env := "RPC_URL=http://dotenv-rpc\nSLACK_HOOK=https://hooks.slack.test\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("RPC_URL")
		os.Unsetenv("SLACK_HOOK")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Chains[0].RPCURL; got != "http://dotenv-rpc" {
		t.Fatalf("rpc_url from .env, got %q", got)
	}
}

func validConfig() Config {
	return Config{
		Version: 1,
		Chains: []Chain{{
			ID:                "ethereum",
			ChainID:           1,
			RPCURL:            "http://rpc",
			Factory:           "0xa7bcb4eac8964306f9e3764f67db6a7af6ddf99a",
			SrcImplementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a",
			DstImplementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b",
		}},
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no version", func(c *Config) { c.Version = 0 }, "version"},
		{"no chains", func(c *Config) { c.Chains = nil }, "at least one chain"},
		{"bad factory", func(c *Config) { c.Chains[0].Factory = "0x1234" }, "factory"},
		{"missing implementation", func(c *Config) { c.Chains[0].DstImplementation = "" }, "dst_implementation"},
		{"zero chain id", func(c *Config) { c.Chains[0].ChainID = 0 }, "chain_id"},
		{"duplicate chain id", func(c *Config) {
			dup := c.Chains[0]
			dup.ID = "mainnet-again"
			c.Chains = append(c.Chains, dup)
		}, "already used"},
		{"unknown anomaly sink", func(c *Config) { c.Anomalies.Sinks = []string{"nope"} }, "unknown sink"},
		{"bad poll interval", func(c *Config) { c.Global.PollInterval = "soon" }, "poll_interval"},
		{"bad sink", func(c *Config) { c.Sinks = []Sink{{ID: "s", Type: "pager"}} }, "unsupported sink type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWebhookSinkDefaultsMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Sinks = []Sink{{ID: "hook", Type: "webhook", URL: "http://hook"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Sinks[0].Method != "POST" {
		t.Fatalf("method = %q", cfg.Sinks[0].Method)
	}
}
