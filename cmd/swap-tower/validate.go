package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/sink"
	"github.com/devblac/swap-tower/internal/source/evm"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and check each chain's RPC reports its chain_id",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		for _, s := range cfg.Sinks {
			if _, err := sink.New(s); err != nil {
				return fmt.Errorf("sink %s: %w", s.ID, err)
			}
		}

		client := &http.Client{Timeout: defaultHTTPTimeout}
		failures := 0

		for _, ch := range cfg.Chains {
			if _, err := evm.LoadEscrowEvents(ch.ABIDirs); err != nil {
				failures++
				fmt.Fprintf(out, "- chain %s: ABI ERROR %v\n", ch.ID, err)
				continue
			}
			if err := checkChain(cmd.Context(), client, ch); err != nil {
				failures++
				fmt.Fprintf(out, "- chain %s: ERROR %v\n", ch.ID, err)
				continue
			}
			fmt.Fprintf(out, "- chain %s: chainId %d OK\n", ch.ID, ch.ChainID)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d chain(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func checkChain(ctx context.Context, client *http.Client, ch config.Chain) error {
	raw, err := pingEVM(ctx, client, ch.RPCURL)
	if err != nil {
		return err
	}
	got, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return fmt.Errorf("parse chainId %q: %w", raw, err)
	}
	if got != ch.ChainID {
		return fmt.Errorf("rpc reports chainId %d, config says %d", got, ch.ChainID)
	}
	return nil
}

func pingEVM(ctx context.Context, client *http.Client, url string) (string, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_chainId",
		"params":  []any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call eth_chainId: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("empty chainId result")
	}

	return rpcResp.Result, nil
}
