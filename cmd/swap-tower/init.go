package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1
global:
  db_path: ./swap-tower.db
  confirmations: 12
  tx_retries: 5
  tx_backoff: 50ms
  poll_interval: 5s

chains:
  - id: ethereum
    chain_id: 1
    rpc_url: ${ETH_RPC_URL}
    start_block: "latest-1000"
    factory: "0xa7bcb4eac8964306f9e3764f67db6a7af6ddf99a"
    src_implementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a"
    dst_implementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b"
  - id: arbitrum
    chain_id: 42161
    rpc_url: ${ARB_RPC_URL}
    start_block: "latest-5000"
    confirmations: 20
    factory: "0xa7bcb4eac8964306f9e3764f67db6a7af6ddf99a"
    src_implementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a"
    dst_implementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b"

anomalies:
  sinks: []
  burst: 10
  per_second: 1

sinks:
  - id: ops
    type: webhook
    url: http://localhost:8081/anomalies
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}
