package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/spf13/cobra"
)

var flagAnomalyLimit int

func init() {
	stateCmd.Flags().IntVar(&flagAnomalyLimit, "anomalies", 10, "Number of recent anomalies to list")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show cursors, per-chain statistics, placeholders and recent anomalies",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DB())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		fmt.Fprintln(out, "cursors:")
		for _, ch := range cfg.Chains {
			h, hash, ok, err := store.GetCursor(ctx, ch.CursorID())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(out, "  %s (%d): not started\n", ch.ID, ch.ChainID)
				continue
			}
			fmt.Fprintf(out, "  %s (%d): height %d hash %s\n", ch.ID, ch.ChainID, h, orDash(hash))
		}

		stats, err := store.AllChainStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "stats:")
		for _, s := range stats {
			fmt.Fprintf(out, "  chain %d: src=%d dst=%d withdrawals=%d cancellations=%d src_volume=%s withdrawn_volume=%s last_block=%d\n",
				s.ChainID, s.SrcCreated, s.DstCreated, s.Withdrawals, s.Cancellations,
				orDash(decString(s.SrcVolume)), orDash(decString(s.WithdrawnVolume)), s.LastBlock)
		}

		placeholders, err := store.CountPlaceholders(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "placeholders: %d\n", placeholders)

		anomalies, err := store.Anomalies(ctx, flagAnomalyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "anomalies (latest %d):\n", len(anomalies))
		for _, a := range anomalies {
			fmt.Fprintf(out, "  %s %s %s escrow=%s hashlock=%s\n",
				a.CreatedAt.UTC().Format(time.RFC3339), a.Reason, a.Kind, orDash(a.Escrow), orDash(a.Hashlock))
		}
		return nil
	},
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
