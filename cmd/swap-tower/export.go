package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

var (
	flagFormat       string
	flagStatus       string
	flagPlaceholders bool
	flagLimit        int
)

func init() {
	exportCmd.Flags().StringVar(&flagFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVar(&flagStatus, "status", "", "Only swaps in this status")
	exportCmd.Flags().BoolVar(&flagPlaceholders, "placeholders", false, "Only swaps still missing their source leg")
	exportCmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum number of swaps (0 = all)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reconciled swaps as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagFormat != "json" && flagFormat != "csv" {
			return fmt.Errorf("unsupported format %q", flagFormat)
		}
		status := storage.SwapStatus(flagStatus)
		switch status {
		case "", storage.SwapSrcCreated, storage.SwapDstCreatedOnly, storage.SwapBothCreated,
			storage.SwapCompleted, storage.SwapCancelled:
		default:
			return fmt.Errorf("unknown status %q", flagStatus)
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DB())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		swaps, err := store.ListSwaps(cmd.Context(), storage.SwapFilter{
			Status:       status,
			Placeholders: flagPlaceholders,
			Limit:        flagLimit,
		})
		if err != nil {
			return err
		}

		recs := make([]swapRecord, 0, len(swaps))
		for _, sw := range swaps {
			recs = append(recs, newSwapRecord(sw))
		}
		if flagFormat == "csv" {
			return writeCSV(cmd.OutOrStdout(), recs)
		}
		return writeJSON(cmd.OutOrStdout(), recs)
	},
}

type swapRecord struct {
	ID               int64                `json:"id"`
	OrderHash        string               `json:"order_hash,omitempty"`
	Hashlock         string               `json:"hashlock"`
	Status           storage.SwapStatus   `json:"status"`
	Placeholder      bool                 `json:"placeholder"`
	SrcChainID       uint64               `json:"src_chain_id,omitempty"`
	DstChainID       uint64               `json:"dst_chain_id,omitempty"`
	SrcEscrow        string               `json:"src_escrow,omitempty"`
	DstEscrow        string               `json:"dst_escrow,omitempty"`
	SrcMaker         string               `json:"src_maker,omitempty"`
	SrcTaker         string               `json:"src_taker,omitempty"`
	DstMaker         string               `json:"dst_maker,omitempty"`
	DstTaker         string               `json:"dst_taker,omitempty"`
	SrcToken         string               `json:"src_token,omitempty"`
	SrcAmount        string               `json:"src_amount,omitempty"`
	DstToken         string               `json:"dst_token,omitempty"`
	DstAmount        string               `json:"dst_amount,omitempty"`
	SrcSafetyDeposit string               `json:"src_safety_deposit,omitempty"`
	DstSafetyDeposit string               `json:"dst_safety_deposit,omitempty"`
	Secret           string               `json:"secret,omitempty"`
	SrcCreatedAt     string               `json:"src_created_at,omitempty"`
	DstCreatedAt     string               `json:"dst_created_at,omitempty"`
	CompletedAt      string               `json:"completed_at,omitempty"`
	CancelledAt      string               `json:"cancelled_at,omitempty"`
	Timelocks        map[string]time.Time `json:"timelocks,omitempty"`
}

func newSwapRecord(sw storage.Swap) swapRecord {
	rec := swapRecord{
		ID:               sw.ID,
		OrderHash:        sw.OrderHash,
		Hashlock:         sw.Hashlock,
		Status:           sw.Status,
		Placeholder:      sw.Placeholder(),
		SrcChainID:       sw.SrcChainID,
		DstChainID:       sw.DstChainID,
		SrcEscrow:        sw.SrcEscrow,
		DstEscrow:        sw.DstEscrow,
		SrcMaker:         sw.SrcMaker,
		SrcTaker:         sw.SrcTaker,
		DstMaker:         sw.DstMaker,
		DstTaker:         sw.DstTaker,
		SrcToken:         sw.SrcToken,
		SrcAmount:        decString(sw.SrcAmount),
		DstToken:         sw.DstToken,
		DstAmount:        decString(sw.DstAmount),
		SrcSafetyDeposit: decString(sw.SrcSafetyDeposit),
		DstSafetyDeposit: decString(sw.DstSafetyDeposit),
		Secret:           sw.Secret,
		SrcCreatedAt:     timeString(sw.SrcCreatedAt),
		DstCreatedAt:     timeString(sw.DstCreatedAt),
		CompletedAt:      timeString(sw.CompletedAt),
		CancelledAt:      timeString(sw.CancelledAt),
	}
	if sw.Timelocks != nil {
		rec.Timelocks = escrow.NewTimelocks(sw.Timelocks).Schedule()
	}
	return rec
}

var csvHeader = []string{
	"id", "order_hash", "hashlock", "status", "placeholder",
	"src_chain_id", "dst_chain_id", "src_escrow", "dst_escrow",
	"src_maker", "src_taker", "dst_maker", "dst_taker",
	"src_token", "src_amount", "dst_token", "dst_amount",
	"src_safety_deposit", "dst_safety_deposit", "secret",
	"src_created_at", "dst_created_at", "completed_at", "cancelled_at",
}

func writeCSV(w io.Writer, recs []swapRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			strconv.FormatInt(r.ID, 10), r.OrderHash, r.Hashlock, string(r.Status), strconv.FormatBool(r.Placeholder),
			uintString(r.SrcChainID), uintString(r.DstChainID), r.SrcEscrow, r.DstEscrow,
			r.SrcMaker, r.SrcTaker, r.DstMaker, r.DstTaker,
			r.SrcToken, r.SrcAmount, r.DstToken, r.DstAmount,
			r.SrcSafetyDeposit, r.DstSafetyDeposit, r.Secret,
			r.SrcCreatedAt, r.DstCreatedAt, r.CompletedAt, r.CancelledAt,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, recs []swapRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func decString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func uintString(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}
