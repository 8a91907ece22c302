package main

import (
	"fmt"
	"strings"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

type immutablesFlags struct {
	chain         string
	side          string
	orderHash     string
	hashlock      string
	maker         string
	taker         string
	token         string
	amount        string
	safetyDeposit string
	timelocks     string
}

var addrFlags immutablesFlags

func init() {
	f := addressCmd.Flags()
	f.StringVar(&addrFlags.chain, "chain", "", "Chain config id whose factory deploys the escrow")
	f.StringVar(&addrFlags.side, "side", "src", "Escrow side: src or dst")
	f.StringVar(&addrFlags.orderHash, "order-hash", "", "Order hash (0x-prefixed 32 bytes)")
	f.StringVar(&addrFlags.hashlock, "hashlock", "", "Hashlock (0x-prefixed 32 bytes)")
	f.StringVar(&addrFlags.maker, "maker", "", "Maker address")
	f.StringVar(&addrFlags.taker, "taker", "", "Taker address")
	f.StringVar(&addrFlags.token, "token", "", "Token address")
	f.StringVar(&addrFlags.amount, "amount", "0", "Amount (decimal or 0x hex)")
	f.StringVar(&addrFlags.safetyDeposit, "safety-deposit", "0", "Safety deposit (decimal or 0x hex)")
	f.StringVar(&addrFlags.timelocks, "timelocks", "0", "Packed timelocks (decimal or 0x hex)")
	_ = addressCmd.MarkFlagRequired("chain")
	_ = addressCmd.MarkFlagRequired("hashlock")
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Predict the escrow address for a set of immutables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		var chain *config.Chain
		for i := range cfg.Chains {
			if cfg.Chains[i].ID == addrFlags.chain {
				chain = &cfg.Chains[i]
				break
			}
		}
		if chain == nil {
			return fmt.Errorf("unknown chain %q", addrFlags.chain)
		}

		im, err := addrFlags.immutables()
		if err != nil {
			return err
		}
		addr, err := predictAddress(resolverFor(*chain), addrFlags.side, im)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "salt:    %s\n", im.Hash().Hex())
		fmt.Fprintf(out, "escrow:  %s\n", escrow.Hex(addr))
		return nil
	},
}

func predictAddress(r escrow.Resolver, side string, im escrow.Immutables) (common.Address, error) {
	switch strings.ToLower(side) {
	case "src":
		return r.SrcAddress(im), nil
	case "dst":
		return r.DstAddress(im), nil
	default:
		return common.Address{}, fmt.Errorf("side must be src or dst, got %q", side)
	}
}

func (f immutablesFlags) immutables() (escrow.Immutables, error) {
	var im escrow.Immutables
	var err error
	if im.OrderHash, err = parseHash("order-hash", f.orderHash); err != nil {
		return im, err
	}
	if im.Hashlock, err = parseHash("hashlock", f.hashlock); err != nil {
		return im, err
	}
	for _, a := range []struct {
		name string
		val  string
		dst  **uint256.Int
	}{
		{"maker", f.maker, &im.Maker},
		{"taker", f.taker, &im.Taker},
		{"token", f.token, &im.Token},
	} {
		if a.val == "" {
			*a.dst = new(uint256.Int)
			continue
		}
		if !common.IsHexAddress(a.val) {
			return im, fmt.Errorf("%s: invalid address %q", a.name, a.val)
		}
		*a.dst = escrow.PackAddress(common.HexToAddress(a.val))
	}
	for _, n := range []struct {
		name string
		val  string
		dst  **uint256.Int
	}{
		{"amount", f.amount, &im.Amount},
		{"safety-deposit", f.safetyDeposit, &im.SafetyDeposit},
		{"timelocks", f.timelocks, &im.Timelocks},
	} {
		v, err := parseWord(n.val)
		if err != nil {
			return im, fmt.Errorf("%s: %w", n.name, err)
		}
		*n.dst = v
	}
	return im, nil
}

func parseHash(name, s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: expected 32 bytes, got %d", name, len(b))
	}
	return common.BytesToHash(b), nil
}

func parseWord(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}
