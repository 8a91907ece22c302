package evm

import (
	"fmt"
	"math/big"
	"time"

	"github.com/devblac/swap-tower/internal/swap"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw logs into escrow events for one chain.
type Decoder struct {
	chainID uint64
	factory common.Address
	byTopic map[common.Hash]abi.Event
}

// NewDecoder builds a decoder for the given chain and factory.
func NewDecoder(chainID uint64, factory common.Address, events EscrowEvents) *Decoder {
	byTopic := map[common.Hash]abi.Event{}
	for _, ev := range []abi.Event{events.SrcEscrowCreated, events.DstEscrowCreated, events.Withdrawal, events.EscrowCancelled} {
		byTopic[ev.ID] = ev
	}
	return &Decoder{chainID: chainID, factory: factory, byTopic: byTopic}
}

// Topics returns the topic0 values worth fetching.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.byTopic))
	for t := range d.byTopic {
		out = append(out, t)
	}
	return out
}

// Lifecycle reports whether lg carries a withdrawal or cancellation topic. Those
// are emitted by escrow clones rather than the factory.
func (d *Decoder) Lifecycle(lg types.Log) bool {
	if len(lg.Topics) == 0 {
		return false
	}
	ev, ok := d.byTopic[lg.Topics[0]]
	return ok && (ev.Name == EventWithdrawal || ev.Name == EventEscrowCancelled)
}

// Decode maps a log to an escrow event. Logs with an unknown topic, creation logs
// not emitted by the configured factory, and lifecycle logs indexed differently
// from the escrow ABI are skipped. A known log that does not decode is a
// *swap.DecodeError.
func (d *Decoder) Decode(lg types.Log, blockTime time.Time) (swap.Event, bool, error) {
	if lg.Removed || len(lg.Topics) == 0 {
		return nil, false, nil
	}
	ev, ok := d.byTopic[lg.Topics[0]]
	if !ok {
		return nil, false, nil
	}

	meta := swap.Meta{
		ChainID:     d.chainID,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash,
		Timestamp:   blockTime.UTC(),
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Emitter:     lg.Address,
	}

	var kind swap.Kind
	switch ev.Name {
	case EventSrcEscrowCreated:
		kind = swap.KindSrcEscrowCreated
	case EventDstEscrowCreated:
		kind = swap.KindDstEscrowCreated
	case EventWithdrawal:
		kind = swap.KindWithdrawal
	default:
		kind = swap.KindCancellation
	}
	if (kind == swap.KindSrcEscrowCreated || kind == swap.KindDstEscrowCreated) && lg.Address != d.factory {
		return nil, false, nil
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if len(lg.Topics)-1 != len(indexed) && (kind == swap.KindWithdrawal || kind == swap.KindCancellation) {
		// Same signature declared with other indexed arguments.
		return nil, false, nil
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, false, swap.NewDecodeError(kind, meta, fmt.Errorf("parse topics: %w", err))
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return nil, false, swap.NewDecodeError(kind, meta, fmt.Errorf("unpack data: %w", err))
	}

	out, err := build(kind, meta, args)
	if err != nil {
		return nil, false, swap.NewDecodeError(kind, meta, err)
	}
	return out, true, nil
}

func build(kind swap.Kind, meta swap.Meta, args map[string]any) (swap.Event, error) {
	switch kind {
	case swap.KindSrcEscrowCreated:
		var im immutablesTuple
		if err := convert(args, "srcImmutables", &im); err != nil {
			return nil, err
		}
		var dst complementTuple
		if err := convert(args, "dstImmutablesComplement", &dst); err != nil {
			return nil, err
		}
		return swap.SrcEscrowCreated{
			Meta:             meta,
			OrderHash:        im.OrderHash,
			Hashlock:         im.Hashlock,
			Maker:            im.Maker,
			Taker:            im.Taker,
			Token:            im.Token,
			Amount:           im.Amount,
			SafetyDeposit:    im.SafetyDeposit,
			Timelocks:        im.Timelocks,
			DstMaker:         dst.Maker,
			DstAmount:        dst.Amount,
			DstToken:         dst.Token,
			DstSafetyDeposit: dst.SafetyDeposit,
			DstChainID:       dst.ChainId,
		}, nil

	case swap.KindDstEscrowCreated:
		escrow, err := arg[common.Address](args, "escrow")
		if err != nil {
			return nil, err
		}
		hashlock, err := arg[[32]byte](args, "hashlock")
		if err != nil {
			return nil, err
		}
		taker, err := arg[*big.Int](args, "taker")
		if err != nil {
			return nil, err
		}
		return swap.DstEscrowCreated{Meta: meta, Escrow: escrow, Hashlock: hashlock, Taker: taker}, nil

	case swap.KindWithdrawal:
		secret, err := arg[[32]byte](args, "secret")
		if err != nil {
			return nil, err
		}
		return swap.EscrowWithdrawn{Meta: meta, Escrow: meta.Emitter, Secret: secret}, nil

	default:
		return swap.EscrowCancelled{Meta: meta, Escrow: meta.Emitter}, nil
	}
}

func arg[T any](args map[string]any, name string) (T, error) {
	var zero T
	raw, ok := args[name]
	if !ok {
		return zero, fmt.Errorf("argument %s missing", name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("argument %s: unexpected type %T", name, raw)
	}
	return v, nil
}

// convert copies an ABI tuple into out. abi.ConvertType panics on a layout
// mismatch, which is reported as an error instead.
func convert(args map[string]any, name string, out any) (err error) {
	raw, ok := args[name]
	if !ok {
		return fmt.Errorf("argument %s missing", name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("argument %s: %v", name, r)
		}
	}()
	abi.ConvertType(raw, out)
	return nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
