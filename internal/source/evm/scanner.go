package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/devblac/swap-tower/internal/swap"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the scanner.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// maxEmitterCache bounds the emitter verdicts a scanner remembers.
const maxEmitterCache = 10_000

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Scanner walks one chain block by block with confirmation safety.
type Scanner struct {
	client        BlockClient
	store         *storage.Store
	chain         config.Chain
	confirmations uint64
	decoder       *Decoder
	topics        []common.Hash
	from          uint64
	impls         map[common.Address]bool
	emitters      map[common.Address]bool
}

// NewScanner builds a scanner for a chain. from, when non-zero, overrides the
// configured start block for a chain without a cursor.
func NewScanner(client BlockClient, store *storage.Store, chain config.Chain, confirmations uint64, events EscrowEvents, from uint64) *Scanner {
	dec := NewDecoder(chain.ChainID, chain.FactoryAddress(), events)
	impls := map[common.Address]bool{}
	for _, a := range chain.EscrowImplementations() {
		impls[a] = true
	}
	return &Scanner{
		client:        client,
		store:         store,
		chain:         chain,
		confirmations: confirmations,
		decoder:       dec,
		topics:        dec.Topics(),
		from:          from,
		impls:         impls,
		emitters:      map[common.Address]bool{},
	}
}

// ChainID returns the numeric chain id the scanner indexes.
func (s *Scanner) ChainID() uint64 {
	return s.chain.ChainID
}

// Cursor returns the last committed height.
func (s *Scanner) Cursor(ctx context.Context) (uint64, bool, error) {
	h, _, ok, err := s.store.GetCursor(ctx, s.chain.CursorID())
	return h, ok, err
}

// ProcessNext decodes the next eligible block (respecting confirmations). It
// returns nil when the chain has no confirmed block to process. The cursor is not
// moved; call Commit once the batch is handled. If a reorg is detected the cursor is
// rewound and ErrReorgDetected is returned.
func (s *Scanner) ProcessNext(ctx context.Context) (*Batch, error) {
	cursorID := s.chain.CursorID()
	curHeight, curHash, hasCursor, err := s.store.GetCursor(ctx, cursorID)
	if err != nil {
		return nil, err
	}

	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	latestHeight := latest.Number.Uint64()

	safeHeight := latestHeight
	if s.confirmations > 0 {
		if s.confirmations > safeHeight {
			return nil, nil
		}
		safeHeight -= s.confirmations
	}

	target := curHeight + 1
	if !hasCursor {
		start := s.from
		if start == 0 {
			start, err = resolveStartHeight(s.chain.StartBlock, safeHeight)
			if err != nil {
				return nil, err
			}
		}
		target = start
	}

	if target > safeHeight {
		return nil, nil
	}

	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(target))
	if err != nil {
		return nil, fmt.Errorf("header %d: %w", target, err)
	}

	if hasCursor && curHash != "" && header.ParentHash.Hex() != curHash {
		rewindTo := uint64(0)
		if curHeight > 0 {
			rewindTo = curHeight - 1
		}
		// Reprocess the replaced block. Its parent hash is unknown here, so the
		// next pass skips the parent check.
		if err := s.store.UpsertCursor(ctx, cursorID, rewindTo, ""); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("chain %d at %d: %w", s.chain.ChainID, target, ErrReorgDetected)
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(target),
		ToBlock:   new(big.Int).SetUint64(target),
		Topics:    [][]common.Hash{s.topics},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	blockTime := time.Unix(int64(header.Time), 0).UTC()
	events := []swap.Event{}
	foreign := 0
	for _, lg := range logs {
		if s.decoder.Lifecycle(lg) {
			ok, err := s.isEscrow(ctx, lg.Address)
			if err != nil {
				return nil, err
			}
			if !ok {
				foreign++
				continue
			}
		}
		ev, ok, err := s.decoder.Decode(lg, blockTime)
		if err != nil {
			return nil, err
		}
		if ok {
			events = append(events, ev)
		}
	}

	return &Batch{
		ChainID: s.chain.ChainID,
		Height:  target,
		Hash:    header.Hash().Hex(),
		Events:  events,
		Foreign: foreign,
	}, nil
}

// isEscrow reports whether addr is a clone of a configured escrow implementation.
// Code is read at the head so pruned nodes can serve it; clones never self-destruct.
func (s *Scanner) isEscrow(ctx context.Context, addr common.Address) (bool, error) {
	if v, ok := s.emitters[addr]; ok {
		return v, nil
	}
	code, err := s.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	impl, ok := escrow.CloneTarget(code)
	v := ok && s.impls[impl]
	if len(s.emitters) >= maxEmitterCache {
		clear(s.emitters)
	}
	s.emitters[addr] = v
	return v, nil
}

// Commit advances the cursor past a handled batch.
func (s *Scanner) Commit(ctx context.Context, b *Batch) error {
	if b == nil {
		return nil
	}
	return s.store.UpsertCursor(ctx, s.chain.CursorID(), b.Height, b.Hash)
}

func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
