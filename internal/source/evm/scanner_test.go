package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/storage"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeClient struct {
	headers   map[uint64]*types.Header
	logs      map[uint64][]types.Log
	code      map[common.Address][]byte
	queries   []ethereum.FilterQuery
	codeReads int
}

func (f *fakeClient) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		var max uint64
		for n := range f.headers {
			if n > max {
				max = n
			}
		}
		if h, ok := f.headers[max]; ok {
			return h, nil
		}
		return nil, fmt.Errorf("no headers")
	}
	if h, ok := f.headers[number.Uint64()]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("header %d not found", number.Uint64())
}

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	from := q.FromBlock.Uint64()
	return f.logs[from], nil
}

func (f *fakeClient) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.codeReads++
	return f.code[account], nil
}

func testChain() config.Chain {
	return config.Chain{
		ID:                "ethereum",
		ChainID:           1,
		RPCURL:            "stub",
		StartBlock:        "1",
		Factory:           testFactory.Hex(),
		SrcImplementation: "0xcd70bf33cfe59759851db21c83ea47b6b83bef6a",
		DstImplementation: "0x9c3e06659f1c34f930ce97fcbce6e04ae88e535b",
	}
}

func TestScannerProcessesBlockThenCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := loadEvents(t)

	parent := &types.Header{Number: big.NewInt(0)}
	h1 := &types.Header{Number: big.NewInt(1), ParentHash: parent.Hash(), Time: uint64(testTime.Unix())}
	fc := &fakeClient{
		headers: map[uint64]*types.Header{0: parent, 1: h1},
		logs: map[uint64][]types.Log{
			1: {srcCreatedLog(t, events, testFactory)},
		},
	}

	chain := testChain()
	scanner := NewScanner(fc, store, chain, 0, events, 0)

	batch, err := scanner.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if batch == nil || len(batch.Events) != 1 {
		t.Fatalf("expected 1 event, got %+v", batch)
	}
	if got := batch.Events[0].EventMeta().Timestamp; !got.Equal(testTime) {
		t.Fatalf("block time not used: %s", got)
	}
	if len(fc.queries) != 1 || len(fc.queries[0].Topics) != 1 || len(fc.queries[0].Topics[0]) != 4 {
		t.Fatalf("expected a single topic0 filter with 4 events, got %+v", fc.queries)
	}

	if _, ok, _ := scanner.Cursor(ctx); ok {
		t.Fatalf("cursor must not move before commit")
	}
	if err := scanner.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	h, ok, _ := scanner.Cursor(ctx)
	if !ok || h != 1 {
		t.Fatalf("cursor not advanced, h=%d ok=%v", h, ok)
	}

	batch, err = scanner.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("process next at tip: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nothing past the tip, got %+v", batch)
	}
}

func TestScannerDropsLifecycleLogsFromForeignContracts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := loadEvents(t)
	chain := testChain()

	secret, err := events.Withdrawal.Inputs.NonIndexed().Pack([32]byte{0x5e})
	if err != nil {
		t.Fatalf("pack withdrawal: %v", err)
	}
	var (
		lookalike = common.HexToAddress("0xdead")
		plain     = common.HexToAddress("0xbeef")
		otherImpl = common.HexToAddress("0x0c1c")
		clone     = testEscrow
	)
	parent := &types.Header{Number: big.NewInt(0)}
	h1 := &types.Header{Number: big.NewInt(1), ParentHash: parent.Hash(), Time: uint64(testTime.Unix())}
	fc := &fakeClient{
		headers: map[uint64]*types.Header{0: parent, 1: h1},
		logs: map[uint64][]types.Log{
			1: {
				// Withdrawal(bytes32 indexed) declared by an unrelated contract.
				{Address: lookalike, BlockNumber: 1, Topics: []common.Hash{events.Withdrawal.ID, common.HexToHash("0x01")}},
				{Address: plain, BlockNumber: 1, Index: 1, Topics: []common.Hash{events.Withdrawal.ID}, Data: []byte{0xff}},
				{Address: plain, BlockNumber: 1, Index: 2, Topics: []common.Hash{events.EscrowCancelled.ID}},
				{Address: otherImpl, BlockNumber: 1, Index: 3, Topics: []common.Hash{events.EscrowCancelled.ID}},
				{Address: clone, BlockNumber: 1, Index: 4, Topics: []common.Hash{events.Withdrawal.ID}, Data: secret},
				{Address: clone, BlockNumber: 1, Index: 5, Topics: []common.Hash{events.EscrowCancelled.ID}},
			},
		},
		code: map[common.Address][]byte{
			lookalike: common.FromHex("0x6080604052"),
			otherImpl: escrow.ProxyRuntimeCode(common.HexToAddress("0x1234")),
			clone:     escrow.ProxyRuntimeCode(common.HexToAddress(chain.SrcImplementation)),
		},
	}
	scanner := NewScanner(fc, store, chain, 0, events, 0)

	batch, err := scanner.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("foreign logs must not stop the scanner: %v", err)
	}
	if len(batch.Events) != 2 || batch.Foreign != 4 {
		t.Fatalf("expected 2 escrow events and 4 foreign logs, got %d and %d", len(batch.Events), batch.Foreign)
	}
	for _, ev := range batch.Events {
		if ev.EventMeta().Emitter != clone {
			t.Fatalf("event from non-escrow kept: %+v", ev)
		}
	}
	if fc.codeReads != 4 {
		t.Fatalf("expected one code read per emitter, got %d", fc.codeReads)
	}
	if err := scanner.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if h, ok, _ := scanner.Cursor(ctx); !ok || h != 1 {
		t.Fatalf("cursor not advanced, h=%d ok=%v", h, ok)
	}
}

func TestScannerHonoursConfirmations(t *testing.T) {
	store := newTestStore(t)
	fc := &fakeClient{
		headers: map[uint64]*types.Header{
			1: {Number: big.NewInt(1)},
			2: {Number: big.NewInt(2)},
		},
	}
	scanner := NewScanner(fc, store, testChain(), 2, loadEvents(t), 0)

	batch, err := scanner.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if batch != nil {
		t.Fatalf("block 1 is not confirmed yet")
	}
}

func TestScannerReorgDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chain := testChain()
	if err := store.UpsertCursor(ctx, chain.CursorID(), 1, "0xparent"); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	h2 := &types.Header{Number: big.NewInt(2), ParentHash: common.HexToHash("0xother")}
	fc := &fakeClient{
		headers: map[uint64]*types.Header{
			1: {Number: big.NewInt(1)},
			2: h2,
		},
	}

	scanner := NewScanner(fc, store, chain, 0, loadEvents(t), 0)
	_, err := scanner.ProcessNext(ctx)
	if !errors.Is(err, ErrReorgDetected) {
		t.Fatalf("expected reorg error, got %v", err)
	}
	h, hash, ok, _ := store.GetCursor(ctx, chain.CursorID())
	if !ok || h != 0 || hash != "" {
		t.Fatalf("cursor not rewound: h=%d hash=%q", h, hash)
	}

	batch, err := scanner.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("process after rewind: %v", err)
	}
	if batch == nil || batch.Height != 1 {
		t.Fatalf("expected block 1 to be reprocessed, got %+v", batch)
	}
}

func TestResolveStartHeight(t *testing.T) {
	tests := []struct {
		start string
		safe  uint64
		want  uint64
	}{
		{"", 100, 0},
		{"42", 100, 42},
		{"latest-10", 100, 90},
		{"latest-500", 100, 0},
	}
	for _, tt := range tests {
		got, err := resolveStartHeight(tt.start, tt.safe)
		if err != nil {
			t.Fatalf("resolve %q: %v", tt.start, err)
		}
		if got != tt.want {
			t.Fatalf("resolve %q = %d, want %d", tt.start, got, tt.want)
		}
	}
	if _, err := resolveStartHeight("latest-x", 10); err == nil {
		t.Fatalf("expected parse error")
	}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(dir)
	})
	return store
}
