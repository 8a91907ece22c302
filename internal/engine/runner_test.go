package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/source/evm"
	"github.com/devblac/swap-tower/internal/swap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	mu        sync.Mutex
	chainID   uint64
	batches   []*evm.Batch
	next      int
	cursor    uint64
	hasCursor bool
	reorgs    int
	err       error
	commits   []uint64
}

func (f *fakeSource) ChainID() uint64 { return f.chainID }

func (f *fakeSource) Cursor(context.Context) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, f.hasCursor, nil
}

func (f *fakeSource) ProcessNext(context.Context) (*evm.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reorgs > 0 {
		f.reorgs--
		return nil, fmt.Errorf("chain %d: %w", f.chainID, evm.ErrReorgDetected)
	}
	if f.next >= len(f.batches) {
		return nil, nil
	}
	return f.batches[f.next], nil
}

func (f *fakeSource) Commit(_ context.Context, b *evm.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor, f.hasCursor = b.Height, true
	f.commits = append(f.commits, b.Height)
	f.next++
	return nil
}

func (f *fakeSource) committed() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.commits...)
}

type fakeHandler struct {
	mu     sync.Mutex
	events []swap.Event
	err    error
}

func (h *fakeHandler) Handle(_ context.Context, ev swap.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, ev)
	return nil
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	m := metrics.NewUnregistered()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	return m, reg
}

func batch(chainID, height uint64, n int) *evm.Batch {
	b := &evm.Batch{ChainID: chainID, Height: height, Hash: fmt.Sprintf("0x%x", height)}
	for i := 0; i < n; i++ {
		b.Events = append(b.Events, swap.EscrowCancelled{
			Meta:   swap.Meta{ChainID: chainID, BlockNumber: height, LogIndex: uint(i)},
			Escrow: common.BigToAddress(common.Big1),
		})
	}
	return b
}

func TestRunOnceCommitsAfterHandling(t *testing.T) {
	eth := &fakeSource{chainID: 1, batches: []*evm.Batch{batch(1, 10, 2)}}
	poly := &fakeSource{chainID: 137, batches: []*evm.Batch{batch(137, 50, 1)}}
	h := &fakeHandler{}
	m, reg := newMetrics()

	r := NewRunner([]Source{eth, poly}, h, Options{Metrics: m})
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.count() != 3 {
		t.Fatalf("expected 3 events handled, got %d", h.count())
	}
	if got := eth.committed(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("ethereum cursor not committed: %v", got)
	}
	if got := poly.committed(); len(got) != 1 || got[0] != 50 {
		t.Fatalf("polygon cursor not committed: %v", got)
	}
	want := `
# HELP swap_tower_blocks_processed_total Total number of blocks processed
# TYPE swap_tower_blocks_processed_total counter
swap_tower_blocks_processed_total{chain_id="1"} 1
swap_tower_blocks_processed_total{chain_id="137"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "swap_tower_blocks_processed_total"); err != nil {
		t.Fatalf("blocks processed: %v", err)
	}
}

func TestHandlerFailureLeavesCursor(t *testing.T) {
	src := &fakeSource{chainID: 1, batches: []*evm.Batch{batch(1, 10, 1)}}
	h := &fakeHandler{err: errors.New("database is locked")}

	err := NewRunner([]Source{src}, h, Options{}).RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected handler error")
	}
	if got := src.committed(); len(got) != 0 {
		t.Fatalf("cursor must not move on failure, committed %v", got)
	}
}

func TestReorgIsNotFatal(t *testing.T) {
	src := &fakeSource{chainID: 1, reorgs: 1, batches: []*evm.Batch{batch(1, 10, 1)}}
	h := &fakeHandler{}
	r := NewRunner([]Source{src}, h, Options{})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("reorg should not fail the pass: %v", err)
	}
	if len(src.committed()) != 0 {
		t.Fatalf("nothing should be committed during a reorg pass")
	}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := src.committed(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("block not processed after reorg: %v", got)
	}
}

func TestDecodeErrorHalts(t *testing.T) {
	decodeErr := &swap.DecodeError{Kind: swap.KindSrcEscrowCreated, ChainID: 1, Err: errors.New("short payload")}
	src := &fakeSource{chainID: 1, err: decodeErr}
	m, reg := newMetrics()

	err := NewRunner([]Source{src}, &fakeHandler{}, Options{Metrics: m, Poll: time.Millisecond}).Run(context.Background())
	if !errors.Is(err, swap.ErrDecode) {
		t.Fatalf("expected decode error to stop the runner, got %v", err)
	}
	want := `
# HELP swap_tower_decode_errors_total Escrow events that could not be decoded
# TYPE swap_tower_decode_errors_total counter
swap_tower_decode_errors_total{kind="src_escrow_created"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "swap_tower_decode_errors_total"); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
}

func TestRunStopsAtTarget(t *testing.T) {
	src := &fakeSource{chainID: 1, batches: []*evm.Batch{batch(1, 1, 0), batch(1, 2, 1), batch(1, 3, 1)}}
	h := &fakeHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := NewRunner([]Source{src}, h, Options{To: 2, Poll: time.Millisecond}).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := src.committed(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("expected blocks 1 and 2, got %v", got)
	}
	if h.count() != 1 {
		t.Fatalf("block 3 must not be handled, events=%d", h.count())
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	src := &fakeSource{chainID: 1}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if err := NewRunner([]Source{src}, &fakeHandler{}, Options{Poll: 5 * time.Millisecond}).Run(ctx); err != nil {
		t.Fatalf("cancelled run should return nil, got %v", err)
	}
}
