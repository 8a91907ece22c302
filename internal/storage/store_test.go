package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertCursor(ctx, "src1", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok {
		t.Fatalf("get cursor failed err=%v ok=%v", err, ok)
	}
	if h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s", h, hash)
	}

	if err := store.UpsertCursor(ctx, "src1", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor not updated: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	cursors, err := store.Cursors(ctx)
	if err != nil || len(cursors) != 1 || cursors[0].SourceID != "src1" {
		t.Fatalf("unexpected cursors %+v err=%v", cursors, err)
	}
}

func sampleSrc() SrcEscrow {
	return SrcEscrow{
		ChainID:          1,
		Address:          "0x00000000000000000000000000000000000000e1",
		OrderHash:        "0x01",
		Hashlock:         "0xh1",
		Maker:            "0xmaker",
		Taker:            "0xtaker",
		Token:            "0xtoken",
		Amount:           uint256.NewInt(1000),
		SafetyDeposit:    uint256.NewInt(5),
		Timelocks:        uint256.NewInt(0),
		DstChainID:       10,
		DstMaker:         "0xmaker",
		DstToken:         "0xdsttoken",
		DstAmount:        uint256.NewInt(990),
		DstSafetyDeposit: uint256.NewInt(3),
		BlockNumber:      100,
		CreatedAt:        time.Unix(1_700_000_000, 0).UTC(),
		TxHash:           "0xtx",
	}
}

func TestEscrowInsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var first, second bool
	err := store.WithTx(ctx, func(tx *Tx) error {
		var err error
		if first, err = tx.InsertSrcEscrow(ctx, sampleSrc()); err != nil {
			return err
		}
		second, err = tx.InsertSrcEscrow(ctx, sampleSrc())
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first insert to create and second to no-op, got %v %v", first, second)
	}

	got, ok, err := store.SrcEscrow(ctx, 1, sampleSrc().Address)
	if err != nil || !ok {
		t.Fatalf("get src escrow ok=%v err=%v", ok, err)
	}
	if got.Status != LegCreated || got.Amount.Uint64() != 1000 || got.DstChainID != 10 {
		t.Fatalf("unexpected escrow %+v", got)
	}
	if !got.CreatedAt.Equal(sampleSrc().CreatedAt) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}
}

func TestCloseLegIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dst := DstEscrow{
		ChainID:     10,
		Address:     "0xd1",
		Hashlock:    "0xh1",
		Taker:       "0xtaker",
		BlockNumber: 7,
		CreatedAt:   time.Unix(1_700_000_100, 0),
		TxHash:      "0xdtx",
	}

	var withdrawn, cancelled bool
	err := store.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertDstEscrow(ctx, dst); err != nil {
			return err
		}
		var err error
		withdrawn, err = tx.CloseLeg(ctx, LegClose{Side: SideDst, ChainID: 10, Address: "0xd1", Status: LegWithdrawn, Secret: "0xs", TxHash: "0xw"})
		if err != nil {
			return err
		}
		cancelled, err = tx.CloseLeg(ctx, LegClose{Side: SideDst, ChainID: 10, Address: "0xd1", Status: LegCancelled})
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !withdrawn || cancelled {
		t.Fatalf("expected withdraw to apply and cancel to be ignored, got %v %v", withdrawn, cancelled)
	}
	got, _, err := store.DstEscrow(ctx, 10, "0xd1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != LegWithdrawn || got.Secret != "0xs" || got.ClosedTxHash != "0xw" {
		t.Fatalf("unexpected leg %+v", got)
	}

	err = store.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.CloseLeg(ctx, LegClose{Side: SideDst, ChainID: 10, Address: "0xd1", Status: LegCreated})
		return err
	})
	if err == nil {
		t.Fatalf("expected reopening a leg to be rejected")
	}
}

func TestSwapPlaceholderPromotion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.InsertSwap(ctx, Swap{Hashlock: "0xh2", DstChainID: 10, DstEscrow: "0xd2", Status: SwapDstCreatedOnly})
		return err
	})
	if err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}
	if n, err := store.CountPlaceholders(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 placeholder, got %d err=%v", n, err)
	}

	err = store.WithTx(ctx, func(tx *Tx) error {
		sw, ok, err := tx.SwapByHashlock(ctx, "0xh2")
		if err != nil || !ok {
			return errors.Join(err, errors.New("placeholder missing"))
		}
		sw.OrderHash = "0xo2"
		sw.SrcAmount = uint256.NewInt(42)
		sw.Status = SwapBothCreated
		return tx.UpdateSwap(ctx, sw)
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	if n, _ := store.CountPlaceholders(ctx); n != 0 {
		t.Fatalf("expected no placeholders, got %d", n)
	}
	sw, ok, err := store.SwapByOrderHash(ctx, "0xo2")
	if err != nil || !ok {
		t.Fatalf("swap by order ok=%v err=%v", ok, err)
	}
	if sw.Status != SwapBothCreated || sw.DstEscrow != "0xd2" || sw.SrcAmount.Uint64() != 42 || sw.Placeholder() {
		t.Fatalf("unexpected swap %+v", sw)
	}

	list, err := store.ListSwaps(ctx, SwapFilter{Status: SwapBothCreated})
	if err != nil || len(list) != 1 {
		t.Fatalf("list swaps: %d err=%v", len(list), err)
	}
}

func TestSwapHashlockUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertSwap(ctx, Swap{Hashlock: "0xh", Status: SwapDstCreatedOnly}); err != nil {
			return err
		}
		_, err := tx.InsertSwap(ctx, Swap{Hashlock: "0xh", Status: SwapDstCreatedOnly})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate hashlock to fail")
	}
	if n, _ := store.CountPlaceholders(ctx); n != 0 {
		t.Fatalf("rolled back tx must leave no rows, got %d", n)
	}
}

func TestApplyStatsAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deltas := []struct {
		d     StatsDelta
		block uint64
	}{
		{StatsDelta{SrcCreated: 1, SrcVolume: uint256.NewInt(1000)}, 10},
		{StatsDelta{SrcCreated: 1, SrcVolume: uint256.NewInt(500)}, 12},
		{StatsDelta{Withdrawals: 1, WithdrawnVolume: uint256.NewInt(1000)}, 11},
		{StatsDelta{Cancellations: 1}, 13},
	}
	for _, tc := range deltas {
		err := store.WithTx(ctx, func(tx *Tx) error {
			return tx.ApplyStats(ctx, 1, tc.d, tc.block)
		})
		if err != nil {
			t.Fatalf("apply stats: %v", err)
		}
	}

	cs, ok, err := store.ChainStats(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("chain stats ok=%v err=%v", ok, err)
	}
	if cs.SrcCreated != 2 || cs.Withdrawals != 1 || cs.Cancellations != 1 || cs.DstCreated != 0 {
		t.Fatalf("unexpected counters %+v", cs)
	}
	if cs.SrcVolume.Uint64() != 1500 || cs.WithdrawnVolume.Uint64() != 1000 {
		t.Fatalf("unexpected volumes src=%s wd=%s", cs.SrcVolume, cs.WithdrawnVolume)
	}
	if cs.LastBlock != 13 {
		t.Fatalf("watermark should be the max block, got %d", cs.LastBlock)
	}

	all, err := store.AllChainStats(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("all stats: %d err=%v", len(all), err)
	}
}

func TestAnomalyRecordedOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := Anomaly{
		ChainID:     1,
		BlockNumber: 5,
		TxHash:      "0xabc",
		LogIndex:    2,
		Kind:        "withdrawal",
		Reason:      "orphan_escrow",
		Escrow:      "0xe",
		PayloadJSON: `{"x":1}`,
	}

	var created []bool
	for i := 0; i < 2; i++ {
		err := store.WithTx(ctx, func(tx *Tx) error {
			ok, err := tx.RecordAnomaly(ctx, a)
			created = append(created, ok)
			return err
		})
		if err != nil {
			t.Fatalf("record anomaly: %v", err)
		}
	}
	if !created[0] || created[1] {
		t.Fatalf("expected exactly one insert, got %v", created)
	}

	list, err := store.Anomalies(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("anomalies: %d err=%v", len(list), err)
	}
	if list[0].ID != AnomalyID(1, "0xabc", 2) || list[0].Escrow != "0xe" {
		t.Fatalf("unexpected anomaly %+v", list[0])
	}
}

func TestExactlyOnceSend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	send := Send{AnomalyID: "1:0xabc:2", SinkID: "slack", Status: "sent", ResponseCode: 200, CreatedAt: time.Now()}
	if err := store.InsertSend(ctx, send); err != nil {
		t.Fatalf("insert send: %v", err)
	}
	if err := store.InsertSend(ctx, send); err == nil {
		t.Fatalf("expected duplicate send insert to fail")
	}
	ok, err := store.SendExists(ctx, send.AnomalyID, send.SinkID)
	if err != nil || !ok {
		t.Fatalf("send exists ok=%v err=%v", ok, err)
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(errors.New("plain")) {
		t.Fatalf("plain errors are not busy")
	}
	if IsBusy(nil) {
		t.Fatalf("nil is not busy")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
