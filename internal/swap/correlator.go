package swap

import (
	"context"
	"fmt"

	"github.com/devblac/swap-tower/internal/storage"
	"github.com/holiman/uint256"
)

// Anomaly reasons.
const (
	ReasonOrphanEscrow     = "orphan_escrow"
	ReasonHashlockConflict = "hashlock_conflict"
)

// Tx is the slice of a store transaction the correlator needs. *storage.Tx
// implements it.
type Tx interface {
	InsertSrcEscrow(ctx context.Context, e storage.SrcEscrow) (bool, error)
	InsertDstEscrow(ctx context.Context, e storage.DstEscrow) (bool, error)
	CloseLeg(ctx context.Context, c storage.LegClose) (bool, error)
	SrcEscrow(ctx context.Context, chainID uint64, address string) (storage.SrcEscrow, bool, error)
	DstEscrow(ctx context.Context, chainID uint64, address string) (storage.DstEscrow, bool, error)
	InsertSwap(ctx context.Context, s storage.Swap) (int64, error)
	UpdateSwap(ctx context.Context, s storage.Swap) error
	SwapByHashlock(ctx context.Context, hashlock string) (storage.Swap, bool, error)
}

var _ Tx = (*storage.Tx)(nil)

// Anomaly describes an event that was absorbed without updating the swap.
type Anomaly struct {
	Reason   string
	Escrow   string
	Hashlock string
	Err      error
}

// Outcome reports what one record did to the store.
type Outcome struct {
	// Duplicate is set when the record had already been applied.
	Duplicate bool
	// Side is the leg the record belongs to, empty for orphans.
	Side  storage.Side
	Swap  storage.Swap
	From  storage.SwapStatus
	Delta storage.StatsDelta

	PlaceholderCreated bool
	Promoted           bool

	Anomaly *Anomaly
}

// Transitioned reports whether the swap status changed.
func (o Outcome) Transitioned() bool {
	return o.Swap.ID != 0 && o.From != o.Swap.Status
}

// Correlator merges leg records into swap aggregates. It holds no state; every
// read and write goes through the caller's transaction.
type Correlator struct{}

// Apply dispatches a record to the matching merge.
func (c Correlator) Apply(ctx context.Context, tx Tx, rec Record) (Outcome, error) {
	switch r := rec.(type) {
	case SourceRecord:
		return c.MergeSource(ctx, tx, r)
	case DestinationRecord:
		return c.MergeDestination(ctx, tx, r)
	case WithdrawalRecord:
		return c.Withdrawal(ctx, tx, r)
	case CancellationRecord:
		return c.Cancellation(ctx, tx, r)
	default:
		return Outcome{}, fmt.Errorf("unsupported record %T", rec)
	}
}

// MergeSource stores a source leg and creates or completes its swap. A placeholder
// left by the destination leg is promoted in place by assigning the order hash.
func (Correlator) MergeSource(ctx context.Context, tx Tx, rec SourceRecord) (Outcome, error) {
	leg := rec.Leg
	created, err := tx.InsertSrcEscrow(ctx, leg)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Side: storage.SideSrc}
	if !created {
		out.Duplicate = true
		return out, nil
	}
	out.Delta = SourceDelta(leg)

	sw, ok, err := tx.SwapByHashlock(ctx, leg.Hashlock)
	if err != nil {
		return Outcome{}, err
	}
	if ok && !sw.Placeholder() {
		out.Anomaly = &Anomaly{
			Reason:   ReasonHashlockConflict,
			Escrow:   leg.Address,
			Hashlock: leg.Hashlock,
			Err:      fmt.Errorf("%w: %s already bound to order %s", ErrHashlockConflict, leg.Hashlock, sw.OrderHash),
		}
		return out, nil
	}

	if !ok {
		sw = storage.Swap{Hashlock: leg.Hashlock}
	}
	out.From = sw.Status
	applySource(&sw, leg)
	sw.Status = Next(out.From, SourceObserved)

	if ok {
		if err := tx.UpdateSwap(ctx, sw); err != nil {
			return Outcome{}, err
		}
		out.Promoted = true
	} else {
		id, err := tx.InsertSwap(ctx, sw)
		if err != nil {
			return Outcome{}, err
		}
		sw.ID = id
	}
	out.Swap = sw
	return out, nil
}

// MergeDestination stores a destination leg and attaches it to the swap with the
// same hashlock, creating a placeholder when the source leg has not been seen.
func (Correlator) MergeDestination(ctx context.Context, tx Tx, rec DestinationRecord) (Outcome, error) {
	leg := rec.Leg
	created, err := tx.InsertDstEscrow(ctx, leg)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Side: storage.SideDst}
	if !created {
		out.Duplicate = true
		return out, nil
	}
	out.Delta = DestinationDelta()

	sw, ok, err := tx.SwapByHashlock(ctx, leg.Hashlock)
	if err != nil {
		return Outcome{}, err
	}
	if ok && sw.DstEscrow != "" {
		out.Anomaly = &Anomaly{
			Reason:   ReasonHashlockConflict,
			Escrow:   leg.Address,
			Hashlock: leg.Hashlock,
			Err:      fmt.Errorf("%w: %s already has destination escrow %s", ErrHashlockConflict, leg.Hashlock, sw.DstEscrow),
		}
		return out, nil
	}

	if !ok {
		sw = storage.Swap{Hashlock: leg.Hashlock}
	}
	out.From = sw.Status
	applyDestination(&sw, leg)
	sw.Status = Next(out.From, DestinationObserved)

	if ok {
		if err := tx.UpdateSwap(ctx, sw); err != nil {
			return Outcome{}, err
		}
	} else {
		id, err := tx.InsertSwap(ctx, sw)
		if err != nil {
			return Outcome{}, err
		}
		sw.ID = id
		out.PlaceholderCreated = true
	}
	out.Swap = sw
	return out, nil
}

// Withdrawal closes the escrow with the revealed secret. Only a source-side
// withdrawal completes the swap.
func (Correlator) Withdrawal(ctx context.Context, tx Tx, rec WithdrawalRecord) (Outcome, error) {
	return closeLeg(ctx, tx, rec.Meta, rec.Escrow, storage.LegWithdrawn, rec.Secret)
}

// Cancellation closes the escrow and cancels a swap that is not yet terminal.
func (Correlator) Cancellation(ctx context.Context, tx Tx, rec CancellationRecord) (Outcome, error) {
	return closeLeg(ctx, tx, rec.Meta, rec.Escrow, storage.LegCancelled, "")
}

func closeLeg(ctx context.Context, tx Tx, m Meta, address string, status storage.LegStatus, secret string) (Outcome, error) {
	ref, err := findLeg(ctx, tx, m.ChainID, address)
	if err != nil {
		return Outcome{}, err
	}
	if ref.side == "" {
		return Outcome{Anomaly: &Anomaly{
			Reason: ReasonOrphanEscrow,
			Escrow: address,
			Err:    fmt.Errorf("no escrow %s on chain %d", address, m.ChainID),
		}}, nil
	}

	closedAt := m.Timestamp.UTC()
	changed, err := tx.CloseLeg(ctx, storage.LegClose{
		Side:     ref.side,
		ChainID:  m.ChainID,
		Address:  address,
		Status:   status,
		Secret:   secret,
		ClosedAt: closedAt,
		TxHash:   m.TxHash.Hex(),
	})
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Side: ref.side}
	if !changed {
		out.Duplicate = true
		return out, nil
	}

	sw, ok, err := tx.SwapByHashlock(ctx, ref.hashlock)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s escrow %s hashlock %s", ErrSwapMissing, ref.side, address, ref.hashlock)
	}

	var trigger Trigger
	switch {
	case status == storage.LegCancelled:
		trigger = Cancelled
		out.Delta = CancellationDelta()
	case ref.side == storage.SideSrc:
		trigger = SourceWithdrawn
		out.Delta = WithdrawalDelta(ref.amount)
	default:
		trigger = DestinationWithdrawn
		out.Delta = WithdrawalDelta(nil)
		if ref.owns(sw) {
			out.Delta = WithdrawalDelta(sw.DstAmount)
		}
	}

	// A leg that lost a hashlock conflict never drives the swap it collided with.
	if !ref.owns(sw) {
		out.Anomaly = &Anomaly{
			Reason:   ReasonHashlockConflict,
			Escrow:   address,
			Hashlock: ref.hashlock,
			Err:      fmt.Errorf("%w: escrow %s is not part of swap %d", ErrHashlockConflict, address, sw.ID),
		}
		return out, nil
	}

	out.From = sw.Status
	sw.Status = Next(sw.Status, trigger)
	if sw.Status != out.From {
		switch sw.Status {
		case storage.SwapCompleted:
			sw.CompletedAt = closedAt
			sw.Secret = secret
		case storage.SwapCancelled:
			sw.CancelledAt = closedAt
		}
		if err := tx.UpdateSwap(ctx, sw); err != nil {
			return Outcome{}, err
		}
	}
	out.Swap = sw
	return out, nil
}

type legRef struct {
	side      storage.Side
	address   string
	hashlock  string
	orderHash string
	amount    *uint256.Int
}

func (r legRef) owns(sw storage.Swap) bool {
	if r.side == storage.SideSrc {
		return sw.OrderHash == r.orderHash && sw.SrcEscrow == r.address
	}
	return sw.DstEscrow == r.address
}

// findLeg resolves an escrow address to its leg. A zero side means no leg row
// exists for the address on that chain.
func findLeg(ctx context.Context, tx Tx, chainID uint64, address string) (legRef, error) {
	src, ok, err := tx.SrcEscrow(ctx, chainID, address)
	if err != nil {
		return legRef{}, err
	}
	if ok {
		return legRef{side: storage.SideSrc, address: address, hashlock: src.Hashlock, orderHash: src.OrderHash, amount: src.Amount}, nil
	}
	dst, ok, err := tx.DstEscrow(ctx, chainID, address)
	if err != nil {
		return legRef{}, err
	}
	if ok {
		return legRef{side: storage.SideDst, address: address, hashlock: dst.Hashlock}, nil
	}
	return legRef{}, nil
}

// applySource copies the fields the source leg owns. The declared destination chain
// overrides whatever the destination leg supplied.
func applySource(sw *storage.Swap, leg storage.SrcEscrow) {
	sw.OrderHash = leg.OrderHash
	sw.SrcChainID = leg.ChainID
	sw.DstChainID = leg.DstChainID
	sw.SrcEscrow = leg.Address
	sw.SrcMaker = leg.Maker
	sw.SrcTaker = leg.Taker
	sw.DstMaker = leg.DstMaker
	sw.SrcToken = leg.Token
	sw.SrcAmount = leg.Amount
	sw.DstToken = leg.DstToken
	sw.DstAmount = leg.DstAmount
	sw.SrcSafetyDeposit = leg.SafetyDeposit
	sw.DstSafetyDeposit = leg.DstSafetyDeposit
	sw.Timelocks = leg.Timelocks
	sw.SrcCreatedAt = leg.CreatedAt
}

func applyDestination(sw *storage.Swap, leg storage.DstEscrow) {
	sw.DstEscrow = leg.Address
	sw.DstTaker = leg.Taker
	sw.DstCreatedAt = leg.CreatedAt
	if sw.DstChainID == 0 {
		sw.DstChainID = leg.ChainID
	}
}
