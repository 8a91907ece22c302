package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Side identifies which leg of a swap an escrow belongs to.
type Side string

const (
	SideSrc Side = "src"
	SideDst Side = "dst"
)

// LegStatus is the lifecycle of one escrow contract. created is the only
// non-terminal state.
type LegStatus string

const (
	LegCreated   LegStatus = "created"
	LegWithdrawn LegStatus = "withdrawn"
	LegCancelled LegStatus = "cancelled"
)

// SrcEscrow is the source-chain leg, written once from its creation event.
type SrcEscrow struct {
	ChainID       uint64
	Address       string
	OrderHash     string
	Hashlock      string
	Maker         string
	Taker         string
	Token         string
	Amount        *uint256.Int
	SafetyDeposit *uint256.Int
	Timelocks     *uint256.Int

	DstChainID       uint64
	DstMaker         string
	DstToken         string
	DstAmount        *uint256.Int
	DstSafetyDeposit *uint256.Int

	BlockNumber uint64
	CreatedAt   time.Time
	TxHash      string

	Status       LegStatus
	Secret       string
	ClosedAt     time.Time
	ClosedTxHash string
}

// DstEscrow is the destination-chain leg. Its creation event carries only the
// escrow, hashlock and taker.
type DstEscrow struct {
	ChainID     uint64
	Address     string
	Hashlock    string
	Taker       string
	BlockNumber uint64
	CreatedAt   time.Time
	TxHash      string

	Status       LegStatus
	Secret       string
	ClosedAt     time.Time
	ClosedTxHash string
}

// LegClose describes a terminal transition of one escrow.
type LegClose struct {
	Side     Side
	ChainID  uint64
	Address  string
	Status   LegStatus
	Secret   string
	ClosedAt time.Time
	TxHash   string
}

// InsertSrcEscrow stores a source leg. It reports false when the row already
// existed, leaving the stored row untouched.
func (t *Tx) InsertSrcEscrow(ctx context.Context, e SrcEscrow) (bool, error) {
	if e.ChainID == 0 || e.Address == "" || e.Hashlock == "" {
		return false, errors.New("chain_id, address and hashlock are required")
	}
	status := e.Status
	if status == "" {
		status = LegCreated
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO src_escrows (
  chain_id, address, order_hash, hashlock, maker, taker, token, amount, safety_deposit, timelocks,
  dst_chain_id, dst_maker, dst_token, dst_amount, dst_safety_deposit,
  block_number, created_at, tx_hash, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chain_id, address) DO NOTHING;
`, e.ChainID, e.Address, e.OrderHash, e.Hashlock, e.Maker, e.Taker, e.Token,
		decimal(e.Amount), decimal(e.SafetyDeposit), decimal(e.Timelocks),
		e.DstChainID, e.DstMaker, e.DstToken, decimal(e.DstAmount), decimal(e.DstSafetyDeposit),
		e.BlockNumber, e.CreatedAt.Unix(), e.TxHash, string(status))
	if err != nil {
		return false, fmt.Errorf("insert src escrow: %w", err)
	}
	return affected(res)
}

// InsertDstEscrow stores a destination leg with the same semantics as InsertSrcEscrow.
func (t *Tx) InsertDstEscrow(ctx context.Context, e DstEscrow) (bool, error) {
	if e.ChainID == 0 || e.Address == "" || e.Hashlock == "" {
		return false, errors.New("chain_id, address and hashlock are required")
	}
	status := e.Status
	if status == "" {
		status = LegCreated
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO dst_escrows (chain_id, address, hashlock, taker, block_number, created_at, tx_hash, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chain_id, address) DO NOTHING;
`, e.ChainID, e.Address, e.Hashlock, e.Taker, e.BlockNumber, e.CreatedAt.Unix(), e.TxHash, string(status))
	if err != nil {
		return false, fmt.Errorf("insert dst escrow: %w", err)
	}
	return affected(res)
}

// CloseLeg moves a created escrow to a terminal status. It reports false when the
// escrow is unknown or already terminal; terminal rows are never rewritten.
func (t *Tx) CloseLeg(ctx context.Context, c LegClose) (bool, error) {
	if c.Status != LegWithdrawn && c.Status != LegCancelled {
		return false, fmt.Errorf("close leg: invalid status %q", c.Status)
	}
	table, err := legTable(c.Side)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE `+table+` SET status = ?, secret = ?, closed_at = ?, closed_tx_hash = ?
WHERE chain_id = ? AND address = ? AND status = ?;
`, string(c.Status), nullString(c.Secret), nullUnix(c.ClosedAt), nullString(c.TxHash),
		c.ChainID, c.Address, string(LegCreated))
	if err != nil {
		return false, fmt.Errorf("close %s leg: %w", c.Side, err)
	}
	return affected(res)
}

// SrcEscrow loads a source leg inside the transaction.
func (t *Tx) SrcEscrow(ctx context.Context, chainID uint64, address string) (SrcEscrow, bool, error) {
	return getSrcEscrow(ctx, t.tx, chainID, address)
}

// DstEscrow loads a destination leg inside the transaction.
func (t *Tx) DstEscrow(ctx context.Context, chainID uint64, address string) (DstEscrow, bool, error) {
	return getDstEscrow(ctx, t.tx, chainID, address)
}

// SrcEscrow loads a source leg.
func (s *Store) SrcEscrow(ctx context.Context, chainID uint64, address string) (SrcEscrow, bool, error) {
	return getSrcEscrow(ctx, s.db, chainID, address)
}

// DstEscrow loads a destination leg.
func (s *Store) DstEscrow(ctx context.Context, chainID uint64, address string) (DstEscrow, bool, error) {
	return getDstEscrow(ctx, s.db, chainID, address)
}

func getSrcEscrow(ctx context.Context, q querier, chainID uint64, address string) (SrcEscrow, bool, error) {
	var (
		e                                          SrcEscrow
		amount, deposit, timelocks, dstAmt, dstDep sql.NullString
		status                                     string
		secret, closedTx                           sql.NullString
		createdAt, closedAt                        sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
SELECT chain_id, address, order_hash, hashlock, maker, taker, token, amount, safety_deposit, timelocks,
  dst_chain_id, dst_maker, dst_token, dst_amount, dst_safety_deposit,
  block_number, created_at, tx_hash, status, secret, closed_at, closed_tx_hash
FROM src_escrows WHERE chain_id = ? AND address = ?;
`, chainID, address).Scan(
		&e.ChainID, &e.Address, &e.OrderHash, &e.Hashlock, &e.Maker, &e.Taker, &e.Token,
		&amount, &deposit, &timelocks,
		&e.DstChainID, &e.DstMaker, &e.DstToken, &dstAmt, &dstDep,
		&e.BlockNumber, &createdAt, &e.TxHash, &status, &secret, &closedAt, &closedTx,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SrcEscrow{}, false, nil
	}
	if err != nil {
		return SrcEscrow{}, false, fmt.Errorf("get src escrow: %w", err)
	}

	for _, f := range []struct {
		dst **uint256.Int
		src sql.NullString
	}{
		{&e.Amount, amount},
		{&e.SafetyDeposit, deposit},
		{&e.Timelocks, timelocks},
		{&e.DstAmount, dstAmt},
		{&e.DstSafetyDeposit, dstDep},
	} {
		v, err := parseDecimal(f.src)
		if err != nil {
			return SrcEscrow{}, false, err
		}
		*f.dst = v
	}
	e.Status = LegStatus(status)
	e.Secret = secret.String
	e.ClosedTxHash = closedTx.String
	e.CreatedAt = fromUnix(createdAt)
	e.ClosedAt = fromUnix(closedAt)
	return e, true, nil
}

func getDstEscrow(ctx context.Context, q querier, chainID uint64, address string) (DstEscrow, bool, error) {
	var (
		e                   DstEscrow
		status              string
		secret, closedTx    sql.NullString
		createdAt, closedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
SELECT chain_id, address, hashlock, taker, block_number, created_at, tx_hash, status, secret, closed_at, closed_tx_hash
FROM dst_escrows WHERE chain_id = ? AND address = ?;
`, chainID, address).Scan(
		&e.ChainID, &e.Address, &e.Hashlock, &e.Taker, &e.BlockNumber, &createdAt, &e.TxHash,
		&status, &secret, &closedAt, &closedTx,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DstEscrow{}, false, nil
	}
	if err != nil {
		return DstEscrow{}, false, fmt.Errorf("get dst escrow: %w", err)
	}
	e.Status = LegStatus(status)
	e.Secret = secret.String
	e.ClosedTxHash = closedTx.String
	e.CreatedAt = fromUnix(createdAt)
	e.ClosedAt = fromUnix(closedAt)
	return e, true, nil
}

func legTable(side Side) (string, error) {
	switch side {
	case SideSrc:
		return "src_escrows", nil
	case SideDst:
		return "dst_escrows", nil
	default:
		return "", fmt.Errorf("unknown leg side %q", side)
	}
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
