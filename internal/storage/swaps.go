package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// SwapStatus is the reconciled state of one swap.
type SwapStatus string

const (
	SwapSrcCreated     SwapStatus = "src_created"
	SwapDstCreatedOnly SwapStatus = "dst_created_only"
	SwapBothCreated    SwapStatus = "both_created"
	SwapCompleted      SwapStatus = "completed"
	SwapCancelled      SwapStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s SwapStatus) Terminal() bool {
	return s == SwapCompleted || s == SwapCancelled
}

// Swap is the denormalized view of both legs. ID is a stable internal key; OrderHash
// stays empty until the source leg is observed, which marks the row as a placeholder.
type Swap struct {
	ID         int64
	OrderHash  string
	Hashlock   string
	SrcChainID uint64
	DstChainID uint64
	SrcEscrow  string
	DstEscrow  string

	SrcMaker string
	SrcTaker string
	DstMaker string
	DstTaker string

	SrcToken         string
	SrcAmount        *uint256.Int
	DstToken         string
	DstAmount        *uint256.Int
	SrcSafetyDeposit *uint256.Int
	DstSafetyDeposit *uint256.Int
	Timelocks        *uint256.Int

	Status       SwapStatus
	SrcCreatedAt time.Time
	DstCreatedAt time.Time
	CompletedAt  time.Time
	CancelledAt  time.Time
	Secret       string
}

// Placeholder reports whether the swap is still addressed only by hashlock.
func (s Swap) Placeholder() bool {
	return s.OrderHash == ""
}

const swapColumns = `id, order_hash, hashlock, src_chain_id, dst_chain_id, src_escrow, dst_escrow,
  src_maker, src_taker, dst_maker, dst_taker, src_token, src_amount, dst_token, dst_amount,
  src_safety_deposit, dst_safety_deposit, timelocks, status,
  src_created_at, dst_created_at, completed_at, cancelled_at, secret`

// InsertSwap creates a swap row and returns its internal id.
func (t *Tx) InsertSwap(ctx context.Context, s Swap) (int64, error) {
	if s.Hashlock == "" || s.Status == "" {
		return 0, errors.New("hashlock and status are required")
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO swaps (order_hash, hashlock, src_chain_id, dst_chain_id, src_escrow, dst_escrow,
  src_maker, src_taker, dst_maker, dst_taker, src_token, src_amount, dst_token, dst_amount,
  src_safety_deposit, dst_safety_deposit, timelocks, status,
  src_created_at, dst_created_at, completed_at, cancelled_at, secret)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, swapArgs(s)...)
	if err != nil {
		return 0, fmt.Errorf("insert swap: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert swap id: %w", err)
	}
	return id, nil
}

// UpdateSwap rewrites every mutable column of the swap identified by s.ID.
func (t *Tx) UpdateSwap(ctx context.Context, s Swap) error {
	if s.ID == 0 {
		return errors.New("swap id required")
	}
	args := append(swapArgs(s), s.ID)
	res, err := t.tx.ExecContext(ctx, `
UPDATE swaps SET order_hash = ?, hashlock = ?, src_chain_id = ?, dst_chain_id = ?, src_escrow = ?, dst_escrow = ?,
  src_maker = ?, src_taker = ?, dst_maker = ?, dst_taker = ?, src_token = ?, src_amount = ?, dst_token = ?, dst_amount = ?,
  src_safety_deposit = ?, dst_safety_deposit = ?, timelocks = ?, status = ?,
  src_created_at = ?, dst_created_at = ?, completed_at = ?, cancelled_at = ?, secret = ?
WHERE id = ?;
`, args...)
	if err != nil {
		return fmt.Errorf("update swap: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update swap %d: %w", s.ID, ErrNotFound)
	}
	return nil
}

func swapArgs(s Swap) []any {
	return []any{
		nullString(s.OrderHash), s.Hashlock, nullUint(s.SrcChainID), nullUint(s.DstChainID),
		nullString(s.SrcEscrow), nullString(s.DstEscrow),
		nullString(s.SrcMaker), nullString(s.SrcTaker), nullString(s.DstMaker), nullString(s.DstTaker),
		nullString(s.SrcToken), nullDecimal(s.SrcAmount), nullString(s.DstToken), nullDecimal(s.DstAmount),
		nullDecimal(s.SrcSafetyDeposit), nullDecimal(s.DstSafetyDeposit), nullDecimal(s.Timelocks), string(s.Status),
		nullUnix(s.SrcCreatedAt), nullUnix(s.DstCreatedAt), nullUnix(s.CompletedAt), nullUnix(s.CancelledAt),
		nullString(s.Secret),
	}
}

// SwapByHashlock loads the swap addressed by hashlock inside the transaction.
func (t *Tx) SwapByHashlock(ctx context.Context, hashlock string) (Swap, bool, error) {
	return getSwap(ctx, t.tx, "hashlock", hashlock)
}

// SwapByHashlock loads the swap addressed by hashlock, placeholder or not.
func (s *Store) SwapByHashlock(ctx context.Context, hashlock string) (Swap, bool, error) {
	return getSwap(ctx, s.db, "hashlock", hashlock)
}

// SwapByOrderHash loads a finalized swap by its order hash.
func (s *Store) SwapByOrderHash(ctx context.Context, orderHash string) (Swap, bool, error) {
	return getSwap(ctx, s.db, "order_hash", orderHash)
}

func getSwap(ctx context.Context, q querier, column, value string) (Swap, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE `+column+` = ?;`, value)
	s, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Swap{}, false, nil
	}
	if err != nil {
		return Swap{}, false, fmt.Errorf("get swap by %s: %w", column, err)
	}
	return s, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSwap(r rowScanner) (Swap, error) {
	var (
		s                                               Swap
		orderHash, srcEscrow, dstEscrow                 sql.NullString
		srcMaker, srcTaker, dstMaker, dstTaker          sql.NullString
		srcToken, dstToken, secret                      sql.NullString
		srcAmount, dstAmount, srcDep, dstDep, timelocks sql.NullString
		srcChain, dstChain                              sql.NullInt64
		srcCreated, dstCreated, completed, cancelled    sql.NullInt64
		status                                          string
	)
	err := r.Scan(&s.ID, &orderHash, &s.Hashlock, &srcChain, &dstChain, &srcEscrow, &dstEscrow,
		&srcMaker, &srcTaker, &dstMaker, &dstTaker, &srcToken, &srcAmount, &dstToken, &dstAmount,
		&srcDep, &dstDep, &timelocks, &status,
		&srcCreated, &dstCreated, &completed, &cancelled, &secret)
	if err != nil {
		return Swap{}, err
	}

	s.OrderHash = orderHash.String
	s.SrcChainID = uint64(srcChain.Int64)
	s.DstChainID = uint64(dstChain.Int64)
	s.SrcEscrow = srcEscrow.String
	s.DstEscrow = dstEscrow.String
	s.SrcMaker = srcMaker.String
	s.SrcTaker = srcTaker.String
	s.DstMaker = dstMaker.String
	s.DstTaker = dstTaker.String
	s.SrcToken = srcToken.String
	s.DstToken = dstToken.String
	s.Secret = secret.String
	s.Status = SwapStatus(status)
	s.SrcCreatedAt = fromUnix(srcCreated)
	s.DstCreatedAt = fromUnix(dstCreated)
	s.CompletedAt = fromUnix(completed)
	s.CancelledAt = fromUnix(cancelled)

	for _, f := range []struct {
		dst **uint256.Int
		src sql.NullString
	}{
		{&s.SrcAmount, srcAmount},
		{&s.DstAmount, dstAmount},
		{&s.SrcSafetyDeposit, srcDep},
		{&s.DstSafetyDeposit, dstDep},
		{&s.Timelocks, timelocks},
	} {
		v, err := parseDecimal(f.src)
		if err != nil {
			return Swap{}, err
		}
		*f.dst = v
	}
	return s, nil
}

// SwapFilter narrows ListSwaps. Zero values match everything.
type SwapFilter struct {
	Status       SwapStatus
	Placeholders bool
	Limit        int
}

// ListSwaps returns swaps ordered by internal id.
func (s *Store) ListSwaps(ctx context.Context, f SwapFilter) ([]Swap, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Placeholders {
		where = append(where, "order_hash IS NULL")
	}
	query := `SELECT ` + swapColumns + ` FROM swaps`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}
	defer rows.Close()

	var out []Swap
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// CountPlaceholders returns the number of swaps not yet assigned an order hash.
func (s *Store) CountPlaceholders(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM swaps WHERE order_hash IS NULL;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count placeholders: %w", err)
	}
	return n, nil
}
