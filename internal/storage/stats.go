package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("not found")

// StatsDelta is one event's contribution to the per-chain counters.
type StatsDelta struct {
	SrcCreated      uint64
	DstCreated      uint64
	Withdrawals     uint64
	Cancellations   uint64
	SrcVolume       *uint256.Int
	WithdrawnVolume *uint256.Int
}

// ChainStats holds the running counters for one chain.
type ChainStats struct {
	ChainID         uint64
	SrcCreated      uint64
	DstCreated      uint64
	Withdrawals     uint64
	Cancellations   uint64
	SrcVolume       *uint256.Int
	WithdrawnVolume *uint256.Int
	LastBlock       uint64
	UpdatedAt       time.Time
}

// ApplyStats adds d to the chain's counters and raises the block watermark. The row
// is created on first use.
func (t *Tx) ApplyStats(ctx context.Context, chainID uint64, d StatsDelta, block uint64) error {
	if chainID == 0 {
		return errors.New("chain_id required")
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO chain_stats (chain_id) VALUES (?)
ON CONFLICT(chain_id) DO NOTHING;
`, chainID); err != nil {
		return fmt.Errorf("init chain stats: %w", err)
	}

	var srcVol, wdVol sql.NullString
	if err := t.tx.QueryRowContext(ctx, `
SELECT src_volume, withdrawn_volume FROM chain_stats WHERE chain_id = ?;
`, chainID).Scan(&srcVol, &wdVol); err != nil {
		return fmt.Errorf("read chain stats: %w", err)
	}
	newSrc, err := addVolume(srcVol, d.SrcVolume)
	if err != nil {
		return err
	}
	newWd, err := addVolume(wdVol, d.WithdrawnVolume)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
UPDATE chain_stats SET
  src_created = src_created + ?,
  dst_created = dst_created + ?,
  withdrawals = withdrawals + ?,
  cancellations = cancellations + ?,
  src_volume = ?,
  withdrawn_volume = ?,
  last_block = MAX(last_block, ?),
  updated_at = CURRENT_TIMESTAMP
WHERE chain_id = ?;
`, d.SrcCreated, d.DstCreated, d.Withdrawals, d.Cancellations, newSrc.Dec(), newWd.Dec(), block, chainID)
	if err != nil {
		return fmt.Errorf("update chain stats: %w", err)
	}
	return nil
}

func addVolume(cur sql.NullString, delta *uint256.Int) (*uint256.Int, error) {
	base, err := parseDecimal(cur)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = new(uint256.Int)
	}
	if delta == nil {
		return base, nil
	}
	sum, overflow := new(uint256.Int).AddOverflow(base, delta)
	if overflow {
		return nil, errors.New("chain stats volume overflow")
	}
	return sum, nil
}

// ChainStats loads the counters for one chain.
func (s *Store) ChainStats(ctx context.Context, chainID uint64) (ChainStats, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT chain_id, src_created, dst_created, withdrawals, cancellations, src_volume, withdrawn_volume, last_block, updated_at
FROM chain_stats WHERE chain_id = ?;
`, chainID)
	cs, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChainStats{}, false, nil
	}
	if err != nil {
		return ChainStats{}, false, fmt.Errorf("get chain stats: %w", err)
	}
	return cs, true, nil
}

// AllChainStats lists the counters of every chain seen so far.
func (s *Store) AllChainStats(ctx context.Context) ([]ChainStats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chain_id, src_created, dst_created, withdrawals, cancellations, src_volume, withdrawn_volume, last_block, updated_at
FROM chain_stats ORDER BY chain_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list chain stats: %w", err)
	}
	defer rows.Close()

	var out []ChainStats
	for rows.Next() {
		cs, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain stats: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func scanStats(r rowScanner) (ChainStats, error) {
	var (
		cs            ChainStats
		srcVol, wdVol sql.NullString
	)
	if err := r.Scan(&cs.ChainID, &cs.SrcCreated, &cs.DstCreated, &cs.Withdrawals, &cs.Cancellations,
		&srcVol, &wdVol, &cs.LastBlock, &cs.UpdatedAt); err != nil {
		return ChainStats{}, err
	}
	var err error
	if cs.SrcVolume, err = parseDecimal(srcVol); err != nil {
		return ChainStats{}, err
	}
	if cs.WithdrawnVolume, err = parseDecimal(wdVol); err != nil {
		return ChainStats{}, err
	}
	return cs, nil
}
