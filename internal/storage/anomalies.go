package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Anomaly is a durably recorded event the pipeline could not apply, kept for later
// reconciliation.
type Anomaly struct {
	ID          string
	ChainID     uint64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Kind        string
	Reason      string
	Escrow      string
	Hashlock    string
	PayloadJSON string
	CreatedAt   time.Time
}

// AnomalyID derives the natural key of an anomaly from its log position.
func AnomalyID(chainID uint64, txHash string, logIndex uint) string {
	return fmt.Sprintf("%d:%s:%d", chainID, txHash, logIndex)
}

// RecordAnomaly stores an anomaly once; redelivery of the same log is a no-op. It
// reports whether a new row was written.
func (t *Tx) RecordAnomaly(ctx context.Context, a Anomaly) (bool, error) {
	if a.ID == "" {
		a.ID = AnomalyID(a.ChainID, a.TxHash, a.LogIndex)
	}
	if a.Kind == "" || a.Reason == "" {
		return false, errors.New("anomaly kind and reason required")
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO anomalies (id, chain_id, block_number, tx_hash, log_index, kind, reason, escrow, hashlock, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
ON CONFLICT(id) DO NOTHING;
`, a.ID, a.ChainID, a.BlockNumber, a.TxHash, a.LogIndex, a.Kind, a.Reason,
		nullString(a.Escrow), nullString(a.Hashlock), nullString(a.PayloadJSON), nullTime(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("record anomaly: %w", err)
	}
	return affected(res)
}

// Anomalies returns the most recent anomalies first.
func (s *Store) Anomalies(ctx context.Context, limit int) ([]Anomaly, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, chain_id, block_number, tx_hash, log_index, kind, reason,
  COALESCE(escrow, ''), COALESCE(hashlock, ''), COALESCE(payload_json, ''), created_at
FROM anomalies ORDER BY created_at DESC, id LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.ID, &a.ChainID, &a.BlockNumber, &a.TxHash, &a.LogIndex, &a.Kind, &a.Reason,
			&a.Escrow, &a.Hashlock, &a.PayloadJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Send represents a sink delivery record for an anomaly alert.
type Send struct {
	AnomalyID    string
	SinkID       string
	Status       string
	ResponseCode int
	CreatedAt    time.Time
}

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per anomaly/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.AnomalyID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("anomaly_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (anomaly_id, sink_id, status, response_code, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, srec.AnomalyID, srec.SinkID, srec.Status, srec.ResponseCode, nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// SendExists reports whether an anomaly was already delivered to a sink.
func (s *Store) SendExists(ctx context.Context, anomalyID, sinkID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sends WHERE anomaly_id = ? AND sink_id = ?;
`, anomalyID, sinkID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check send: %w", err)
	}
	return n > 0, nil
}
