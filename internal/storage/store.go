package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store wraps SQLite-backed persistence for cursors, escrow legs, swaps, per-chain
// statistics, anomalies and alert deliveries.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// dsn attaches per-connection pragmas so every pooled connection waits on locks.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS src_escrows (
  chain_id            INTEGER NOT NULL,
  address             TEXT NOT NULL,
  order_hash          TEXT NOT NULL,
  hashlock            TEXT NOT NULL,
  maker               TEXT NOT NULL,
  taker               TEXT NOT NULL,
  token               TEXT NOT NULL,
  amount              TEXT NOT NULL,
  safety_deposit      TEXT NOT NULL,
  timelocks           TEXT NOT NULL,
  dst_chain_id        INTEGER NOT NULL,
  dst_maker           TEXT NOT NULL,
  dst_token           TEXT NOT NULL,
  dst_amount          TEXT NOT NULL,
  dst_safety_deposit  TEXT NOT NULL,
  block_number        INTEGER NOT NULL,
  created_at          INTEGER NOT NULL,
  tx_hash             TEXT NOT NULL,
  status              TEXT NOT NULL,
  secret              TEXT,
  closed_at           INTEGER,
  closed_tx_hash      TEXT,
  PRIMARY KEY(chain_id, address)
);
CREATE INDEX IF NOT EXISTS src_escrows_hashlock ON src_escrows(hashlock);

CREATE TABLE IF NOT EXISTS dst_escrows (
  chain_id        INTEGER NOT NULL,
  address         TEXT NOT NULL,
  hashlock        TEXT NOT NULL,
  taker           TEXT NOT NULL,
  block_number    INTEGER NOT NULL,
  created_at      INTEGER NOT NULL,
  tx_hash         TEXT NOT NULL,
  status          TEXT NOT NULL,
  secret          TEXT,
  closed_at       INTEGER,
  closed_tx_hash  TEXT,
  PRIMARY KEY(chain_id, address)
);
CREATE INDEX IF NOT EXISTS dst_escrows_hashlock ON dst_escrows(hashlock);

CREATE TABLE IF NOT EXISTS swaps (
  id                  INTEGER PRIMARY KEY AUTOINCREMENT,
  order_hash          TEXT UNIQUE,
  hashlock            TEXT NOT NULL UNIQUE,
  src_chain_id        INTEGER,
  dst_chain_id        INTEGER,
  src_escrow          TEXT,
  dst_escrow          TEXT,
  src_maker           TEXT,
  src_taker           TEXT,
  dst_maker           TEXT,
  dst_taker           TEXT,
  src_token           TEXT,
  src_amount          TEXT,
  dst_token           TEXT,
  dst_amount          TEXT,
  src_safety_deposit  TEXT,
  dst_safety_deposit  TEXT,
  timelocks           TEXT,
  status              TEXT NOT NULL,
  src_created_at      INTEGER,
  dst_created_at      INTEGER,
  completed_at        INTEGER,
  cancelled_at        INTEGER,
  secret              TEXT
);
CREATE INDEX IF NOT EXISTS swaps_status ON swaps(status);

CREATE TABLE IF NOT EXISTS chain_stats (
  chain_id          INTEGER PRIMARY KEY,
  src_created       INTEGER NOT NULL DEFAULT 0,
  dst_created       INTEGER NOT NULL DEFAULT 0,
  withdrawals       INTEGER NOT NULL DEFAULT 0,
  cancellations     INTEGER NOT NULL DEFAULT 0,
  src_volume        TEXT NOT NULL DEFAULT '0',
  withdrawn_volume  TEXT NOT NULL DEFAULT '0',
  last_block        INTEGER NOT NULL DEFAULT 0,
  updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS anomalies (
  id            TEXT PRIMARY KEY,
  chain_id      INTEGER NOT NULL,
  block_number  INTEGER NOT NULL,
  tx_hash       TEXT NOT NULL,
  log_index     INTEGER NOT NULL,
  kind          TEXT NOT NULL,
  reason        TEXT NOT NULL,
  escrow        TEXT,
  hashlock      TEXT,
  payload_json  TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sends (
  anomaly_id    TEXT NOT NULL,
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  response_code INTEGER,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(anomaly_id, sink_id)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// Cursor is a stored scan position.
type Cursor struct {
	SourceID  string
	Height    uint64
	Hash      string
	UpdatedAt time.Time
}

// Cursors lists every stored cursor ordered by source.
func (s *Store) Cursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, height, hash, updated_at FROM cursors ORDER BY source_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceID, &c.Height, &c.Hash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tx is one event's unit of work. All writes for an event go through a single Tx.
type Tx struct {
	tx *sql.Tx
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsBusy reports whether err is a lock conflict worth retrying.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUint(v uint64) any {
	if v == 0 {
		return nil
	}
	return v
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func nullDecimal(v *uint256.Int) any {
	if v == nil {
		return nil
	}
	return v.Dec()
}

func parseDecimal(s sql.NullString) (*uint256.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s.String, err)
	}
	return v, nil
}
