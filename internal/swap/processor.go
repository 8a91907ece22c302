package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Notifier is told about anomalies after they are committed.
type Notifier interface {
	Notify(ctx context.Context, a storage.Anomaly)
}

// Options configures a Processor. Zero values select defaults.
type Options struct {
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Notifier Notifier
	// Retries is the number of attempts for a transaction that hits a lock conflict.
	Retries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

// Processor applies one event at a time: normalize, then leg write, correlation,
// statistics and anomalies inside a single store transaction.
type Processor struct {
	store   *storage.Store
	norm    *Normalizer
	corr    Correlator
	metrics *metrics.Metrics
	log     *slog.Logger
	notify  Notifier
	retries int
	backoff time.Duration
}

// NewProcessor wires a processor over store and normalizer.
func NewProcessor(store *storage.Store, norm *Normalizer, opts Options) *Processor {
	p := &Processor{
		store:   store,
		norm:    norm,
		metrics: opts.Metrics,
		log:     opts.Logger,
		notify:  opts.Notifier,
		retries: opts.Retries,
		backoff: opts.Backoff,
	}
	if p.log == nil {
		p.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.retries <= 0 {
		p.retries = 5
	}
	if p.backoff <= 0 {
		p.backoff = 50 * time.Millisecond
	}
	return p
}

// Handle applies ev. Decode failures and store failures are returned; orphan,
// conflicting and duplicate events are absorbed.
func (p *Processor) Handle(ctx context.Context, ev Event) error {
	rec, err := p.norm.Normalize(ev)
	if err != nil {
		kind := ""
		if ev != nil {
			kind = string(ev.Kind())
		}
		p.metrics.DecodeError(kind)
		p.log.Error("escrow event not decodable", "kind", kind, "err", err)
		return err
	}
	m := rec.RecordMeta()

	var (
		out      Outcome
		recorded *storage.Anomaly
	)
	err = p.withRetry(ctx, func() error {
		recorded = nil
		return p.store.WithTx(ctx, func(tx *storage.Tx) error {
			o, err := p.corr.Apply(ctx, tx, rec)
			if err != nil {
				return err
			}
			// Runs for empty deltas too so last_block tracks every handled event.
			if err := tx.ApplyStats(ctx, m.ChainID, o.Delta, m.BlockNumber); err != nil {
				return err
			}
			if o.Anomaly != nil {
				a := anomalyRow(ev, o.Anomaly)
				created, err := tx.RecordAnomaly(ctx, a)
				if err != nil {
					return err
				}
				if created {
					recorded = &a
				}
			}
			out = o
			return nil
		})
	})
	if err != nil {
		p.metrics.Errors()
		return fmt.Errorf("apply %s chain %d tx %s log %d: %w", ev.Kind(), m.ChainID, m.TxHash.Hex(), m.LogIndex, err)
	}

	p.observe(ctx, ev, out, recorded)
	return nil
}

func (p *Processor) observe(ctx context.Context, ev Event, out Outcome, recorded *storage.Anomaly) {
	kind := string(ev.Kind())
	m := ev.EventMeta()

	if out.Anomaly != nil {
		if recorded == nil {
			p.metrics.Duplicate(kind)
			return
		}
		p.metrics.Anomaly(out.Anomaly.Reason)
		p.log.Warn("anomaly recorded",
			"reason", out.Anomaly.Reason,
			"kind", kind,
			"chain_id", m.ChainID,
			"block", m.BlockNumber,
			"escrow", out.Anomaly.Escrow,
			"err", out.Anomaly.Err,
		)
		if p.notify != nil {
			p.notify.Notify(ctx, *recorded)
		}
		return
	}
	if out.Duplicate {
		p.metrics.Duplicate(kind)
		p.log.Debug("duplicate event absorbed", "kind", kind, "chain_id", m.ChainID, "tx", m.TxHash.Hex(), "log_index", m.LogIndex)
		return
	}

	p.metrics.Event(kind)
	if out.PlaceholderCreated {
		p.metrics.PlaceholderCreated()
	}
	if out.Promoted {
		p.metrics.PlaceholderPromoted()
	}
	if out.Transitioned() {
		switch out.Swap.Status {
		case storage.SwapCompleted:
			p.metrics.SwapCompleted()
		case storage.SwapCancelled:
			p.metrics.SwapCancelled()
		}
	}
	p.log.Info("escrow event applied",
		"kind", kind,
		"chain_id", m.ChainID,
		"block", m.BlockNumber,
		"side", out.Side,
		"hashlock", out.Swap.Hashlock,
		"status", out.Swap.Status,
	)
}

func (p *Processor) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		err = fn()
		if err == nil || !storage.IsBusy(err) {
			return err
		}
		if attempt == p.retries {
			break
		}
		p.metrics.TxRetry()
		p.log.Debug("store busy, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.retries, err)
}

func anomalyRow(ev Event, a *Anomaly) storage.Anomaly {
	m := ev.EventMeta()
	txHash := m.TxHash.Hex()
	row := storage.Anomaly{
		ID:          storage.AnomalyID(m.ChainID, txHash, m.LogIndex),
		ChainID:     m.ChainID,
		BlockNumber: m.BlockNumber,
		TxHash:      txHash,
		LogIndex:    m.LogIndex,
		Kind:        string(ev.Kind()),
		Reason:      a.Reason,
		Escrow:      a.Escrow,
		Hashlock:    a.Hashlock,
		CreatedAt:   m.Timestamp.UTC(),
	}
	if b, err := json.Marshal(Payload(ev)); err == nil {
		row.PayloadJSON = string(b)
	}
	return row
}

// Payload renders an event with hex-encoded hashes and decimal integers.
func Payload(ev Event) map[string]any {
	m := ev.EventMeta()
	out := map[string]any{
		"kind":         string(ev.Kind()),
		"chain_id":     m.ChainID,
		"block_number": m.BlockNumber,
		"block_hash":   m.BlockHash.Hex(),
		"tx_hash":      m.TxHash.Hex(),
		"log_index":    m.LogIndex,
		"emitter":      m.Emitter.Hex(),
		"timestamp":    m.Timestamp.UTC().Format(time.RFC3339),
	}
	switch e := ev.(type) {
	case SrcEscrowCreated:
		out["order_hash"] = hexutil.Encode(e.OrderHash[:])
		out["hashlock"] = hexutil.Encode(e.Hashlock[:])
		out["maker"] = dec(e.Maker)
		out["taker"] = dec(e.Taker)
		out["token"] = dec(e.Token)
		out["amount"] = dec(e.Amount)
		out["safety_deposit"] = dec(e.SafetyDeposit)
		out["timelocks"] = dec(e.Timelocks)
		out["dst_maker"] = dec(e.DstMaker)
		out["dst_amount"] = dec(e.DstAmount)
		out["dst_token"] = dec(e.DstToken)
		out["dst_safety_deposit"] = dec(e.DstSafetyDeposit)
		out["dst_chain_id"] = dec(e.DstChainID)
		if e.EscrowAddress != nil {
			out["escrow"] = e.EscrowAddress.Hex()
		}
	case DstEscrowCreated:
		out["escrow"] = e.Escrow.Hex()
		out["hashlock"] = hexutil.Encode(e.Hashlock[:])
		out["taker"] = dec(e.Taker)
	case EscrowWithdrawn:
		out["escrow"] = e.Escrow.Hex()
		out["secret"] = hexutil.Encode(e.Secret[:])
	case EscrowCancelled:
		out["escrow"] = e.Escrow.Hex()
	}
	return out
}

func dec(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
