package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/source/evm"
	"github.com/devblac/swap-tower/internal/swap"
	"golang.org/x/sync/errgroup"
)

// Source is one chain's block stream. *evm.Scanner satisfies it.
type Source interface {
	ChainID() uint64
	Cursor(ctx context.Context) (uint64, bool, error)
	ProcessNext(ctx context.Context) (*evm.Batch, error)
	Commit(ctx context.Context, b *evm.Batch) error
}

// Handler applies a single escrow event. *swap.Processor satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev swap.Event) error
}

var (
	_ Source  = (*evm.Scanner)(nil)
	_ Handler = (*swap.Processor)(nil)
)

type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Poll is how long a chain at its confirmed tip waits before asking again.
	Poll time.Duration
	// To stops a chain once its cursor reaches this height. Zero means follow forever.
	To uint64
}

// Runner drives every chain's source into the event handler, one goroutine per chain.
type Runner struct {
	sources  []Source
	handler  Handler
	metrics  *metrics.Metrics
	log      *slog.Logger
	poll     time.Duration
	targetTo uint64
}

// NewRunner builds a runner over the given sources.
func NewRunner(sources []Source, handler Handler, opts Options) *Runner {
	r := &Runner{
		sources:  sources,
		handler:  handler,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		poll:     opts.Poll,
		targetTo: opts.To,
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.poll <= 0 {
		r.poll = 5 * time.Second
	}
	return r
}

// RunOnce processes at most one eligible block per chain.
func (r *Runner) RunOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		src := src
		g.Go(func() error {
			_, err := r.step(gctx, src)
			return err
		})
	}
	return g.Wait()
}

// Run follows every chain until ctx is cancelled, every chain reached the target
// height, or one chain fails. A failing chain stops the others.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		src := src
		g.Go(func() error {
			return r.follow(gctx, src)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) follow(ctx context.Context, src Source) error {
	for {
		done, err := r.reached(ctx, src)
		if err != nil {
			return err
		}
		if done {
			r.log.Info("target height reached", "chain_id", src.ChainID(), "to", r.targetTo)
			return nil
		}
		progressed, err := r.step(ctx, src)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// step handles the next block of src and commits its cursor. It reports whether
// the chain moved, so a caller at the tip can back off.
func (r *Runner) step(ctx context.Context, src Source) (bool, error) {
	chainID := src.ChainID()
	done, err := r.reached(ctx, src)
	if err != nil || done {
		return false, err
	}

	batch, err := src.ProcessNext(ctx)
	if err != nil {
		if errors.Is(err, evm.ErrReorgDetected) {
			r.log.Warn("reorg detected, cursor rewound", "chain_id", chainID, "err", err)
			return true, nil
		}
		var de *swap.DecodeError
		if errors.As(err, &de) {
			r.metrics.DecodeError(string(de.Kind))
		}
		r.metrics.Errors()
		return false, fmt.Errorf("chain %d: %w", chainID, err)
	}
	if batch == nil {
		return false, nil
	}

	for _, ev := range batch.Events {
		if err := r.handler.Handle(ctx, ev); err != nil {
			r.metrics.Errors()
			return false, fmt.Errorf("chain %d block %d: %w", chainID, batch.Height, err)
		}
	}
	if err := src.Commit(ctx, batch); err != nil {
		r.metrics.Errors()
		return false, fmt.Errorf("chain %d commit %d: %w", chainID, batch.Height, err)
	}
	r.metrics.BlocksProcessed(chainID)
	r.log.Debug("block processed", "chain_id", chainID, "height", batch.Height, "events", len(batch.Events), "foreign", batch.Foreign)
	return true, nil
}

func (r *Runner) reached(ctx context.Context, src Source) (bool, error) {
	if r.targetTo == 0 {
		return false, nil
	}
	h, ok, err := src.Cursor(ctx)
	if err != nil {
		return false, err
	}
	return ok && h >= r.targetTo, nil
}
