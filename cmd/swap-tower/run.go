package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/engine"
	"github.com/devblac/swap-tower/internal/health"
	"github.com/devblac/swap-tower/internal/logging"
	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/devblac/swap-tower/internal/swap"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagFrom    uint64
	flagTo      uint64
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process one block per chain and exit")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start height for chains without a cursor")
	runCmd.Flags().Uint64Var(&flagTo, "to", 0, "Stop at height (inclusive)")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index escrow events and reconcile swaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DB())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		chains, err := openChains(cfg, store, flagFrom)
		if err != nil {
			return err
		}
		defer chains.close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		notifier, err := buildNotifier(cfg, store, mtr, log)
		if err != nil {
			return err
		}

		proc := swap.NewProcessor(store, swap.NewNormalizer(resolvers(cfg)), swap.Options{
			Metrics:  mtr,
			Logger:   log,
			Notifier: notifier,
			Retries:  cfg.Global.Retries(),
			Backoff:  cfg.Global.Backoff(),
		})

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(chains.clients)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing: store.Ping,
				Chains: rpcChecker.Check,
			}, nil)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		runner := engine.NewRunner(chains.sources, proc, engine.Options{
			Metrics: mtr,
			Logger:  log,
			Poll:    cfg.Global.Poll(),
			To:      flagTo,
		})

		if flagOnce {
			if err := runner.RunOnce(ctx); err != nil {
				log.Error("run error", "error", err)
				return err
			}
			log.Info("pass complete", "chains", len(chains.sources))
			return nil
		}

		log.Info("indexing", "chains", len(chains.sources), "to", flagTo)
		if err := runner.Run(ctx); err != nil {
			log.Error("run error", "error", err)
			return err
		}
		log.Info("stopped")
		return nil
	},
}
