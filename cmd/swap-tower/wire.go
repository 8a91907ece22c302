package main

import (
	"fmt"
	"log/slog"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/engine"
	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/health"
	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/sink"
	"github.com/devblac/swap-tower/internal/source/evm"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/devblac/swap-tower/internal/swap"
	"github.com/ethereum/go-ethereum/common"
)

func resolverFor(ch config.Chain) escrow.Resolver {
	return escrow.Resolver{
		Factory:           ch.FactoryAddress(),
		SrcImplementation: common.HexToAddress(ch.SrcImplementation),
		DstImplementation: common.HexToAddress(ch.DstImplementation),
	}
}

func resolvers(cfg *config.Config) map[uint64]escrow.Resolver {
	out := make(map[uint64]escrow.Resolver, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		out[ch.ChainID] = resolverFor(ch)
	}
	return out
}

// chainSet is every dialed chain: scanners for the runner and clients for health.
type chainSet struct {
	sources []engine.Source
	clients map[string]health.HeaderClient
}

func (c chainSet) close() {
	for _, cli := range c.clients {
		if rc, ok := cli.(*evm.RPCClient); ok {
			rc.Close()
		}
	}
}

func openChains(cfg *config.Config, store *storage.Store, from uint64) (chainSet, error) {
	set := chainSet{clients: map[string]health.HeaderClient{}}
	for _, ch := range cfg.Chains {
		events, err := evm.LoadEscrowEvents(ch.ABIDirs)
		if err != nil {
			set.close()
			return chainSet{}, fmt.Errorf("chain %s abi: %w", ch.ID, err)
		}
		cli, err := evm.NewRPCClient(ch.RPCURL)
		if err != nil {
			set.close()
			return chainSet{}, fmt.Errorf("chain %s: %w", ch.ID, err)
		}
		set.clients[ch.ID] = cli
		confirmations := ch.ConfirmationDepth(cfg.Global.Confirmations)
		set.sources = append(set.sources, evm.NewScanner(cli, store, ch, confirmations, events, from))
	}
	return set, nil
}

// buildNotifier returns nil when no sink is routed anomalies.
func buildNotifier(cfg *config.Config, store *storage.Store, m *metrics.Metrics, log *slog.Logger) (swap.Notifier, error) {
	if len(cfg.Anomalies.Sinks) == 0 {
		return nil, nil
	}
	senders := map[string]sink.Sender{}
	for _, s := range cfg.Sinks {
		sender, err := sink.New(s)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		senders[s.ID] = sender
	}
	var bucket *sink.TokenBucket
	if cfg.Anomalies.Burst > 0 {
		bucket = sink.NewTokenBucket(float64(cfg.Anomalies.Burst), cfg.Anomalies.PerSecond)
	}
	return sink.NewNotifier(store, senders, cfg.Anomalies.Sinks, bucket, m, log), nil
}
