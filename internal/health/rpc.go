package health

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderClient is the part of an EVM client needed to ping it.
type HeaderClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// RPCChecker pings the node of every indexed chain.
type RPCChecker struct {
	clients map[string]HeaderClient
}

// NewRPCChecker creates a checker keyed by chain config id.
func NewRPCChecker(clients map[string]HeaderClient) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Check fetches the latest header from each chain and returns the failures by
// chain id. Chains that answered map to nil.
func (c *RPCChecker) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(c.clients))
	for id, cli := range c.clients {
		if _, err := cli.HeaderByNumber(ctx, nil); err != nil {
			out[id] = fmt.Errorf("chain %s: %w", id, err)
			continue
		}
		out[id] = nil
	}
	return out
}

// Ping returns the first failure in chain id order.
func (c *RPCChecker) Ping(ctx context.Context) error {
	res := c.Check(ctx)
	ids := make([]string, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if res[id] != nil {
			return res[id]
		}
	}
	return nil
}
