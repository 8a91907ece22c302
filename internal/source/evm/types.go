package evm

import (
	"errors"
	"math/big"

	"github.com/devblac/swap-tower/internal/swap"
)

// ErrReorgDetected signals that the chain rewound; caller should restart from the updated cursor.
var ErrReorgDetected = errors.New("reorg detected")

// Batch is one block's escrow events. The cursor moves only when the batch is
// committed, after every event has been handled.
type Batch struct {
	ChainID uint64
	Height  uint64
	Hash    string
	Events  []swap.Event
	// Foreign counts lifecycle logs dropped because their emitter is not an
	// escrow clone.
	Foreign int
}

type immutablesTuple struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         *big.Int
	Taker         *big.Int
	Token         *big.Int
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

type complementTuple struct {
	Maker         *big.Int
	Amount        *big.Int
	Token         *big.Int
	SafetyDeposit *big.Int
	ChainId       *big.Int
}
