// Package swap turns decoded escrow logs into leg records and reconciles both legs
// of a cross-chain swap into one aggregate.
package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names the four escrow event shapes.
type Kind string

const (
	KindSrcEscrowCreated Kind = "src_escrow_created"
	KindDstEscrowCreated Kind = "dst_escrow_created"
	KindWithdrawal       Kind = "withdrawal"
	KindCancellation     Kind = "cancellation"
)

// Meta locates an event on its chain.
type Meta struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   common.Hash
	Timestamp   time.Time
	TxHash      common.Hash
	LogIndex    uint
	Emitter     common.Address
}

// Event is one of SrcEscrowCreated, DstEscrowCreated, EscrowWithdrawn or
// EscrowCancelled. Fields keep their on-chain encoding; packed addresses are still
// 256-bit integers.
type Event interface {
	EventMeta() Meta
	Kind() Kind
	isEvent()
}

// SrcEscrowCreated is emitted by the factory on the source chain.
type SrcEscrowCreated struct {
	Meta

	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         *big.Int
	Taker         *big.Int
	Token         *big.Int
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int

	DstMaker         *big.Int
	DstAmount        *big.Int
	DstToken         *big.Int
	DstSafetyDeposit *big.Int
	DstChainID       *big.Int

	// EscrowAddress is set only when the emitting factory reports the clone address.
	EscrowAddress *common.Address
}

// DstEscrowCreated is emitted by the factory on the destination chain.
type DstEscrowCreated struct {
	Meta

	Escrow   common.Address
	Hashlock [32]byte
	Taker    *big.Int
}

// EscrowWithdrawn is emitted by an escrow clone when the secret is revealed.
type EscrowWithdrawn struct {
	Meta

	Escrow common.Address
	Secret [32]byte
}

// EscrowCancelled is emitted by an escrow clone when funds return to their owner.
type EscrowCancelled struct {
	Meta

	Escrow common.Address
}

func (e SrcEscrowCreated) EventMeta() Meta { return e.Meta }
func (e DstEscrowCreated) EventMeta() Meta { return e.Meta }
func (e EscrowWithdrawn) EventMeta() Meta  { return e.Meta }
func (e EscrowCancelled) EventMeta() Meta  { return e.Meta }

func (SrcEscrowCreated) Kind() Kind { return KindSrcEscrowCreated }
func (DstEscrowCreated) Kind() Kind { return KindDstEscrowCreated }
func (EscrowWithdrawn) Kind() Kind  { return KindWithdrawal }
func (EscrowCancelled) Kind() Kind  { return KindCancellation }

func (SrcEscrowCreated) isEvent() {}
func (DstEscrowCreated) isEvent() {}
func (EscrowWithdrawn) isEvent()  {}
func (EscrowCancelled) isEvent()  {}

var (
	// ErrDecode marks a payload that does not match the expected event shape. It is
	// fatal for the event and must reach the operator.
	ErrDecode = errors.New("decode escrow event")

	// ErrHashlockConflict means a hashlock is already owned by a different order.
	ErrHashlockConflict = errors.New("hashlock owned by another order")

	// ErrSwapMissing means a leg exists without its swap aggregate.
	ErrSwapMissing = errors.New("swap aggregate missing for leg")
)

// DecodeError carries the position of an undecodable event.
type DecodeError struct {
	Kind     Kind
	ChainID  uint64
	TxHash   common.Hash
	LogIndex uint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s chain %d tx %s log %d: %v", ErrDecode, e.Kind, e.ChainID, e.TxHash.Hex(), e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// NewDecodeError wraps err with the event's position.
func NewDecodeError(kind Kind, m Meta, err error) *DecodeError {
	return &DecodeError{Kind: kind, ChainID: m.ChainID, TxHash: m.TxHash, LogIndex: m.LogIndex, Err: err}
}
