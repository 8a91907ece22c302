package swap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Record is the normalized form of an Event: SourceRecord, DestinationRecord,
// WithdrawalRecord or CancellationRecord.
type Record interface {
	RecordMeta() Meta
	isRecord()
}

// SourceRecord is a source leg ready for storage.
type SourceRecord struct {
	Meta
	Leg storage.SrcEscrow
}

// DestinationRecord is a destination leg ready for storage.
type DestinationRecord struct {
	Meta
	Leg storage.DstEscrow
}

// WithdrawalRecord reveals a secret on one escrow.
type WithdrawalRecord struct {
	Meta
	Escrow string
	Secret string
}

// CancellationRecord closes one escrow without a secret.
type CancellationRecord struct {
	Meta
	Escrow string
}

func (r SourceRecord) RecordMeta() Meta       { return r.Meta }
func (r DestinationRecord) RecordMeta() Meta  { return r.Meta }
func (r WithdrawalRecord) RecordMeta() Meta   { return r.Meta }
func (r CancellationRecord) RecordMeta() Meta { return r.Meta }

func (SourceRecord) isRecord()       {}
func (DestinationRecord) isRecord()  {}
func (WithdrawalRecord) isRecord()   {}
func (CancellationRecord) isRecord() {}

// Hashlock returns the correlation key carried by creation records.
func Hashlock(r Record) (string, bool) {
	switch rec := r.(type) {
	case SourceRecord:
		return rec.Leg.Hashlock, true
	case DestinationRecord:
		return rec.Leg.Hashlock, true
	default:
		return "", false
	}
}

// Normalizer maps raw events to records. Resolvers are keyed by chain id and are
// needed only for source events that omit the escrow address.
type Normalizer struct {
	resolvers map[uint64]escrow.Resolver
}

// NewNormalizer builds a normalizer over the given per-chain resolvers.
func NewNormalizer(resolvers map[uint64]escrow.Resolver) *Normalizer {
	rs := make(map[uint64]escrow.Resolver, len(resolvers))
	for id, r := range resolvers {
		rs[id] = r
	}
	return &Normalizer{resolvers: rs}
}

// Normalize decodes one event. Any failure is a *DecodeError.
func (n *Normalizer) Normalize(ev Event) (Record, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrDecode)
	}
	m := ev.EventMeta()
	if m.ChainID == 0 {
		return nil, NewDecodeError(ev.Kind(), m, errors.New("chain id missing"))
	}

	var (
		rec Record
		err error
	)
	switch e := ev.(type) {
	case SrcEscrowCreated:
		rec, err = n.source(e)
	case DstEscrowCreated:
		rec, err = n.destination(e)
	case EscrowWithdrawn:
		rec, err = withdrawal(e)
	case EscrowCancelled:
		rec, err = cancellation(e)
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}
	if err != nil {
		return nil, NewDecodeError(ev.Kind(), m, err)
	}
	return rec, nil
}

func (n *Normalizer) source(e SrcEscrowCreated) (Record, error) {
	im, err := e.Immutables()
	if err != nil {
		return nil, err
	}
	dst, err := words(
		field{"dst maker", e.DstMaker},
		field{"dst amount", e.DstAmount},
		field{"dst token", e.DstToken},
		field{"dst safety deposit", e.DstSafetyDeposit},
		field{"dst chain id", e.DstChainID},
	)
	if err != nil {
		return nil, err
	}
	dstMaker, dstAmount, dstToken, dstDeposit, dstChain := dst[0], dst[1], dst[2], dst[3], dst[4]
	if !dstChain.IsUint64() {
		return nil, fmt.Errorf("dst chain id %s out of range", dstChain.Dec())
	}

	var addr common.Address
	if e.EscrowAddress != nil {
		addr = *e.EscrowAddress
	} else {
		r, ok := n.resolvers[e.ChainID]
		if !ok {
			return nil, fmt.Errorf("no escrow resolver configured for chain %d", e.ChainID)
		}
		addr = r.SrcAddress(im)
	}

	leg := storage.SrcEscrow{
		ChainID:          e.ChainID,
		Address:          escrow.Hex(addr),
		OrderHash:        hexutil.Encode(e.OrderHash[:]),
		Hashlock:         hexutil.Encode(e.Hashlock[:]),
		Maker:            escrow.Hex(escrow.DecodeAddress(im.Maker)),
		Taker:            escrow.Hex(escrow.DecodeAddress(im.Taker)),
		Token:            escrow.Hex(escrow.DecodeAddress(im.Token)),
		Amount:           im.Amount,
		SafetyDeposit:    im.SafetyDeposit,
		Timelocks:        im.Timelocks,
		DstChainID:       dstChain.Uint64(),
		DstMaker:         escrow.Hex(escrow.DecodeAddress(dstMaker)),
		DstToken:         escrow.Hex(escrow.DecodeAddress(dstToken)),
		DstAmount:        dstAmount,
		DstSafetyDeposit: dstDeposit,
		BlockNumber:      e.BlockNumber,
		CreatedAt:        e.Timestamp.UTC(),
		TxHash:           hexutil.Encode(e.TxHash[:]),
		Status:           storage.LegCreated,
	}
	return SourceRecord{Meta: e.Meta, Leg: leg}, nil
}

// Immutables converts the event payload into the escrow deployment parameters.
func (e SrcEscrowCreated) Immutables() (escrow.Immutables, error) {
	w, err := words(
		field{"maker", e.Maker},
		field{"taker", e.Taker},
		field{"token", e.Token},
		field{"amount", e.Amount},
		field{"safety deposit", e.SafetyDeposit},
		field{"timelocks", e.Timelocks},
	)
	if err != nil {
		return escrow.Immutables{}, err
	}
	return escrow.Immutables{
		OrderHash:     common.Hash(e.OrderHash),
		Hashlock:      common.Hash(e.Hashlock),
		Maker:         w[0],
		Taker:         w[1],
		Token:         w[2],
		Amount:        w[3],
		SafetyDeposit: w[4],
		Timelocks:     w[5],
	}, nil
}

func (n *Normalizer) destination(e DstEscrowCreated) (Record, error) {
	if e.Escrow == (common.Address{}) {
		return nil, errors.New("escrow address missing")
	}
	w, err := words(field{"taker", e.Taker})
	if err != nil {
		return nil, err
	}
	leg := storage.DstEscrow{
		ChainID:     e.ChainID,
		Address:     escrow.Hex(e.Escrow),
		Hashlock:    hexutil.Encode(e.Hashlock[:]),
		Taker:       escrow.Hex(escrow.DecodeAddress(w[0])),
		BlockNumber: e.BlockNumber,
		CreatedAt:   e.Timestamp.UTC(),
		TxHash:      hexutil.Encode(e.TxHash[:]),
		Status:      storage.LegCreated,
	}
	return DestinationRecord{Meta: e.Meta, Leg: leg}, nil
}

func withdrawal(e EscrowWithdrawn) (Record, error) {
	if e.Escrow == (common.Address{}) {
		return nil, errors.New("escrow address missing")
	}
	return WithdrawalRecord{Meta: e.Meta, Escrow: escrow.Hex(e.Escrow), Secret: hexutil.Encode(e.Secret[:])}, nil
}

func cancellation(e EscrowCancelled) (Record, error) {
	if e.Escrow == (common.Address{}) {
		return nil, errors.New("escrow address missing")
	}
	return CancellationRecord{Meta: e.Meta, Escrow: escrow.Hex(e.Escrow)}, nil
}

type field struct {
	name  string
	value *big.Int
}

// words converts ABI integers to 256-bit words in argument order, rejecting
// missing, negative or oversized values. The first bad field is reported.
func words(fields ...field) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		if f.value == nil {
			return nil, fmt.Errorf("field %s missing", f.name)
		}
		if f.value.Sign() < 0 {
			return nil, fmt.Errorf("field %s negative", f.name)
		}
		w, overflow := uint256.FromBig(f.value)
		if overflow {
			return nil, fmt.Errorf("field %s exceeds 256 bits", f.name)
		}
		out[i] = w
	}
	return out, nil
}
