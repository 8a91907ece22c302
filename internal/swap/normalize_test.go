package swap

import (
	"math/big"
	"testing"

	"github.com/devblac/swap-tower/internal/escrow"
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSourceResolvesEscrowAddress(t *testing.T) {
	n := NewNormalizer(map[uint64]escrow.Resolver{srcChain: resolver})
	ev := srcEvent(0x01, 0xa1, 1000, common.Address{})
	ev.EscrowAddress = nil

	rec, err := n.Normalize(ev)
	require.NoError(t, err)
	src, ok := rec.(SourceRecord)
	require.True(t, ok)

	im, err := ev.Immutables()
	require.NoError(t, err)
	require.Equal(t, escrow.Hex(resolver.SrcAddress(im)), src.Leg.Address)
	require.Equal(t, escrow.Hex(maker), src.Leg.Maker)
	require.Equal(t, escrow.Hex(tokenA), src.Leg.Token)
	require.Equal(t, escrow.Hex(tokenB), src.Leg.DstToken)
	require.Equal(t, dstChain, src.Leg.DstChainID)
	require.Equal(t, storage.LegCreated, src.Leg.Status)

	hashlock, ok := Hashlock(rec)
	require.True(t, ok)
	require.Equal(t, hexHash(0xa1), hashlock)
}

func TestNormalizeSourceWithoutResolver(t *testing.T) {
	n := NewNormalizer(nil)
	ev := srcEvent(0x01, 0xa1, 1000, common.Address{})
	ev.EscrowAddress = nil

	_, err := n.Normalize(ev)
	require.ErrorIs(t, err, ErrDecode)
}

func TestNormalizePackedAddressIgnoresHighBits(t *testing.T) {
	n := NewNormalizer(nil)
	ev := dstEvent(0xb1, addr(2))
	// Flag bits above the low 160 are not part of the address.
	ev.Taker = new(big.Int).Or(packed(taker), new(big.Int).Lsh(big.NewInt(1), 200))

	rec, err := n.Normalize(ev)
	require.NoError(t, err)
	dst := rec.(DestinationRecord)
	require.Equal(t, escrow.Hex(taker), dst.Leg.Taker)
	require.Equal(t, escrow.Hex(addr(2)), dst.Leg.Address)
	require.Equal(t, dstChain, dst.Leg.ChainID)
}

func TestNormalizeRejectsMalformedPayloads(t *testing.T) {
	n := NewNormalizer(nil)

	oversized := srcEvent(0x01, 0xa1, 1000, addr(1))
	oversized.Amount = new(big.Int).Lsh(big.NewInt(1), 256)

	negative := dstEvent(0xb1, addr(2))
	negative.Taker = big.NewInt(-1)

	noChain := withdrawEvent(0, addr(3), 0x01)

	noEscrow := cancelEvent(srcChain, common.Address{})

	hugeChain := srcEvent(0x01, 0xa1, 1000, addr(1))
	hugeChain.DstChainID = new(big.Int).Lsh(big.NewInt(1), 70)

	for name, ev := range map[string]Event{
		"oversized amount":  oversized,
		"negative taker":    negative,
		"missing chain":     noChain,
		"missing escrow":    noEscrow,
		"dst chain too big": hugeChain,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(ev)
			require.ErrorIs(t, err, ErrDecode)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			require.Equal(t, ev.Kind(), de.Kind)
		})
	}
}

func TestNormalizeLifecycleEvents(t *testing.T) {
	n := NewNormalizer(nil)

	rec, err := n.Normalize(withdrawEvent(srcChain, addr(3), 0x5e))
	require.NoError(t, err)
	w := rec.(WithdrawalRecord)
	require.Equal(t, escrow.Hex(addr(3)), w.Escrow)
	require.Equal(t, hexHash(0x5e), w.Secret)
	_, ok := Hashlock(rec)
	require.False(t, ok)

	rec, err = n.Normalize(cancelEvent(dstChain, addr(4)))
	require.NoError(t, err)
	c := rec.(CancellationRecord)
	require.Equal(t, escrow.Hex(addr(4)), c.Escrow)
	require.Equal(t, dstChain, c.RecordMeta().ChainID)
}

func TestNormalizeReportsFirstMissingField(t *testing.T) {
	n := NewNormalizer(nil)
	ev := srcEvent(0x01, 0xa1, 1000, addr(1))
	ev.Token = nil
	ev.Amount = nil
	ev.Timelocks = nil

	for i := 0; i < 20; i++ {
		_, err := n.Normalize(ev)
		require.ErrorIs(t, err, ErrDecode)
		require.Contains(t, err.Error(), "field token missing")
	}
}
