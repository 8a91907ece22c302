package swap

import (
	"github.com/devblac/swap-tower/internal/storage"
	"github.com/holiman/uint256"
)

// SourceDelta counts a new source escrow and its principal.
func SourceDelta(leg storage.SrcEscrow) storage.StatsDelta {
	return storage.StatsDelta{SrcCreated: 1, SrcVolume: clone(leg.Amount)}
}

// DestinationDelta counts a new destination escrow.
func DestinationDelta() storage.StatsDelta {
	return storage.StatsDelta{DstCreated: 1}
}

// WithdrawalDelta counts a withdrawal. amount may be nil when the withdrawn leg's
// principal is not known yet.
func WithdrawalDelta(amount *uint256.Int) storage.StatsDelta {
	return storage.StatsDelta{Withdrawals: 1, WithdrawnVolume: clone(amount)}
}

// CancellationDelta counts a cancellation.
func CancellationDelta() storage.StatsDelta {
	return storage.StatsDelta{Cancellations: 1}
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
