package swap

import "github.com/devblac/swap-tower/internal/storage"

// Trigger is an input to the swap state machine.
type Trigger int

const (
	SourceObserved Trigger = iota
	DestinationObserved
	SourceWithdrawn
	DestinationWithdrawn
	Cancelled
)

func (t Trigger) String() string {
	switch t {
	case SourceObserved:
		return "source_observed"
	case DestinationObserved:
		return "destination_observed"
	case SourceWithdrawn:
		return "source_withdrawn"
	case DestinationWithdrawn:
		return "destination_withdrawn"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Next returns the status after trigger. An empty current status means no
// aggregate exists yet. Terminal statuses never change, and a trigger that does
// not apply leaves the status as is.
func Next(cur storage.SwapStatus, trigger Trigger) storage.SwapStatus {
	if cur.Terminal() {
		return cur
	}
	switch trigger {
	case SourceObserved:
		switch cur {
		case "":
			return storage.SwapSrcCreated
		case storage.SwapDstCreatedOnly:
			return storage.SwapBothCreated
		}
	case DestinationObserved:
		switch cur {
		case "":
			return storage.SwapDstCreatedOnly
		case storage.SwapSrcCreated:
			return storage.SwapBothCreated
		}
	case SourceWithdrawn:
		switch cur {
		case storage.SwapSrcCreated, storage.SwapBothCreated:
			return storage.SwapCompleted
		}
	case DestinationWithdrawn:
		// The destination claim alone does not settle the swap.
		return cur
	case Cancelled:
		if cur != "" {
			return storage.SwapCancelled
		}
	}
	return cur
}
