package escrow

import (
	"time"

	"github.com/holiman/uint256"
)

// Stage indexes one 32-bit offset inside an encoded timelock schedule.
type Stage uint8

const (
	SrcWithdrawal Stage = iota
	SrcPublicWithdrawal
	SrcCancellation
	SrcPublicCancellation
	DstWithdrawal
	DstPublicWithdrawal
	DstCancellation
)

var stageNames = [...]string{
	"src_withdrawal",
	"src_public_withdrawal",
	"src_cancellation",
	"src_public_cancellation",
	"dst_withdrawal",
	"dst_public_withdrawal",
	"dst_cancellation",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

const deployedAtOffset = 224

// Timelocks wraps the packed schedule: seven second offsets in the low 224 bits and
// the deployment timestamp in the top 32 bits.
type Timelocks struct {
	raw uint256.Int
}

// NewTimelocks wraps an encoded schedule. A nil value yields an empty schedule.
func NewTimelocks(v *uint256.Int) Timelocks {
	var t Timelocks
	if v != nil {
		t.raw.Set(v)
	}
	return t
}

// DeployedAt is the block timestamp the escrow was deployed at.
func (t Timelocks) DeployedAt() time.Time {
	var v uint256.Int
	v.Rsh(&t.raw, deployedAtOffset)
	return time.Unix(int64(v.Uint64()), 0).UTC()
}

// Offset returns the raw offset in seconds for stage s.
func (t Timelocks) Offset(s Stage) uint32 {
	var v uint256.Int
	v.Rsh(&t.raw, uint(s)*32)
	return uint32(v.Uint64())
}

// Deadline returns the absolute start time of stage s.
func (t Timelocks) Deadline(s Stage) time.Time {
	return t.DeployedAt().Add(time.Duration(t.Offset(s)) * time.Second)
}

// Schedule returns every stage deadline keyed by stage name.
func (t Timelocks) Schedule() map[string]time.Time {
	out := make(map[string]time.Time, len(stageNames))
	for i := range stageNames {
		s := Stage(i)
		out[s.String()] = t.Deadline(s)
	}
	return out
}
