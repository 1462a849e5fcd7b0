package core

import (
	"github.com/holiman/uint256"
)

var hundred = uint256.NewInt(100)

// Exceeds reports whether votes strictly exceed pct percent of total.
// A tally exactly on the threshold does not pass.
func Exceeds(votes, total *uint256.Int, pct uint64) bool {
	required, overflow := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(pct), hundred)
	if overflow {
		return false
	}
	return votes.Gt(required)
}
