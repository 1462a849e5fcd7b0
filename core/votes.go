package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// VoteRecord is the ledger of a single decision round. A voter appears in
// Voters at most once per epoch; closing a round bumps Epoch and clears the
// tallies instead of deleting the record.
type VoteRecord struct {
	Epoch        uint64                          `json:"epoch"`
	VotesFor     *uint256.Int                    `json:"votes_for"`
	VotesAgainst *uint256.Int                    `json:"votes_against"`
	Voters       map[common.Address]*uint256.Int `json:"voters"`
}

func newVoteRecord(epoch uint64) *VoteRecord {
	return &VoteRecord{
		Epoch:        epoch,
		VotesFor:     new(uint256.Int),
		VotesAgainst: new(uint256.Int),
		Voters:       make(map[common.Address]*uint256.Int),
	}
}

func (r *VoteRecord) HasVoted(voter common.Address) bool {
	_, ok := r.Voters[voter]
	return ok
}

// cast records the voter's weight on one side of the round.
func (r *VoteRecord) cast(voter common.Address, weight *uint256.Int, accept bool) error {
	if r.HasVoted(voter) {
		return errors.Wrapf(ErrAlreadyVoted, "voter %s, epoch %d", voter, r.Epoch)
	}
	r.Voters[voter] = new(uint256.Int).Set(weight)
	if accept {
		r.VotesFor.Add(r.VotesFor, weight)
	} else {
		r.VotesAgainst.Add(r.VotesAgainst, weight)
	}
	return nil
}

// reset closes the current round and opens the next one.
func (r *VoteRecord) reset() {
	*r = *newVoteRecord(r.Epoch + 1)
}

func (r *VoteRecord) clone() *VoteRecord {
	if r == nil {
		return nil
	}
	c := &VoteRecord{
		Epoch:        r.Epoch,
		VotesFor:     new(uint256.Int).Set(r.VotesFor),
		VotesAgainst: new(uint256.Int).Set(r.VotesAgainst),
		Voters:       make(map[common.Address]*uint256.Int, len(r.Voters)),
	}
	for voter, weight := range r.Voters {
		c.Voters[voter] = new(uint256.Int).Set(weight)
	}
	return c
}

// reviewAccept maps a review status to the side of the vote.
func reviewAccept(status MilestoneStatus) (bool, error) {
	switch status {
	case StatusAccepted:
		return true, nil
	case StatusRejected:
		return false, nil
	}
	return false, errors.Wrapf(ErrInvalidStatus, "status %s", status)
}
