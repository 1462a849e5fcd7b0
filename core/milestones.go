package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OfferMilestones opens a milestone set round. The proposer's weight is cast
// as an accept vote, so a proposer holding enough power installs the set
// immediately. Percentages are checked when the set is installed, not here.
func (s *Strategy) OfferMilestones(ctx context.Context, from common.Address, inputs []MilestoneInput) error {
	return s.update(ctx, func(tx *txn) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		p, err := tx.manager(from)
		if err != nil {
			return err
		}
		if len(tx.Milestones) != 0 {
			return ErrMilestonesInstalled
		}
		if tx.Proposal != nil {
			return errors.Wrapf(ErrProposalOutstanding, "epoch %d", tx.ProposalVotes.Epoch)
		}

		milestones := make([]Milestone, len(inputs))
		for i, in := range inputs {
			milestones[i] = Milestone{
				Percentage: cloneInt(in.Percentage),
				Metadata:   in.Metadata,
				Status:     StatusNone,
			}
		}
		tx.Proposal = &Proposal{Proposer: from, Milestones: milestones}
		tx.emit(Event{Kind: EventMilestonesOffered, Epoch: tx.ProposalVotes.Epoch, Actor: from, Index: len(milestones)})

		return tx.voteMilestones(from, p, true)
	})
}

// ReviewMilestones casts a manager's vote on the outstanding milestone set.
func (s *Strategy) ReviewMilestones(ctx context.Context, from common.Address, status MilestoneStatus) error {
	accept, err := reviewAccept(status)
	if err != nil {
		return err
	}

	return s.update(ctx, func(tx *txn) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		p, err := tx.manager(from)
		if err != nil {
			return err
		}
		if len(tx.Milestones) != 0 {
			return ErrMilestonesInstalled
		}
		if tx.Proposal == nil {
			return ErrNoProposal
		}

		return tx.voteMilestones(from, p, accept)
	})
}

func (tx *txn) voteMilestones(from common.Address, p *Participant, accept bool) error {
	round := tx.ProposalVotes
	epoch := round.Epoch
	if err := round.cast(from, p.ManagerWeight, accept); err != nil {
		return err
	}
	tx.emit(Event{Kind: EventMilestonesVoted, Epoch: epoch, Actor: from, Status: statusOf(accept), Weight: cloneInt(p.ManagerWeight)})

	logger := tx.s.logger.WithFields(logrus.Fields{"pool": tx.PoolID, "epoch": epoch, "voter": from.Hex()})
	logger.Debugf("milestone set vote, accept: %v", accept)

	switch {
	case accept && Exceeds(round.VotesFor, tx.TotalSupply, tx.Threshold):
		total, overflow := percentageSum(tx.Proposal.Milestones)
		if overflow || !total.Eq(Scale) {
			return errors.Wrapf(ErrPercentageSum, "got %s of %s", total.Dec(), Scale.Dec())
		}
		tx.Milestones = tx.Proposal.Milestones
		tx.Proposal = nil
		round.reset()
		tx.emit(Event{Kind: EventMilestonesAccepted, Epoch: epoch, Actor: from, Index: len(tx.Milestones)})
		logger.Infof("milestone set accepted, %d milestones installed", len(tx.Milestones))

	case !accept && Exceeds(round.VotesAgainst, tx.TotalSupply, tx.Threshold):
		tx.Proposal = nil
		round.reset()
		tx.emit(Event{Kind: EventMilestonesRejected, Epoch: epoch, Actor: from})
		logger.Info("milestone set rejected")
	}
	return nil
}

func percentageSum(ms []Milestone) (*uint256.Int, bool) {
	total := new(uint256.Int)
	for _, m := range ms {
		if _, overflow := total.AddOverflow(total, cloneInt(m.Percentage)); overflow {
			return total, true
		}
	}
	return total, false
}

func statusOf(accept bool) MilestoneStatus {
	if accept {
		return StatusAccepted
	}
	return StatusRejected
}
