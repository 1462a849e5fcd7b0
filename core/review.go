package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SubmitMilestone marks a milestone as pending review. The current hunter or
// any manager may submit; a manager's submission also counts as its accept
// vote. Every submission opens a fresh review round for the index.
func (s *Strategy) SubmitMilestone(ctx context.Context, from common.Address, index int, metadata string) error {
	return s.update(ctx, func(tx *txn) error {
		if err := tx.requireActive(); err != nil {
			return err
		}

		p := tx.participant(from)
		isHunter := from == tx.Hunter && p.Roles.Has(RoleHunter)
		isManager := p.Roles.Has(RoleManager)
		if !isHunter && !isManager {
			return errors.Wrapf(ErrNotHunter, "address %s", from)
		}
		if tx.Hunter == (common.Address{}) {
			return ErrNoRecipient
		}

		m, err := tx.milestone(index)
		if err != nil {
			return err
		}
		switch m.Status {
		case StatusAccepted:
			return errors.Wrapf(ErrMilestoneFinal, "index %d", index)
		case StatusNone, StatusPending, StatusRejected:
		default:
			return errors.Wrapf(ErrInvalidStatus, "milestone %d is %s", index, m.Status)
		}

		m.Status = StatusPending
		m.Submission = metadata

		round, ok := tx.Submissions[index]
		if ok {
			round.reset()
		} else {
			round = newVoteRecord(0)
			tx.Submissions[index] = round
		}
		tx.emit(Event{Kind: EventMilestoneSubmitted, Epoch: round.Epoch, Actor: from, Subject: tx.Hunter, Index: index})

		tx.s.logger.WithFields(logrus.Fields{
			"pool":  tx.PoolID,
			"index": index,
			"epoch": round.Epoch,
			"from":  from.Hex(),
		}).Info("milestone submitted")

		if isHunter {
			return nil
		}
		return tx.voteSubmission(from, p, index, true)
	})
}

// ReviewSubmission casts a manager's vote on a pending milestone. Crossing the
// accept threshold pays the milestone share to the hunter.
func (s *Strategy) ReviewSubmission(ctx context.Context, from common.Address, index int, status MilestoneStatus) error {
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
		m, err := tx.milestone(index)
		if err != nil {
			return err
		}
		if m.Status != StatusPending {
			return errors.Wrapf(ErrNotPending, "milestone %d is %s", index, m.Status)
		}

		return tx.voteSubmission(from, p, index, accept)
	})
}

func (tx *txn) milestone(index int) (*Milestone, error) {
	if index < 0 || index >= len(tx.Milestones) {
		return nil, errors.Wrapf(ErrMilestoneIndex, "index %d, %d milestones", index, len(tx.Milestones))
	}
	return &tx.Milestones[index], nil
}

func (tx *txn) voteSubmission(from common.Address, p *Participant, index int, accept bool) error {
	round, ok := tx.Submissions[index]
	if !ok {
		round = newVoteRecord(0)
		tx.Submissions[index] = round
	}
	epoch := round.Epoch
	if err := round.cast(from, p.ManagerWeight, accept); err != nil {
		return err
	}
	tx.emit(Event{Kind: EventSubmissionVoted, Epoch: epoch, Actor: from, Index: index, Status: statusOf(accept), Weight: cloneInt(p.ManagerWeight)})

	logger := tx.s.logger.WithFields(logrus.Fields{"pool": tx.PoolID, "index": index, "epoch": epoch, "voter": from.Hex()})
	logger.Debugf("submission vote, accept: %v", accept)

	m := &tx.Milestones[index]
	switch {
	case accept && Exceeds(round.VotesFor, tx.TotalSupply, tx.Threshold):
		if tx.Hunter == (common.Address{}) {
			return errors.Wrapf(ErrNoRecipient, "milestone %d has no hunter to pay", index)
		}
		amount, overflow := new(uint256.Int).MulDivOverflow(tx.Need, m.Percentage, Scale)
		if overflow {
			return errors.Wrapf(ErrInvariant, "milestone %d payout overflows", index)
		}
		if err := tx.pay([]Payout{{To: tx.Hunter, Amount: amount}}); err != nil {
			return err
		}
		m.Status = StatusAccepted
		round.reset()
		tx.emit(Event{Kind: EventMilestoneAccepted, Epoch: epoch, Actor: from, Subject: tx.Hunter, Index: index, Amount: cloneInt(amount)})
		logger.WithField("amount", amount.Dec()).Infof("milestone accepted, paid %s", tx.Hunter)

		if tx.allAccepted() {
			tx.Status = Executed
			tx.emit(Event{Kind: EventStrategyExecuted, Actor: from, Subject: tx.Hunter, Index: index})
			logger.Info("all milestones accepted, strategy executed")
		}

	case !accept && Exceeds(round.VotesAgainst, tx.TotalSupply, tx.Threshold):
		m.Status = StatusRejected
		round.reset()
		tx.emit(Event{Kind: EventMilestoneRejected, Epoch: epoch, Actor: from, Index: index})
		logger.Info("milestone rejected")
	}
	return nil
}
