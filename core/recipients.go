package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReviewRecipient votes to accept a candidate into the empty hunter slot, or
// to remove the hunter currently holding it.
//
// Reject votes against an address other than the current hunter are recorded,
// but crossing the threshold on such a record changes nothing.
func (s *Strategy) ReviewRecipient(ctx context.Context, from, recipient common.Address, status MilestoneStatus) error {
	accept, err := reviewAccept(status)
	if err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrInvalidRecipient
	}

	return s.update(ctx, func(tx *txn) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		p, err := tx.manager(from)
		if err != nil {
			return err
		}

		assigned := tx.Hunter != (common.Address{})
		if accept && assigned {
			return errors.Wrapf(ErrRecipientAssigned, "hunter %s", tx.Hunter)
		}
		if !accept && !assigned {
			return ErrNoRecipient
		}

		round, ok := tx.Recipients[recipient]
		if !ok {
			round = newVoteRecord(0)
			tx.Recipients[recipient] = round
		}
		epoch := round.Epoch
		if err := round.cast(from, p.ManagerWeight, accept); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventRecipientVoted, Epoch: epoch, Actor: from, Subject: recipient, Status: status, Weight: cloneInt(p.ManagerWeight)})

		logger := tx.s.logger.WithFields(logrus.Fields{"pool": tx.PoolID, "epoch": epoch, "voter": from.Hex(), "recipient": recipient.Hex()})
		logger.Debugf("recipient vote, accept: %v", accept)

		switch {
		case accept && Exceeds(round.VotesFor, tx.TotalSupply, tx.Threshold):
			tx.Hunter = recipient
			tx.grant(recipient, RoleHunter)
			round.reset()
			tx.emit(Event{Kind: EventRecipientAccepted, Epoch: epoch, Actor: from, Subject: recipient})
			logger.Info("recipient accepted")

		case !accept && Exceeds(round.VotesAgainst, tx.TotalSupply, tx.Threshold):
			if recipient != tx.Hunter {
				logger.Warnf("reject threshold crossed for %s which is not the current hunter %s, ignored", recipient, tx.Hunter)
				return nil
			}
			tx.Hunter = common.Address{}
			tx.revoke(recipient, RoleHunter)
			round.reset()
			tx.emit(Event{Kind: EventRecipientRejected, Epoch: epoch, Actor: from, Subject: recipient})
			logger.Info("recipient rejected")
		}
		return nil
	})
}

func (tx *txn) grant(addr common.Address, role Role) {
	p := tx.participant(addr)
	p.Roles = p.Roles.With(role)
	tx.Participants[addr] = p
}

func (tx *txn) revoke(addr common.Address, role Role) {
	p, ok := tx.Participants[addr]
	if !ok {
		return
	}
	p.Roles = p.Roles.Without(role)
}
