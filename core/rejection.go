package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RejectStrategy casts a donor's vote to kill the strategy. Crossing the
// threshold refunds what is left in the pool to donors pro rata and the
// strategy becomes Rejected.
func (s *Strategy) RejectStrategy(ctx context.Context, from common.Address) error {
	return s.update(ctx, func(tx *txn) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		p := tx.participant(from)
		if !p.Roles.Has(RoleDonor) {
			return errors.Wrapf(ErrNotDonor, "address %s", from)
		}

		round := tx.Rejection
		epoch := round.Epoch
		if err := round.cast(from, p.DonorWeight, true); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventRejectionVoted, Epoch: epoch, Actor: from, Weight: cloneInt(p.DonorWeight)})

		logger := tx.s.logger.WithFields(logrus.Fields{"pool": tx.PoolID, "voter": from.Hex()})
		logger.Debug("rejection vote")

		if !Exceeds(round.VotesFor, tx.TotalSupply, tx.Threshold) {
			return nil
		}

		balance, err := tx.s.custody.BalanceOf(ctx)
		if err != nil {
			return errors.Wrap(err, "read pool balance")
		}
		payouts, refunded, err := tx.refunds(balance)
		if err != nil {
			return err
		}
		if err := tx.pay(payouts); err != nil {
			return err
		}

		tx.Status = Rejected
		tx.emit(Event{Kind: EventStrategyRejected, Epoch: epoch, Actor: from, Amount: refunded})
		logger.WithFields(logrus.Fields{
			"balance":  balance.Dec(),
			"refunded": refunded.Dec(),
			"donors":   len(payouts),
		}).Info("strategy rejected, pool refunded")
		return nil
	})
}

// refunds splits balance between donors by their weight. Dust stays in the pool.
func (tx *txn) refunds(balance *uint256.Int) ([]Payout, *uint256.Int, error) {
	var payouts []Payout
	total := new(uint256.Int)
	for _, addr := range tx.sortedParticipants() {
		p := tx.Participants[addr]
		if !p.Roles.Has(RoleDonor) || p.DonorWeight.IsZero() {
			continue
		}
		amount, overflow := new(uint256.Int).MulDivOverflow(balance, p.DonorWeight, Scale)
		if overflow {
			return nil, nil, errors.Wrapf(ErrInvariant, "refund of %s overflows", addr)
		}
		if amount.IsZero() {
			continue
		}
		payouts = append(payouts, Payout{To: addr, Amount: amount})
		total.Add(total, amount)
	}
	return payouts, total, nil
}
