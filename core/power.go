package core

import (
	"context"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Scale is the fixed-point unit of weights and percentages (18 decimals).
var Scale = uint256.NewInt(1e18)

// normalize maps raw amounts to fractions of Scale. Rounding dust is dropped,
// so the result sums to at most Scale.
func normalize(raw []*uint256.Int) ([]*uint256.Int, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total := new(uint256.Int)
	for _, w := range raw {
		if _, overflow := total.AddOverflow(total, w); overflow {
			return nil, ErrWeightOverflow
		}
	}
	if total.IsZero() {
		return nil, ErrZeroTotalWeight
	}

	res := make([]*uint256.Int, len(raw))
	for i, w := range raw {
		n, overflow := new(uint256.Int).MulDivOverflow(w, Scale, total)
		if overflow {
			return nil, ErrWeightOverflow
		}
		res[i] = n
	}
	return res, nil
}

func sum(values []*uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	for _, v := range values {
		total.Add(total, v)
	}
	return total
}

// VotingPower is the participant set and normalized weights of one pool.
type VotingPower struct {
	Participants map[common.Address]*Participant
	TotalSupply  *uint256.Int
}

// loadVotingPower reads the committee from the registry and normalizes both
// weight axes with the same dust policy.
func loadVotingPower(ctx context.Context, registry Registry, poolID uint64, cfg Config) (*VotingPower, error) {
	var (
		managers, donors []common.Address
		managerRaw       []*uint256.Int
		donorRaw         []*uint256.Int
	)

	action := func(attempt uint) error {
		var err error
		managers, donors, err = registry.Participants(ctx, poolID)
		if err != nil {
			return err
		}

		managerRaw = make([]*uint256.Int, len(managers))
		for i, addr := range managers {
			if managerRaw[i], err = registry.ManagerWeight(ctx, poolID, addr); err != nil {
				return err
			}
		}

		donorRaw = make([]*uint256.Int, len(donors))
		for i, addr := range donors {
			if donorRaw[i], err = registry.DonorContribution(ctx, poolID, addr); err != nil {
				return err
			}
		}
		return nil
	}

	err := retry.Retry(action, strategy.Limit(cfg.RetryLimit), waitBackoff(ctx, backoff.Fibonacci(cfg.RetryBackoff)))
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read participants of pool %d", poolID)
	}

	if len(managers) == 0 {
		return nil, errors.Wrapf(ErrZeroTotalWeight, "pool %d has no managers", poolID)
	}

	managerWeights, err := normalize(managerRaw)
	if err != nil {
		return nil, errors.Wrap(err, "normalize manager weights")
	}
	donorWeights, err := normalize(donorRaw)
	if err != nil {
		return nil, errors.Wrap(err, "normalize donor weights")
	}

	vp := &VotingPower{
		Participants: make(map[common.Address]*Participant),
		TotalSupply:  sum(managerWeights),
	}
	get := func(addr common.Address) *Participant {
		p, ok := vp.Participants[addr]
		if !ok {
			p = &Participant{ManagerWeight: new(uint256.Int), DonorWeight: new(uint256.Int)}
			vp.Participants[addr] = p
		}
		return p
	}
	for i, addr := range managers {
		p := get(addr)
		p.Roles = p.Roles.With(RoleManager)
		p.ManagerWeight.Add(p.ManagerWeight, managerWeights[i])
	}
	for i, addr := range donors {
		p := get(addr)
		p.Roles = p.Roles.With(RoleDonor)
		p.DonorWeight.Add(p.DonorWeight, donorWeights[i])
	}
	return vp, nil
}

// waitBackoff sleeps between attempts like strategy.Backoff but gives up as
// soon as ctx is done.
func waitBackoff(ctx context.Context, algorithm backoff.Algorithm) strategy.Strategy {
	return func(attempt uint) bool {
		if ctx.Err() != nil {
			return false
		}
		if attempt == 0 {
			return true
		}

		timer := time.NewTimer(algorithm(attempt))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}
