package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type StrategyState uint8

const (
	// None means the strategy is not initialized yet
	None StrategyState = iota

	// Active strategy accepts votes
	Active

	// Executed means every milestone was accepted and paid
	Executed

	// Rejected means the donors killed the strategy and the pool was refunded
	Rejected
)

func (s StrategyState) String() string {
	switch s {
	case None:
		return "none"
	case Active:
		return "active"
	case Executed:
		return "executed"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type MilestoneStatus uint8

const (
	StatusNone MilestoneStatus = iota
	StatusPending
	StatusAccepted
	StatusRejected

	// reserved, never transitioned by the engine
	StatusAppealed
	StatusInReview
	StatusCanceled
)

var milestoneStatusNames = map[MilestoneStatus]string{
	StatusNone:     "none",
	StatusPending:  "pending",
	StatusAccepted: "accepted",
	StatusRejected: "rejected",
	StatusAppealed: "appealed",
	StatusInReview: "in_review",
	StatusCanceled: "canceled",
}

func (s MilestoneStatus) String() string {
	if name, ok := milestoneStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseMilestoneStatus is the inverse of MilestoneStatus.String.
func ParseMilestoneStatus(s string) (MilestoneStatus, error) {
	for status, name := range milestoneStatusNames {
		if name == s {
			return status, nil
		}
	}
	return StatusNone, fmt.Errorf("unknown milestone status %q", s)
}

// Role is a bit set of the capabilities a participant holds.
type Role uint8

const (
	RoleManager Role = 1 << iota
	RoleDonor
	RoleHunter
)

func (r Role) Has(role Role) bool {
	return r&role == role
}

func (r Role) With(role Role) Role {
	return r | role
}

func (r Role) Without(role Role) Role {
	return r &^ role
}

func (r Role) String() string {
	s := ""
	for _, item := range []struct {
		role Role
		name string
	}{{RoleManager, "manager"}, {RoleDonor, "donor"}, {RoleHunter, "hunter"}} {
		if !r.Has(item.role) {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += item.name
	}
	if s == "" {
		return "none"
	}
	return s
}

type Participant struct {
	Roles Role `json:"roles"`

	// ManagerWeight and DonorWeight are fractions of Scale, fixed at initialization
	ManagerWeight *uint256.Int `json:"manager_weight"`
	DonorWeight   *uint256.Int `json:"donor_weight"`
}

type Milestone struct {
	Percentage *uint256.Int    `json:"percentage"`
	Metadata   string          `json:"metadata"`
	Submission string          `json:"submission,omitempty"`
	Status     MilestoneStatus `json:"status"`
}

// MilestoneInput is one entry of an offered milestone set.
type MilestoneInput struct {
	Percentage *uint256.Int
	Metadata   string
}

type Proposal struct {
	Proposer   common.Address `json:"proposer"`
	Milestones []Milestone    `json:"milestones"`
}

// Snapshot is the read-only lifecycle view of a strategy.
type Snapshot struct {
	PoolID        uint64
	State         StrategyState
	MaxRecipients int
	TotalSupply   *uint256.Int
	Threshold     uint64
	Hunter        common.Address
}

// Payout is a single transfer out of the pool.
type Payout struct {
	To     common.Address
	Amount *uint256.Int
}
