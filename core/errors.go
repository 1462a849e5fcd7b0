package core

import (
	"github.com/pkg/errors"
)

// error kinds, every error returned by a Strategy wraps one of them
var (
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrInvariant     = errors.New("invariant violation")
	ErrResource      = errors.New("resource error")
)

var (
	ErrNotManager = errors.WithMessage(ErrAuthorization, "caller is not a manager")
	ErrNotDonor   = errors.WithMessage(ErrAuthorization, "caller is not a donor")
	ErrNotHunter  = errors.WithMessage(ErrAuthorization, "caller is neither the hunter nor a manager")

	ErrAlreadyInitialized  = errors.WithMessage(ErrState, "strategy already initialized")
	ErrNotActive           = errors.WithMessage(ErrState, "strategy is not active")
	ErrMilestonesInstalled = errors.WithMessage(ErrState, "milestones already installed")
	ErrProposalOutstanding = errors.WithMessage(ErrState, "a milestone proposal is already outstanding")
	ErrNoProposal          = errors.WithMessage(ErrState, "no milestone proposal to review")
	ErrNotPending          = errors.WithMessage(ErrState, "milestone is not pending")
	ErrReentrant           = errors.WithMessage(ErrState, "reentrant call")

	ErrAlreadyVoted = errors.WithMessage(ErrDuplicateVote, "voter already voted in this round")

	ErrPercentageSum    = errors.WithMessage(ErrInvariant, "milestone percentages must sum to 100%")
	ErrInvalidStatus    = errors.WithMessage(ErrInvariant, "invalid review status")
	ErrMilestoneFinal   = errors.WithMessage(ErrInvariant, "milestone already accepted")
	ErrMilestoneIndex   = errors.WithMessage(ErrInvariant, "milestone index out of range")
	ErrInvalidConfig    = errors.WithMessage(ErrInvariant, "invalid strategy config")
	ErrZeroTotalWeight  = errors.WithMessage(ErrInvariant, "total raw weight is zero")
	ErrWeightOverflow   = errors.WithMessage(ErrInvariant, "weight normalization overflow")
	ErrInvalidRecipient = errors.WithMessage(ErrInvariant, "recipient address is zero")

	ErrRecipientAssigned = errors.WithMessage(ErrResource, "a recipient is already assigned")
	ErrNoRecipient       = errors.WithMessage(ErrResource, "no recipient is assigned")
)
