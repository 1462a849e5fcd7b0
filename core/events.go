package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventInitialized        EventKind = "initialized"
	EventMilestonesOffered  EventKind = "milestones_offered"
	EventMilestonesVoted    EventKind = "milestones_voted"
	EventMilestonesAccepted EventKind = "milestones_accepted"
	EventMilestonesRejected EventKind = "milestones_rejected"
	EventRecipientVoted     EventKind = "recipient_voted"
	EventRecipientAccepted  EventKind = "recipient_accepted"
	EventRecipientRejected  EventKind = "recipient_rejected"
	EventMilestoneSubmitted EventKind = "milestone_submitted"
	EventSubmissionVoted    EventKind = "submission_voted"
	EventMilestoneAccepted  EventKind = "milestone_accepted"
	EventMilestoneRejected  EventKind = "milestone_rejected"
	EventStrategyExecuted   EventKind = "strategy_executed"
	EventRejectionVoted     EventKind = "rejection_voted"
	EventStrategyRejected   EventKind = "strategy_rejected"
)

// Event describes one committed change. Epoch is the round the event belongs
// to, so closed rounds can be replayed from a journal.
type Event struct {
	Kind    EventKind       `json:"kind"`
	PoolID  uint64          `json:"pool_id"`
	Epoch   uint64          `json:"epoch"`
	Actor   common.Address  `json:"actor"`
	Subject common.Address  `json:"subject"`
	Index   int             `json:"index"`
	Status  MilestoneStatus `json:"status,omitempty"`
	Weight  *uint256.Int    `json:"weight,omitempty"`
	Amount  *uint256.Int    `json:"amount,omitempty"`
}

// EventSink receives events after the change that produced them is committed.
type EventSink interface {
	Publish(events []Event) error
}
