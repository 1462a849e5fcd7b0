package core

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilestoneSetTwoManagers(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)

	err := f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(100), Metadata: "all in one"}})
	require.NoError(t, err)

	// 60% alone does not pass 77%
	proposal, votes := f.s.Proposal()
	require.NotNil(t, proposal)
	assert.Equal(t, managerA, proposal.Proposer)
	assert.True(t, votes.VotesFor.Eq(percent(60)))
	assert.Empty(t, f.s.Milestones())

	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerB, StatusAccepted))

	milestones := f.s.Milestones()
	require.Len(t, milestones, 1)
	assert.True(t, milestones[0].Percentage.Eq(Scale))
	assert.Equal(t, "all in one", milestones[0].Metadata)
	assert.Equal(t, StatusNone, milestones[0].Status)

	proposal, votes = f.s.Proposal()
	assert.Nil(t, proposal)
	assert.Equal(t, uint64(1), votes.Epoch)
	assert.Empty(t, votes.Voters)

	// a second round can never start once installed
	err = f.s.OfferMilestones(f.ctx, managerB, []MilestoneInput{{Percentage: percent(100)}})
	assert.True(t, errors.Is(err, ErrMilestonesInstalled))
	err = f.s.ReviewMilestones(f.ctx, managerB, StatusAccepted)
	assert.True(t, errors.Is(err, ErrMilestonesInstalled))

	assert.Equal(t, []EventKind{
		EventInitialized,
		EventMilestonesOffered,
		EventMilestonesVoted,
		EventMilestonesVoted,
		EventMilestonesAccepted,
	}, f.sink.kinds())
}

func TestMilestoneSetRejectedOpensNewRound(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 20}, {managerB, 40}, {managerC, 40}}, []weight{{donor1, 1}}, 1000)

	require.NoError(t, f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(100)}}))
	err := f.s.OfferMilestones(f.ctx, managerB, []MilestoneInput{{Percentage: percent(100)}})
	assert.True(t, errors.Is(err, ErrProposalOutstanding))

	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerB, StatusRejected))
	proposal, _ := f.s.Proposal()
	assert.NotNil(t, proposal)
	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerC, StatusRejected))

	proposal, votes := f.s.Proposal()
	assert.Nil(t, proposal)
	assert.Equal(t, uint64(1), votes.Epoch)
	assert.True(t, votes.VotesAgainst.IsZero())

	err = f.s.ReviewMilestones(f.ctx, managerA, StatusAccepted)
	assert.True(t, errors.Is(err, ErrNoProposal))

	// managers that voted in the closed round may vote again
	require.NoError(t, f.s.OfferMilestones(f.ctx, managerB, []MilestoneInput{{Percentage: percent(30)}, {Percentage: percent(70)}}))
	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerA, StatusAccepted))
	assert.Empty(t, f.s.Milestones())
	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerC, StatusAccepted))
	assert.Len(t, f.s.Milestones(), 2)
}

func TestMilestonePercentagesMustSumToScale(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)

	short := new(uint256.Int).SubUint64(percent(50), 1)
	require.NoError(t, f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(50)}, {Percentage: short}}))

	// votes pass but installation fails and nothing is recorded
	err := f.s.ReviewMilestones(f.ctx, managerB, StatusAccepted)
	assert.True(t, errors.Is(err, ErrPercentageSum))
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Empty(t, f.s.Milestones())
	_, votes := f.s.Proposal()
	assert.False(t, votes.HasVoted(managerB))
	assert.True(t, votes.VotesFor.Eq(percent(60)))

	// one unit over fails the same way for a single manager
	g := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 1}}, 1000)
	over := new(uint256.Int).AddUint64(percent(50), 1)
	err = g.s.OfferMilestones(g.ctx, managerA, []MilestoneInput{{Percentage: percent(50)}, {Percentage: over}})
	assert.True(t, errors.Is(err, ErrPercentageSum))
	proposal, _ := g.s.Proposal()
	assert.Nil(t, proposal)

	require.NoError(t, g.s.OfferMilestones(g.ctx, managerA, []MilestoneInput{{Percentage: percent(50)}, {Percentage: percent(50)}}))
	assert.Len(t, g.s.Milestones(), 2)
}

func TestDuplicateVoteLeavesTallyUnchanged(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 30}, {managerB, 30}, {managerC, 40}}, []weight{{donor1, 60}, {donor2, 40}}, 1000)

	require.NoError(t, f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(100)}}))
	require.NoError(t, f.s.ReviewMilestones(f.ctx, managerB, StatusRejected))

	for _, tc := range []struct {
		voter  common.Address
		status MilestoneStatus
	}{
		{managerA, StatusAccepted},
		{managerA, StatusRejected},
		{managerB, StatusAccepted},
		{managerB, StatusRejected},
	} {
		err := f.s.ReviewMilestones(f.ctx, tc.voter, tc.status)
		assert.True(t, errors.Is(err, ErrAlreadyVoted))
		assert.True(t, errors.Is(err, ErrDuplicateVote))
	}

	_, votes := f.s.Proposal()
	assert.True(t, votes.VotesFor.Eq(percent(30)))
	assert.True(t, votes.VotesAgainst.Eq(percent(30)))
	assert.Len(t, votes.Voters, 2)

	require.NoError(t, f.s.RejectStrategy(f.ctx, donor2))
	err := f.s.RejectStrategy(f.ctx, donor2)
	assert.True(t, errors.Is(err, ErrDuplicateVote))
	assert.True(t, f.s.RejectionVotes().VotesFor.Eq(percent(40)))
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 1}}, 1000)

	err := f.s.OfferMilestones(f.ctx, donor1, []MilestoneInput{{Percentage: percent(100)}})
	assert.True(t, errors.Is(err, ErrNotManager))
	assert.True(t, errors.Is(err, ErrAuthorization))

	err = f.s.ReviewRecipient(f.ctx, donor1, hunter, StatusAccepted)
	assert.True(t, errors.Is(err, ErrAuthorization))

	err = f.s.RejectStrategy(f.ctx, managerA)
	assert.True(t, errors.Is(err, ErrNotDonor))

	f.install(t, managerA, nil, 100)
	f.hire(t, managerA)

	err = f.s.SubmitMilestone(f.ctx, donor1, 0, "work")
	assert.True(t, errors.Is(err, ErrNotHunter))

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "work"))
	err = f.s.ReviewSubmission(f.ctx, hunter, 0, StatusAccepted)
	assert.True(t, errors.Is(err, ErrNotManager))
}

func TestInvalidReviewStatus(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)
	require.NoError(t, f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(100)}}))

	for _, status := range []MilestoneStatus{StatusNone, StatusPending, StatusAppealed, StatusInReview, StatusCanceled} {
		err := f.s.ReviewMilestones(f.ctx, managerB, status)
		assert.True(t, errors.Is(err, ErrInvalidStatus), status.String())
		err = f.s.ReviewRecipient(f.ctx, managerB, hunter, status)
		assert.True(t, errors.Is(err, ErrInvariant), status.String())
	}
}

func TestRecipientSlot(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 50}, {managerB, 50}}, []weight{{donor1, 1}}, 1000)

	err := f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusRejected)
	assert.True(t, errors.Is(err, ErrNoRecipient))
	assert.True(t, errors.Is(err, ErrResource))

	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusAccepted))
	assert.Equal(t, common.Address{}, f.s.Snapshot().Hunter)
	err = f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusAccepted)
	assert.True(t, errors.Is(err, ErrDuplicateVote))

	f.hire(t, managerB)
	p, ok := f.s.Participant(hunter)
	require.True(t, ok)
	assert.Equal(t, RoleHunter, p.Roles)

	votes := f.s.RecipientVotes(hunter)
	assert.Equal(t, uint64(1), votes.Epoch)
	assert.Empty(t, votes.Voters)

	err = f.s.ReviewRecipient(f.ctx, managerA, phantom, StatusAccepted)
	assert.True(t, errors.Is(err, ErrRecipientAssigned))
	assert.True(t, errors.Is(err, ErrResource))

	// votes for the hunter were wiped, so both may vote to remove it
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusRejected))
	assert.Equal(t, hunter, f.s.Snapshot().Hunter)
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerB, hunter, StatusRejected))
	assert.Equal(t, common.Address{}, f.s.Snapshot().Hunter)

	p, _ = f.s.Participant(hunter)
	assert.False(t, p.Roles.Has(RoleHunter))
	assert.Equal(t, uint64(2), f.s.RecipientVotes(hunter).Epoch)

	// a clean re-proposal
	f.hire(t, managerA, managerB)
}

func TestRejectVotesAgainstPhantomRecipientAreInert(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 50}, {managerB, 50}}, []weight{{donor1, 1}}, 1000)
	f.hire(t, managerA, managerB)

	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerA, phantom, StatusRejected))
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerB, phantom, StatusRejected))

	assert.Equal(t, hunter, f.s.Snapshot().Hunter)
	votes := f.s.RecipientVotes(phantom)
	assert.True(t, votes.VotesAgainst.Eq(Scale))
	assert.Equal(t, uint64(0), votes.Epoch)
	assert.Len(t, votes.Voters, 2)
	assert.NotContains(t, f.sink.kinds(), EventRecipientRejected)

	// the round is not reset, so once the slot is free those managers still
	// cannot vote on that address
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusRejected))
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerB, hunter, StatusRejected))
	require.Equal(t, common.Address{}, f.s.Snapshot().Hunter)
	err := f.s.ReviewRecipient(f.ctx, managerA, phantom, StatusAccepted)
	assert.True(t, errors.Is(err, ErrDuplicateVote))
}

func TestSingleMilestoneExecution(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 1}}, 1000)

	// the only manager installs and hires alone
	f.install(t, managerA, nil, 100)
	f.hire(t, managerA)

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "ipfs://work"))
	m := f.s.Milestones()[0]
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, "ipfs://work", m.Submission)

	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))

	assert.Equal(t, StatusAccepted, f.s.Milestones()[0].Status)
	assert.Equal(t, "1000", f.custody.Received(hunter).Dec())
	balance, err := f.custody.BalanceOf(f.ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.Equal(t, Executed, f.s.Snapshot().State)

	err = f.s.SubmitMilestone(f.ctx, hunter, 0, "again")
	assert.True(t, errors.Is(err, ErrNotActive))
	err = f.s.RejectStrategy(f.ctx, donor1)
	assert.True(t, errors.Is(err, ErrNotActive))

	kinds := f.sink.kinds()
	assert.Equal(t, EventMilestoneAccepted, kinds[len(kinds)-2])
	assert.Equal(t, EventStrategyExecuted, kinds[len(kinds)-1])
}

func TestOutOfOrderAcceptanceWaitsForEveryMilestone(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 1}}, 1000)
	f.install(t, managerA, nil, 40, 60)
	f.hire(t, managerA)

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 1, "second"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 1, StatusAccepted))
	assert.Equal(t, "600", f.custody.Received(hunter).Dec())
	assert.Equal(t, StatusNone, f.s.Milestones()[0].Status)
	assert.Equal(t, Active, f.s.Snapshot().State)
	assert.NotContains(t, f.sink.kinds(), EventStrategyExecuted)

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "first"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))
	assert.Equal(t, "1000", f.custody.Received(hunter).Dec())
	assert.Equal(t, Executed, f.s.Snapshot().State)
}

func TestSubmissionReviewRounds(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)
	f.install(t, managerA, []common.Address{managerB}, 25, 75)

	err := f.s.SubmitMilestone(f.ctx, managerA, 0, "early")
	assert.True(t, errors.Is(err, ErrNoRecipient))

	f.hire(t, managerA, managerB)

	err = f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted)
	assert.True(t, errors.Is(err, ErrNotPending))
	err = f.s.SubmitMilestone(f.ctx, hunter, 2, "out of range")
	assert.True(t, errors.Is(err, ErrMilestoneIndex))

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "v1"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusRejected))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerB, 0, StatusRejected))
	assert.Equal(t, StatusRejected, f.s.Milestones()[0].Status)

	err = f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted)
	assert.True(t, errors.Is(err, ErrNotPending))

	// resubmission while pending wipes the round
	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "v2"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))
	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "v3"))
	votes := f.s.SubmissionVotes(0)
	assert.Equal(t, uint64(3), votes.Epoch)
	assert.False(t, votes.HasVoted(managerA))

	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerB, 0, StatusAccepted))
	assert.Equal(t, "250", f.custody.Received(hunter).Dec())
	assert.Equal(t, Active, f.s.Snapshot().State)

	err = f.s.SubmitMilestone(f.ctx, hunter, 0, "v4")
	assert.True(t, errors.Is(err, ErrMilestoneFinal))

	// a manager submitting on the hunter's behalf votes accept at the same time
	require.NoError(t, f.s.SubmitMilestone(f.ctx, managerA, 1, "by manager"))
	assert.True(t, f.s.SubmissionVotes(1).VotesFor.Eq(percent(60)))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerB, 1, StatusAccepted))

	assert.Equal(t, "1000", f.custody.Received(hunter).Dec())
	assert.Equal(t, Executed, f.s.Snapshot().State)
}

func TestDonorRejectionIsImmediate(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 85}, {donor2, 15}}, 1000)

	require.NoError(t, f.s.RejectStrategy(f.ctx, donor1))
	assert.Equal(t, Rejected, f.s.Snapshot().State)
	assert.Equal(t, "850", f.custody.Received(donor1).Dec())
	assert.Equal(t, "150", f.custody.Received(donor2).Dec())

	err := f.s.RejectStrategy(f.ctx, donor2)
	assert.True(t, errors.Is(err, ErrNotActive))
	assert.True(t, f.s.RejectionVotes().VotesFor.Eq(percent(85)))
	assert.False(t, f.s.RejectionVotes().HasVoted(donor2))

	err = f.s.OfferMilestones(f.ctx, managerA, []MilestoneInput{{Percentage: percent(100)}})
	assert.True(t, errors.Is(err, ErrNotActive))
}

func TestRejectionRefundsRemainingBalance(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 85}, {donor2, 15}}, 1000)
	f.install(t, managerA, nil, 40, 60)
	f.hire(t, managerA)

	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "part one"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))
	assert.Equal(t, "400", f.custody.Received(hunter).Dec())

	// donor2 alone is far from the threshold
	require.NoError(t, f.s.RejectStrategy(f.ctx, donor2))
	assert.Equal(t, Active, f.s.Snapshot().State)
	require.NoError(t, f.s.RejectStrategy(f.ctx, donor1))

	assert.Equal(t, Rejected, f.s.Snapshot().State)
	assert.Equal(t, "510", f.custody.Received(donor1).Dec())
	assert.Equal(t, "90", f.custody.Received(donor2).Dec())
	balance, err := f.custody.BalanceOf(f.ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	last := f.sink.events[len(f.sink.events)-1]
	assert.Equal(t, EventStrategyRejected, last.Kind)
	assert.Equal(t, "600", last.Amount.Dec())
}

func TestFailedTransferLeavesNoTrace(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)
	f.install(t, managerA, []common.Address{managerB}, 100)
	f.hire(t, managerA, managerB)
	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "work"))
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted))

	f.custody.OnTransfer = func([]Payout) error {
		return errors.New("custody offline")
	}
	events := len(f.sink.events)
	err := f.s.ReviewSubmission(f.ctx, managerB, 0, StatusAccepted)
	assert.Error(t, err)

	assert.Equal(t, StatusPending, f.s.Milestones()[0].Status)
	assert.False(t, f.s.SubmissionVotes(0).HasVoted(managerB))
	assert.True(t, f.custody.Received(hunter).IsZero())
	assert.Equal(t, Active, f.s.Snapshot().State)
	assert.Len(t, f.sink.events, events)

	f.custody.OnTransfer = nil
	require.NoError(t, f.s.ReviewSubmission(f.ctx, managerB, 0, StatusAccepted))
	assert.Equal(t, Executed, f.s.Snapshot().State)
}

func TestReentrantCallFailsFast(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 1}}, []weight{{donor1, 1}}, 1000)
	f.install(t, managerA, nil, 100)
	f.hire(t, managerA)
	require.NoError(t, f.s.SubmitMilestone(f.ctx, hunter, 0, "work"))

	var inner error
	var seen StrategyState
	f.custody.OnTransfer = func([]Payout) error {
		seen = f.s.Snapshot().State
		inner = f.s.RejectStrategy(f.ctx, donor1)
		return inner
	}

	err := f.s.ReviewSubmission(f.ctx, managerA, 0, StatusAccepted)
	assert.True(t, errors.Is(err, ErrReentrant))
	assert.True(t, errors.Is(inner, ErrReentrant))
	assert.Equal(t, Active, seen)
	assert.Equal(t, StatusPending, f.s.Milestones()[0].Status)
	assert.False(t, f.s.RejectionVotes().HasVoted(donor1))

	// the guard is released afterwards
	f.custody.OnTransfer = nil
	require.NoError(t, f.s.RejectStrategy(f.ctx, donor1))
	assert.Equal(t, Rejected, f.s.Snapshot().State)
}

func TestRestoreContinuesVoting(t *testing.T) {
	f := newFixture(t, []weight{{managerA, 60}, {managerB, 40}}, []weight{{donor1, 1}}, 1000)
	f.install(t, managerA, []common.Address{managerB}, 100)
	require.NoError(t, f.s.ReviewRecipient(f.ctx, managerA, hunter, StatusAccepted))

	raw, err := json.Marshal(f.s.Export())
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(raw, &st))
	restored, err := Restore(testConfig(), &st, f.registry, f.custody, WithLogger(testLogger()))
	require.NoError(t, err)

	assert.Equal(t, f.s.Snapshot(), restored.Snapshot())
	assert.Equal(t, f.s.Milestones(), restored.Milestones())

	err = restored.ReviewRecipient(f.ctx, managerA, hunter, StatusAccepted)
	assert.True(t, errors.Is(err, ErrDuplicateVote))
	require.NoError(t, restored.ReviewRecipient(f.ctx, managerB, hunter, StatusAccepted))
	assert.Equal(t, hunter, restored.Snapshot().Hunter)

	// the original is untouched by the restored copy
	assert.Equal(t, common.Address{}, f.s.Snapshot().Hunter)

	err = restored.Initialize(f.ctx)
	assert.True(t, errors.Is(err, ErrAlreadyInitialized))
}
