package core

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is everything a strategy persists between restarts.
type State struct {
	PoolID        uint64         `json:"pool_id"`
	Status        StrategyState  `json:"status"`
	Threshold     uint64         `json:"threshold"`
	MaxRecipients int            `json:"max_recipients"`
	Need          *uint256.Int   `json:"need"`
	TotalSupply   *uint256.Int   `json:"total_supply"`
	Hunter        common.Address `json:"hunter"`

	Participants map[common.Address]*Participant `json:"participants"`
	Milestones   []Milestone                     `json:"milestones"`

	// open milestone set proposal and its round
	Proposal      *Proposal   `json:"proposal,omitempty"`
	ProposalVotes *VoteRecord `json:"proposal_votes"`

	Recipients  map[common.Address]*VoteRecord `json:"recipients"`
	Submissions map[int]*VoteRecord            `json:"submissions"`
	Rejection   *VoteRecord                    `json:"rejection"`
}

func newState(poolID uint64) *State {
	return &State{
		PoolID:        poolID,
		Status:        None,
		Need:          new(uint256.Int),
		TotalSupply:   new(uint256.Int),
		Participants:  make(map[common.Address]*Participant),
		ProposalVotes: newVoteRecord(0),
		Recipients:    make(map[common.Address]*VoteRecord),
		Submissions:   make(map[int]*VoteRecord),
		Rejection:     newVoteRecord(0),
	}
}

func cloneInt(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func cloneMilestones(ms []Milestone) []Milestone {
	if ms == nil {
		return nil
	}
	res := make([]Milestone, len(ms))
	for i, m := range ms {
		res[i] = m
		res[i].Percentage = cloneInt(m.Percentage)
	}
	return res
}

func (st *State) clone() *State {
	c := &State{
		PoolID:        st.PoolID,
		Status:        st.Status,
		Threshold:     st.Threshold,
		MaxRecipients: st.MaxRecipients,
		Need:          cloneInt(st.Need),
		TotalSupply:   cloneInt(st.TotalSupply),
		Hunter:        st.Hunter,
		Participants:  make(map[common.Address]*Participant, len(st.Participants)),
		Milestones:    cloneMilestones(st.Milestones),
		ProposalVotes: st.ProposalVotes.clone(),
		Recipients:    make(map[common.Address]*VoteRecord, len(st.Recipients)),
		Submissions:   make(map[int]*VoteRecord, len(st.Submissions)),
		Rejection:     st.Rejection.clone(),
	}
	for addr, p := range st.Participants {
		c.Participants[addr] = &Participant{
			Roles:         p.Roles,
			ManagerWeight: cloneInt(p.ManagerWeight),
			DonorWeight:   cloneInt(p.DonorWeight),
		}
	}
	if st.Proposal != nil {
		c.Proposal = &Proposal{
			Proposer:   st.Proposal.Proposer,
			Milestones: cloneMilestones(st.Proposal.Milestones),
		}
	}
	for addr, r := range st.Recipients {
		c.Recipients[addr] = r.clone()
	}
	for idx, r := range st.Submissions {
		c.Submissions[idx] = r.clone()
	}
	return c
}

// fill restores empty containers of a decoded state.
func (st *State) fill() {
	if st.Need == nil {
		st.Need = new(uint256.Int)
	}
	if st.TotalSupply == nil {
		st.TotalSupply = new(uint256.Int)
	}
	if st.Participants == nil {
		st.Participants = make(map[common.Address]*Participant)
	}
	for _, p := range st.Participants {
		if p.ManagerWeight == nil {
			p.ManagerWeight = new(uint256.Int)
		}
		if p.DonorWeight == nil {
			p.DonorWeight = new(uint256.Int)
		}
	}
	if st.ProposalVotes == nil {
		st.ProposalVotes = newVoteRecord(0)
	}
	if st.Recipients == nil {
		st.Recipients = make(map[common.Address]*VoteRecord)
	}
	if st.Submissions == nil {
		st.Submissions = make(map[int]*VoteRecord)
	}
	if st.Rejection == nil {
		st.Rejection = newVoteRecord(0)
	}
	records := []*VoteRecord{st.ProposalVotes, st.Rejection}
	records = append(records, values(st.Recipients)...)
	records = append(records, values(st.Submissions)...)
	for _, r := range records {
		if r.VotesFor == nil {
			r.VotesFor = new(uint256.Int)
		}
		if r.VotesAgainst == nil {
			r.VotesAgainst = new(uint256.Int)
		}
		if r.Voters == nil {
			r.Voters = make(map[common.Address]*uint256.Int)
		}
	}
}

func values[K comparable](m map[K]*VoteRecord) []*VoteRecord {
	res := make([]*VoteRecord, 0, len(m))
	for _, r := range m {
		res = append(res, r)
	}
	return res
}

// sortedParticipants returns addresses in byte order so payouts are deterministic.
func (st *State) sortedParticipants() []common.Address {
	addrs := make([]common.Address, 0, len(st.Participants))
	for addr := range st.Participants {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

func (st *State) allAccepted() bool {
	if len(st.Milestones) == 0 {
		return false
	}
	for _, m := range st.Milestones {
		if m.Status != StatusAccepted {
			return false
		}
	}
	return true
}
