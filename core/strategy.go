package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultThreshold     = 77
	DefaultMaxRecipients = 1
)

type Config struct {
	// Threshold is the whole percentage of TotalSupply a decision must strictly exceed
	Threshold     uint64
	MaxRecipients int

	// registry reads during Initialize, RetryLimit counts attempts and 1 means no retries
	RetryLimit   uint
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:     DefaultThreshold,
		MaxRecipients: DefaultMaxRecipients,
		RetryLimit:    3,
		RetryBackoff:  200 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.Threshold == 0 || c.Threshold > 100 {
		return errors.Wrapf(ErrInvalidConfig, "threshold %d is not in 1..100", c.Threshold)
	}
	if c.MaxRecipients != 1 {
		return errors.Wrapf(ErrInvalidConfig, "max recipients %d, only a single recipient slot is supported", c.MaxRecipients)
	}
	if c.RetryLimit == 0 {
		return errors.Wrap(ErrInvalidConfig, "retry limit must allow at least one registry read")
	}
	return nil
}

type Option func(*Strategy)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Strategy) {
		s.logger = logger
	}
}

func WithEventSink(sink EventSink) Option {
	return func(s *Strategy) {
		s.sink = sink
	}
}

// guard is held while funds move out of the pool.
type guard struct {
	held atomic.Bool
}

func (g *guard) acquire() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

func (g *guard) release() {
	g.held.Store(false)
}

// Strategy is one committee-governed allocation over a registry pool.
// Mutating calls are serialized and run against a copy of the state that is
// committed only when the call succeeds. While a payout is in flight every
// other mutating call fails with ErrReentrant, including calls from other
// goroutines.
type Strategy struct {
	cfg      Config
	registry Registry
	custody  Custody
	logger   logrus.FieldLogger
	sink     EventSink

	mu    sync.Mutex
	guard guard
	state atomic.Pointer[State]
}

func NewStrategy(cfg Config, poolID uint64, registry Registry, custody Custody, opts ...Option) (*Strategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := newStrategy(cfg, registry, custody, opts)
	s.state.Store(newState(poolID))
	return s, nil
}

// Restore rebuilds a strategy from a persisted state.
func Restore(cfg Config, st *State, registry Registry, custody Custody, opts ...Option) (*Strategy, error) {
	if st == nil {
		return nil, errors.New("nil state")
	}

	st = st.clone()
	st.fill()
	if st.Status != None {
		cfg.Threshold = st.Threshold
		cfg.MaxRecipients = st.MaxRecipients
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := newStrategy(cfg, registry, custody, opts)
	s.state.Store(st)
	return s, nil
}

func newStrategy(cfg Config, registry Registry, custody Custody, opts []Option) *Strategy {
	s := &Strategy{
		cfg:      cfg,
		registry: registry,
		custody:  custody,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New()
	}
	return s
}

// Initialize loads the committee of the pool and activates the strategy.
// It can succeed only once.
func (s *Strategy) Initialize(ctx context.Context) error {
	return s.update(ctx, func(tx *txn) error {
		if tx.Status != None {
			return ErrAlreadyInitialized
		}

		info, err := s.registry.Pool(ctx, tx.PoolID)
		if err != nil {
			return errors.Wrapf(err, "read pool %d", tx.PoolID)
		}

		vp, err := loadVotingPower(ctx, s.registry, tx.PoolID, s.cfg)
		if err != nil {
			return err
		}

		tx.Status = Active
		tx.Threshold = s.cfg.Threshold
		tx.MaxRecipients = s.cfg.MaxRecipients
		tx.Need = cloneInt(info.Need)
		tx.Participants = vp.Participants
		tx.TotalSupply = vp.TotalSupply
		tx.emit(Event{Kind: EventInitialized, Amount: cloneInt(info.Need), Weight: cloneInt(vp.TotalSupply)})

		s.logger.WithFields(logrus.Fields{
			"pool":         tx.PoolID,
			"participants": len(vp.Participants),
			"total_supply": vp.TotalSupply.Dec(),
			"threshold":    tx.Threshold,
		}).Info("strategy initialized")
		return nil
	})
}

// txn is the working copy of the state inside one mutating call.
type txn struct {
	*State
	ctx    context.Context
	s      *Strategy
	events []Event
}

func (tx *txn) emit(e Event) {
	e.PoolID = tx.PoolID
	tx.events = append(tx.events, e)
}

func (tx *txn) requireActive() error {
	if tx.Status != Active {
		return errors.Wrapf(ErrNotActive, "state %s", tx.Status)
	}
	return nil
}

func (tx *txn) participant(addr common.Address) *Participant {
	if p, ok := tx.Participants[addr]; ok {
		return p
	}
	return &Participant{ManagerWeight: new(uint256.Int), DonorWeight: new(uint256.Int)}
}

func (tx *txn) manager(addr common.Address) (*Participant, error) {
	p := tx.participant(addr)
	if !p.Roles.Has(RoleManager) {
		return nil, errors.Wrapf(ErrNotManager, "address %s", addr)
	}
	return p, nil
}

// pay moves funds out of the pool while holding the reentrancy guard.
func (tx *txn) pay(payouts []Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	if err := tx.s.guard.acquire(); err != nil {
		return err
	}
	defer tx.s.guard.release()

	if err := tx.s.custody.Transfer(tx.ctx, payouts); err != nil {
		return errors.Wrap(err, "transfer from pool")
	}
	return nil
}

func (s *Strategy) update(ctx context.Context, fn func(tx *txn) error) error {
	if s.guard.held.Load() {
		return ErrReentrant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{State: s.state.Load().clone(), ctx: ctx, s: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.state.Store(tx.State)

	if s.sink != nil && len(tx.events) > 0 {
		if err := s.sink.Publish(tx.events); err != nil {
			s.logger.WithField("pool", tx.PoolID).Errorf("publish events: %s", err)
		}
	}
	return nil
}

// Snapshot returns the lifecycle view of the committed state.
func (s *Strategy) Snapshot() Snapshot {
	st := s.state.Load()
	return Snapshot{
		PoolID:        st.PoolID,
		State:         st.Status,
		MaxRecipients: st.MaxRecipients,
		TotalSupply:   cloneInt(st.TotalSupply),
		Threshold:     st.Threshold,
		Hunter:        st.Hunter,
	}
}

// Export returns a copy of the committed state for persistence.
func (s *Strategy) Export() *State {
	return s.state.Load().clone()
}

func (s *Strategy) Participant(addr common.Address) (Participant, bool) {
	p, ok := s.state.Load().Participants[addr]
	if !ok {
		return Participant{}, false
	}
	return Participant{Roles: p.Roles, ManagerWeight: cloneInt(p.ManagerWeight), DonorWeight: cloneInt(p.DonorWeight)}, true
}

func (s *Strategy) Milestones() []Milestone {
	return cloneMilestones(s.state.Load().Milestones)
}

// Proposal returns the outstanding milestone set proposal, nil if none, and its round.
func (s *Strategy) Proposal() (*Proposal, *VoteRecord) {
	st := s.state.Load()
	var p *Proposal
	if st.Proposal != nil {
		p = &Proposal{Proposer: st.Proposal.Proposer, Milestones: cloneMilestones(st.Proposal.Milestones)}
	}
	return p, st.ProposalVotes.clone()
}

func (s *Strategy) RecipientVotes(recipient common.Address) *VoteRecord {
	if r, ok := s.state.Load().Recipients[recipient]; ok {
		return r.clone()
	}
	return newVoteRecord(0)
}

func (s *Strategy) SubmissionVotes(index int) *VoteRecord {
	if r, ok := s.state.Load().Submissions[index]; ok {
		return r.clone()
	}
	return newVoteRecord(0)
}

func (s *Strategy) RejectionVotes() *VoteRecord {
	return s.state.Load().Rejection.clone()
}
