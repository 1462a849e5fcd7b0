package core

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testPool = 1

var (
	managerA = common.HexToAddress("0x110000000000000000000000000000000000ffff")
	managerB = common.HexToAddress("0x220000000000000000000000000000000000ffff")
	managerC = common.HexToAddress("0x330000000000000000000000000000000000ffff")
	donor1   = common.HexToAddress("0xd10000000000000000000000000000000000ffff")
	donor2   = common.HexToAddress("0xd20000000000000000000000000000000000ffff")
	hunter   = common.HexToAddress("0xaa0000000000000000000000000000000000ffff")
	phantom  = common.HexToAddress("0xbb0000000000000000000000000000000000ffff")
)

type weight struct {
	addr   common.Address
	amount uint64
}

// percent returns n% as a fraction of Scale
func percent(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e16))
}

func u(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Publish(events []Event) error {
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingSink) kinds() []EventKind {
	var kinds []EventKind
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fixture struct {
	ctx      context.Context
	s        *Strategy
	registry *MemoryRegistry
	custody  *MemoryCustody
	sink     *recordingSink
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

// newFixture registers a pool needing `need`, funds it with the same amount
// and initializes a strategy over it.
func newFixture(t *testing.T, managers, donors []weight, need uint64) *fixture {
	t.Helper()

	registry := NewMemoryRegistry()
	registry.RegisterPool(testPool, u(need))
	for _, m := range managers {
		require.NoError(t, registry.AddManager(testPool, m.addr, u(m.amount)))
	}

	custody := NewMemoryCustody()
	for _, d := range donors {
		require.NoError(t, registry.AddDonor(testPool, d.addr, u(d.amount)))
	}
	custody.Deposit(common.Address{}, u(need))

	sink := &recordingSink{}
	s, err := NewStrategy(testConfig(), testPool, registry, custody, WithLogger(testLogger()), WithEventSink(sink))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	return &fixture{ctx: ctx, s: s, registry: registry, custody: custody, sink: sink}
}

// install offers the given milestone set and has every other manager accept it.
func (f *fixture) install(t *testing.T, proposer common.Address, others []common.Address, pcts ...uint64) {
	t.Helper()

	inputs := make([]MilestoneInput, len(pcts))
	for i, p := range pcts {
		inputs[i] = MilestoneInput{Percentage: percent(p), Metadata: "milestone"}
	}
	require.NoError(t, f.s.OfferMilestones(f.ctx, proposer, inputs))
	for _, m := range others {
		require.NoError(t, f.s.ReviewMilestones(f.ctx, m, StatusAccepted))
	}
	require.Len(t, f.s.Milestones(), len(pcts))
}

func (f *fixture) hire(t *testing.T, managers ...common.Address) {
	t.Helper()

	for _, m := range managers {
		require.NoError(t, f.s.ReviewRecipient(f.ctx, m, hunter, StatusAccepted))
	}
	require.Equal(t, hunter, f.s.Snapshot().Hunter)
}
