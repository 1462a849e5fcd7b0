package core

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrUnknownPool         = errors.New("unknown pool")
	ErrInsufficientBalance = errors.New("insufficient pool balance")
)

type PoolInfo struct {
	ID   uint64
	Need *uint256.Int
}

// Registry is the funding intake ledger a strategy reads its committee from.
type Registry interface {
	Pool(ctx context.Context, poolID uint64) (PoolInfo, error)

	Participants(ctx context.Context, poolID uint64) (managers, donors []common.Address, err error)

	ManagerWeight(ctx context.Context, poolID uint64, addr common.Address) (*uint256.Int, error)

	DonorContribution(ctx context.Context, poolID uint64, addr common.Address) (*uint256.Int, error)
}

// Custody holds the pool funds. Transfer applies every payout or none.
type Custody interface {
	BalanceOf(ctx context.Context) (*uint256.Int, error)

	Transfer(ctx context.Context, payouts []Payout) error
}

var _ Registry = (*MemoryRegistry)(nil)

type memoryPool struct {
	info          PoolInfo
	managers      []common.Address
	donors        []common.Address
	weights       map[common.Address]*uint256.Int
	contributions map[common.Address]*uint256.Int
}

type MemoryRegistry struct {
	mu    sync.RWMutex
	pools map[uint64]*memoryPool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{pools: make(map[uint64]*memoryPool)}
}

func (r *MemoryRegistry) RegisterPool(poolID uint64, need *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pools[poolID] = &memoryPool{
		info:          PoolInfo{ID: poolID, Need: cloneInt(need)},
		weights:       make(map[common.Address]*uint256.Int),
		contributions: make(map[common.Address]*uint256.Int),
	}
}

func (r *MemoryRegistry) AddManager(poolID uint64, addr common.Address, weight *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[poolID]
	if !ok {
		return errors.Wrapf(ErrUnknownPool, "pool %d", poolID)
	}
	if _, ok := p.weights[addr]; !ok {
		p.managers = append(p.managers, addr)
		p.weights[addr] = new(uint256.Int)
	}
	p.weights[addr].Add(p.weights[addr], weight)
	return nil
}

// AddDonor records a contribution; repeated contributions accumulate.
func (r *MemoryRegistry) AddDonor(poolID uint64, addr common.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[poolID]
	if !ok {
		return errors.Wrapf(ErrUnknownPool, "pool %d", poolID)
	}
	if _, ok := p.contributions[addr]; !ok {
		p.donors = append(p.donors, addr)
		p.contributions[addr] = new(uint256.Int)
	}
	p.contributions[addr].Add(p.contributions[addr], amount)
	return nil
}

func (r *MemoryRegistry) pool(poolID uint64) (*memoryPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[poolID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPool, "pool %d", poolID)
	}
	return p, nil
}

func (r *MemoryRegistry) Pool(_ context.Context, poolID uint64) (PoolInfo, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{ID: p.info.ID, Need: cloneInt(p.info.Need)}, nil
}

func (r *MemoryRegistry) Participants(_ context.Context, poolID uint64) ([]common.Address, []common.Address, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return nil, nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), p.managers...), append([]common.Address(nil), p.donors...), nil
}

func (r *MemoryRegistry) ManagerWeight(_ context.Context, poolID uint64, addr common.Address) (*uint256.Int, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneInt(p.weights[addr]), nil
}

func (r *MemoryRegistry) DonorContribution(_ context.Context, poolID uint64, addr common.Address) (*uint256.Int, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneInt(p.contributions[addr]), nil
}

var _ Custody = (*MemoryCustody)(nil)

// Ledger is the serializable content of a MemoryCustody.
type Ledger struct {
	Pool     *uint256.Int                    `json:"pool"`
	Accounts map[common.Address]*uint256.Int `json:"accounts"`
}

type MemoryCustody struct {
	mu       sync.Mutex
	pool     *uint256.Int
	accounts map[common.Address]*uint256.Int

	// OnTransfer runs before a transfer is applied; an error aborts it
	OnTransfer func(payouts []Payout) error
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{
		pool:     new(uint256.Int),
		accounts: make(map[common.Address]*uint256.Int),
	}
}

func NewMemoryCustodyFromLedger(l Ledger) *MemoryCustody {
	c := NewMemoryCustody()
	c.pool = cloneInt(l.Pool)
	for addr, amount := range l.Accounts {
		c.accounts[addr] = cloneInt(amount)
	}
	return c
}

// Deposit moves funds into the pool on behalf of a contributor.
func (c *MemoryCustody) Deposit(_ common.Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool.Add(c.pool, amount)
}

func (c *MemoryCustody) BalanceOf(_ context.Context) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneInt(c.pool), nil
}

// Received returns what addr was paid out of the pool so far.
func (c *MemoryCustody) Received(addr common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneInt(c.accounts[addr])
}

func (c *MemoryCustody) Transfer(_ context.Context, payouts []Payout) error {
	if c.OnTransfer != nil {
		if err := c.OnTransfer(payouts); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	total := new(uint256.Int)
	for _, p := range payouts {
		if _, overflow := total.AddOverflow(total, p.Amount); overflow {
			return ErrInsufficientBalance
		}
	}
	if total.Gt(c.pool) {
		return errors.Wrapf(ErrInsufficientBalance, "need %s, have %s", total.Dec(), c.pool.Dec())
	}

	c.pool.Sub(c.pool, total)
	for _, p := range payouts {
		acc, ok := c.accounts[p.To]
		if !ok {
			acc = new(uint256.Int)
			c.accounts[p.To] = acc
		}
		acc.Add(acc, p.Amount)
	}
	return nil
}

func (c *MemoryCustody) Ledger() Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := Ledger{Pool: cloneInt(c.pool), Accounts: make(map[common.Address]*uint256.Int, len(c.accounts))}
	for addr, amount := range c.accounts {
		l.Accounts[addr] = cloneInt(amount)
	}
	return l
}
