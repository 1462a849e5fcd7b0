package store

import (
	"encoding/json"
	"fmt"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/pkg/errors"
)

const (
	strategyKeyPrefix = "strategy_"
	ledgerKeyPrefix   = "ledger_"
	lastPoolKey       = "last_pool"
)

var ErrNotFound = errors.New("not found")

// SnapshotStore keeps the latest committed state of each strategy in leveldb.
// A state is written under a single key so a save is never partial.
type SnapshotStore struct {
	db storage.Storage
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	db, err := leveldb.New(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot db %s", dir)
	}

	return &SnapshotStore{db: db}, nil
}

func strategyKey(poolID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", strategyKeyPrefix, poolID))
}

func ledgerKey(poolID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", ledgerKeyPrefix, poolID))
}

func (s *SnapshotStore) SaveStrategy(st *core.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal strategy state")
	}

	s.db.Put(strategyKey(st.PoolID), data)
	s.db.Put([]byte(lastPoolKey), []byte(fmt.Sprintf("%d", st.PoolID)))
	return nil
}

func (s *SnapshotStore) LoadStrategy(poolID uint64) (*core.State, error) {
	data := s.db.Get(strategyKey(poolID))
	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "strategy of pool %d", poolID)
	}

	st := &core.State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.Wrapf(err, "decode strategy of pool %d", poolID)
	}
	return st, nil
}

// LastPool returns the pool of the most recently saved strategy.
func (s *SnapshotStore) LastPool() (uint64, error) {
	data := s.db.Get([]byte(lastPoolKey))
	if data == nil {
		return 0, errors.Wrap(ErrNotFound, "no strategy saved")
	}

	var poolID uint64
	if _, err := fmt.Sscanf(string(data), "%d", &poolID); err != nil {
		return 0, errors.Wrap(err, "decode last pool")
	}
	return poolID, nil
}

func (s *SnapshotStore) SaveLedger(poolID uint64, l core.Ledger) error {
	data, err := json.Marshal(l)
	if err != nil {
		return errors.Wrap(err, "marshal custody ledger")
	}

	s.db.Put(ledgerKey(poolID), data)
	return nil
}

func (s *SnapshotStore) LoadLedger(poolID uint64) (core.Ledger, error) {
	data := s.db.Get(ledgerKey(poolID))
	if data == nil {
		return core.Ledger{}, errors.Wrapf(ErrNotFound, "ledger of pool %d", poolID)
	}

	var l core.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return core.Ledger{}, errors.Wrapf(err, "decode ledger of pool %d", poolID)
	}
	return l, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
