package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/axiomesh/allocator/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	eventKeyPrefix     = "event_"
	journalDirPerm     = 0o755
	defaultSegments    = 100
	defaultSegmentSize = 1000
)

type JournalConfig struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
	SyncDisk         bool
}

// Entry is one journaled event.
type Entry struct {
	Index uint64      `json:"index"`
	ID    common.Hash `json:"id"`
	RunID string      `json:"run_id"`
	Time  time.Time   `json:"time"`
	Event core.Event  `json:"event"`
}

var _ core.EventSink = (*Journal)(nil)

// Journal is an append-only WAL of strategy events. Every journal instance
// tags its entries with a fresh run id so separate executions can be told apart.
type Journal struct {
	wal   *gowal.Wal
	runID string
	mu    sync.Mutex
}

func NewJournal(cfg JournalConfig) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, journalDirPerm); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", cfg.Dir)
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = defaultSegmentSize
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultSegments
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           "journal_",
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: cfg.SyncDisk,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	return &Journal{wal: wal, runID: uuid.NewString()}, nil
}

func (j *Journal) RunID() string {
	return j.runID
}

func eventKey(e core.Event) string {
	return fmt.Sprintf("%s%d_%s", eventKeyPrefix, e.PoolID, e.Kind)
}

func eventID(runID string, index uint64, payload []byte) common.Hash {
	idx := make([]byte, 8)
	binary.BigEndian.PutUint64(idx, index)
	return crypto.Keccak256Hash([]byte(runID), idx, payload)
}

func (j *Journal) Publish(events []core.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal event")
		}

		index := j.wal.CurrentIndex() + 1
		entry := Entry{
			Index: index,
			ID:    eventID(j.runID, index, payload),
			RunID: j.runID,
			Time:  now,
			Event: e,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "marshal journal entry")
		}
		if err := j.wal.Write(index, eventKey(e), data); err != nil {
			return errors.Wrapf(err, "write journal entry %d", index)
		}
	}
	return nil
}

// Events returns the journaled events of a pool in write order. Entries of
// segments dropped by rotation are skipped.
func (j *Journal) Events(poolID uint64) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prefix := fmt.Sprintf("%s%d_", eventKeyPrefix, poolID)
	current := j.wal.CurrentIndex()

	var entries []Entry
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errors.Wrapf(err, "decode journal entry %d", idx)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
