package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/repo"
	"github.com/axiomesh/allocator/store"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var poolFlag = &cli.Uint64Flag{
	Name:  "pool-id",
	Usage: "Pool id, the most recently saved pool if unset",
}

var strategyCMDs = []*cli.Command{
	{
		Name:  "init",
		Usage: "Initialize a strategy over the pool described by a yaml file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "pool",
				Usage:    "Pool definition file",
				Required: true,
			},
		},
		Action: initStrategy,
	},
	{
		Name:  "exec",
		Usage: "Run an action script against a saved strategy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "script",
				Usage:    "Action script file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "keep-going",
				Usage: "Continue with the next action when one fails",
			},
		},
		Action: execScript,
	},
	{
		Name:   "status",
		Usage:  "Show the state of a saved strategy",
		Flags:  []cli.Flag{poolFlag},
		Action: status,
	},
	{
		Name:   "history",
		Usage:  "Show the journaled events of a pool",
		Flags:  []cli.Flag{poolFlag},
		Action: history,
	},
}

// env holds what every strategy command opens in the repo.
type env struct {
	repo      *repo.Repo
	logger    *logrus.Logger
	snapshots *store.SnapshotStore
	journal   *store.Journal
}

func openEnv(ctx *cli.Context) (*env, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	r, err := repo.Load(p)
	if err != nil {
		return nil, err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(filepath.Join(r.Config.RepoRoot, repo.LogsDirName)),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("log initialize: %w", err)
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	snapshots, err := store.NewSnapshotStore(r.Config.SnapshotPath())
	if err != nil {
		return nil, err
	}
	journal, err := store.NewJournal(store.JournalConfig{
		Dir:              r.Config.JournalPath(),
		SegmentThreshold: r.Config.Storage.SegmentThreshold,
		MaxSegments:      r.Config.Storage.MaxSegments,
		SyncDisk:         r.Config.Storage.SyncDisk,
	})
	if err != nil {
		snapshots.Close()
		return nil, err
	}

	return &env{repo: r, logger: logger, snapshots: snapshots, journal: journal}, nil
}

func (e *env) Close() {
	if err := e.journal.Close(); err != nil {
		e.logger.Errorf("close journal: %s", err)
	}
	if err := e.snapshots.Close(); err != nil {
		e.logger.Errorf("close snapshot db: %s", err)
	}
}

func (e *env) options() []core.Option {
	return []core.Option{core.WithLogger(e.logger), core.WithEventSink(e.journal)}
}

func (e *env) poolID(ctx *cli.Context, fallback uint64) (uint64, error) {
	if ctx.IsSet(poolFlag.Name) {
		return ctx.Uint64(poolFlag.Name), nil
	}
	if fallback != 0 {
		return fallback, nil
	}
	return e.snapshots.LastPool()
}

// restore loads a saved strategy together with its custody ledger. The
// registry is only read during Initialize, so an empty one is enough.
func (e *env) restore(poolID uint64) (*core.Strategy, *core.MemoryCustody, error) {
	st, err := e.snapshots.LoadStrategy(poolID)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := e.snapshots.LoadLedger(poolID)
	if err != nil {
		return nil, nil, err
	}
	custody := core.NewMemoryCustodyFromLedger(ledger)
	s, err := core.Restore(e.repo.Config.StrategyConfig(), st, core.NewMemoryRegistry(), custody, e.options()...)
	if err != nil {
		return nil, nil, err
	}
	return s, custody, nil
}

func (e *env) save(s *core.Strategy, custody *core.MemoryCustody) error {
	st := s.Export()
	if err := e.snapshots.SaveLedger(st.PoolID, custody.Ledger()); err != nil {
		return err
	}
	return e.snapshots.SaveStrategy(st)
}

func initStrategy(ctx *cli.Context) error {
	pool, err := LoadPool(ctx.String("pool"))
	if err != nil {
		return err
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.snapshots.LoadStrategy(pool.ID); err == nil {
		return errors.Errorf("strategy of pool %d already exists", pool.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	s, err := core.NewStrategy(e.repo.Config.StrategyConfig(), pool.ID, pool.Registry, pool.Custody, e.options()...)
	if err != nil {
		return err
	}
	if err := s.Initialize(ctx.Context); err != nil {
		return errors.Wrap(err, "initialize strategy")
	}
	if err := e.save(s, pool.Custody); err != nil {
		return err
	}

	fmt.Printf("strategy of pool %d initialized, need %s\n", pool.ID, pool.Need.Dec())
	return printStatus(ctx.Context, s, pool.Custody)
}

func execScript(ctx *cli.Context) error {
	script, err := LoadScript(ctx.String("script"))
	if err != nil {
		return err
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	poolID, err := e.poolID(ctx, script.Pool)
	if err != nil {
		return err
	}
	s, custody, err := e.restore(poolID)
	if err != nil {
		return err
	}

	failed := 0
	for i, a := range script.Actions {
		if err := a.Apply(ctx.Context, s); err != nil {
			failed++
			fmt.Printf("[%d] %s: %s\n", i, a, err)
			if !ctx.Bool("keep-going") {
				break
			}
			continue
		}
		fmt.Printf("[%d] %s: ok\n", i, a)
	}

	// failed actions leave no trace, so whatever committed is saved
	if err := e.save(s, custody); err != nil {
		return err
	}
	if err := printStatus(ctx.Context, s, custody); err != nil {
		return err
	}
	if failed > 0 {
		return errors.Errorf("%d action(s) failed", failed)
	}
	return nil
}

func status(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	poolID, err := e.poolID(ctx, 0)
	if err != nil {
		return err
	}
	s, custody, err := e.restore(poolID)
	if err != nil {
		return err
	}
	return printStatus(ctx.Context, s, custody)
}

func history(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	poolID, err := e.poolID(ctx, 0)
	if err != nil {
		return err
	}
	entries, err := e.journal.Events(poolID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Println(formatEntry(entry))
	}
	return nil
}

func printStatus(ctx context.Context, s *core.Strategy, custody *core.MemoryCustody) error {
	snap := s.Snapshot()
	balance, err := custody.BalanceOf(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("pool:          %d\n", snap.PoolID)
	fmt.Printf("state:         %s\n", snap.State)
	fmt.Printf("threshold:     %d%%\n", snap.Threshold)
	fmt.Printf("total supply:  %s%%\n", formatPercentage(snap.TotalSupply))
	fmt.Printf("balance:       %s\n", balance.Dec())
	if snap.Hunter != (common.Address{}) {
		fmt.Printf("recipient:     %s (received %s)\n", snap.Hunter, custody.Received(snap.Hunter).Dec())
	}

	if p, votes := s.Proposal(); p != nil {
		fmt.Printf("proposal by %s, round %d, for %s%% against %s%%\n",
			p.Proposer, votes.Epoch, formatPercentage(votes.VotesFor), formatPercentage(votes.VotesAgainst))
		for i, m := range p.Milestones {
			fmt.Printf("  %d. %s%% %s\n", i, formatPercentage(m.Percentage), m.Metadata)
		}
	}
	for i, m := range s.Milestones() {
		line := fmt.Sprintf("milestone %d:   %s%% %s [%s]", i, formatPercentage(m.Percentage), m.Metadata, m.Status)
		if m.Status == core.StatusPending {
			votes := s.SubmissionVotes(i)
			line += fmt.Sprintf(" for %s%% against %s%%", formatPercentage(votes.VotesFor), formatPercentage(votes.VotesAgainst))
		}
		fmt.Println(line)
	}
	if r := s.RejectionVotes(); !r.VotesFor.IsZero() {
		fmt.Printf("rejection:     %s%% of donor weight\n", formatPercentage(r.VotesFor))
	}
	return nil
}

func formatEntry(entry store.Entry) string {
	ev := entry.Event
	line := fmt.Sprintf("%6d %s %-20s epoch=%d", entry.Index, entry.Time.Format("2006-01-02 15:04:05"), ev.Kind, ev.Epoch)
	if ev.Actor != (common.Address{}) {
		line += " actor=" + ev.Actor.Hex()
	}
	if ev.Subject != (common.Address{}) {
		line += " subject=" + ev.Subject.Hex()
	}
	switch ev.Kind {
	case core.EventMilestoneSubmitted, core.EventSubmissionVoted, core.EventMilestoneAccepted,
		core.EventMilestoneRejected, core.EventStrategyExecuted:
		line += " index=" + strconv.Itoa(ev.Index)
	case core.EventMilestonesOffered, core.EventMilestonesAccepted:
		// these carry the size of the milestone set
		line += " milestones=" + strconv.Itoa(ev.Index)
	}
	if ev.Status != core.StatusNone {
		line += " status=" + ev.Status.String()
	}
	line += optional(" weight=", ev.Weight, formatPercentage)
	line += optional(" amount=", ev.Amount, (*uint256.Int).Dec)
	return line
}

func optional(label string, x *uint256.Int, format func(*uint256.Int) string) string {
	if x == nil {
		return ""
	}
	return label + format(x)
}
