package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semmidev/logship/internal/domain"
)

type Runner interface {
	Process(ctx context.Context, item domain.QueueItem) (RunResult, error)
}

type TargetLister interface {
	ListRestoreTargets(ctx context.Context) ([]domain.RestoreTarget, error)
}

// IterationWaiter blocks until the next polling iteration may start.
type IterationWaiter interface {
	WaitForNextIteration(ctx context.Context) error
}

type EngineOptions struct {
	MaxThreads int
	// Offset is added to the last restored finish date to get FromDate.
	Offset   time.Duration
	Included []string
	Excluded []string
	Mapper   domain.NameMapper
}

type Counters struct {
	enqueued               atomic.Int64
	skippedAlreadyEnqueued atomic.Int64
	skippedInProgress      atomic.Int64
	skippedInitializing    atomic.Int64
	dequeued               atomic.Int64
	processed              atomic.Int64
	errored                atomic.Int64
	inProgress             atomic.Int64
}

type CountersSnapshot struct {
	Enqueued               int64    `json:"enqueued"`
	SkippedAlreadyEnqueued int64    `json:"skipped_already_enqueued"`
	SkippedInProgress      int64    `json:"skipped_in_progress"`
	SkippedInitializing    int64    `json:"skipped_initializing"`
	Dequeued               int64    `json:"dequeued"`
	Processed              int64    `json:"processed"`
	Errored                int64    `json:"errored"`
	InProgress             int64    `json:"in_progress"`
	QueueLength            int      `json:"queue_length"`
	StoppedAt              []string `json:"stopped_at"`
}

// Engine discovers restore targets each iteration and hands them to a pool
// of workers. A database is never queued twice nor processed by two workers
// at once.
type Engine struct {
	targets TargetLister
	runner  Runner
	waiter  IterationWaiter
	logger  Logger
	opts    EngineOptions

	queue        *WorkQueue
	enqueued     *MembershipSet
	inProgress   *MembershipSet
	initializing *MembershipSet
	stopped      *MembershipSet

	counters Counters
}

// NewEngine creates an engine. stopped is shared with the sequencer, which
// adds databases whose stop at target has been reached.
func NewEngine(targets TargetLister, runner Runner, waiter IterationWaiter, stopped *MembershipSet, logger Logger, opts EngineOptions) *Engine {
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 1
	}
	if stopped == nil {
		stopped = NewMembershipSet()
	}
	return &Engine{
		targets:      targets,
		runner:       runner,
		waiter:       waiter,
		logger:       logger,
		opts:         opts,
		queue:        NewWorkQueue(),
		enqueued:     NewMembershipSet(),
		inProgress:   NewMembershipSet(),
		initializing: NewMembershipSet(),
		stopped:      stopped,
	}
}

// Initializing returns the set of source databases being seeded. Log
// restores are not queued for them.
func (e *Engine) Initializing() *MembershipSet {
	return e.initializing
}

func (e *Engine) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Enqueued:               e.counters.enqueued.Load(),
		SkippedAlreadyEnqueued: e.counters.skippedAlreadyEnqueued.Load(),
		SkippedInProgress:      e.counters.skippedInProgress.Load(),
		SkippedInitializing:    e.counters.skippedInitializing.Load(),
		Dequeued:               e.counters.dequeued.Load(),
		Processed:              e.counters.processed.Load(),
		Errored:                e.counters.errored.Load(),
		InProgress:             e.counters.inProgress.Load(),
		QueueLength:            e.queue.Len(),
		StoppedAt:              e.stopped.Names(),
	}
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// IsIncluded applies the included and excluded lists to a target and its
// source name.
func (e *Engine) IsIncluded(target, source string) bool {
	if contains(e.opts.Excluded, target) || contains(e.opts.Excluded, source) {
		return false
	}
	if len(e.opts.Included) == 0 {
		return true
	}
	return contains(e.opts.Included, target) || contains(e.opts.Included, source)
}

// Iterate queues every eligible restore target and returns without waiting
// for the work to finish.
func (e *Engine) Iterate(ctx context.Context) error {
	targets, err := e.targets.ListRestoreTargets(ctx)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.offer(t)
	}

	s := e.Snapshot()
	e.logger.Infow("Iteration complete",
		"targets", len(targets),
		"enqueued", s.Enqueued,
		"skipped_already_enqueued", s.SkippedAlreadyEnqueued,
		"skipped_in_progress", s.SkippedInProgress,
		"skipped_initializing", s.SkippedInitializing,
		"dequeued", s.Dequeued,
		"processed", s.Processed,
		"errored", s.Errored,
		"in_progress", s.InProgress,
		"queue_length", s.QueueLength,
	)
	return nil
}

func (e *Engine) offer(t domain.RestoreTarget) {
	source := e.opts.Mapper.SourceName(t.Name)

	if e.initializing.Contains(source) {
		e.logger.Infof("[%s] Skipping log restores due to initialization", t.Name)
		e.counters.skippedInitializing.Add(1)
		return
	}
	if e.stopped.Contains(t.Name) || !e.IsIncluded(t.Name, source) {
		e.logger.Debugf("[%s] Skipping, database is excluded", t.Name)
		return
	}
	if e.inProgress.Contains(t.Name) {
		e.logger.Debugf("[%s] Skipping, restore in progress", t.Name)
		e.counters.skippedInProgress.Add(1)
		return
	}

	item := domain.QueueItem{SourceDB: source, TargetDB: t.Name}
	if !t.LastRestoredFinish.IsZero() {
		item.FromDate = t.LastRestoredFinish.Add(e.opts.Offset)
	}

	if !e.enqueued.Add(item.TargetDB) {
		e.logger.Debugf("[%s] Skipping, already queued", t.Name)
		e.counters.skippedAlreadyEnqueued.Add(1)
		return
	}
	e.queue.Enqueue(item)
	e.counters.enqueued.Add(1)
}

// Run starts the workers and iterates until ctx is cancelled, then waits for
// the workers to stop at their next file boundary.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.opts.MaxThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}

	for {
		if err := e.waiter.WaitForNextIteration(ctx); err != nil {
			break
		}
		if err := e.Iterate(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Errorf("Iteration failed: %v", err)
		}
	}

	e.logger.Infof("Waiting for %d in-progress restores to stop", e.inProgress.Len())
	wg.Wait()
	return nil
}

func (e *Engine) work(ctx context.Context) {
	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.counters.dequeued.Add(1)
		e.enqueued.Remove(item.TargetDB)

		if !e.inProgress.Add(item.TargetDB) {
			e.logger.Debugf("[%s] Dropping queued item, restore in progress", item.TargetDB)
			e.counters.skippedInProgress.Add(1)
			continue
		}

		e.process(ctx, item)
		e.inProgress.Remove(item.TargetDB)
	}
}

func (e *Engine) process(ctx context.Context, item domain.QueueItem) {
	e.counters.inProgress.Add(1)
	defer e.counters.inProgress.Add(-1)

	start := time.Now()
	res, err := e.runner.Process(ctx, item)
	if err != nil {
		e.counters.errored.Add(1)
		e.logger.Errorf("[%s] Error restoring logs: %v", item.TargetDB, err)
		return
	}

	e.counters.processed.Add(1)
	e.logger.Infof("[%s] Restore logs %s in %s, %d applied", item.TargetDB, res.Outcome, time.Since(start).Round(time.Millisecond), res.Applied)
}
