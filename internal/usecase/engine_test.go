package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semmidev/logship/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

// blockingRunner records concurrent runs per database and blocks each run
// until release is closed.
type blockingRunner struct {
	mu       sync.Mutex
	active   map[string]int
	maxSeen  map[string]int
	items    []domain.QueueItem
	started  chan string
	release  chan struct{}
	finished atomic.Int64
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		active:  make(map[string]int),
		maxSeen: make(map[string]int),
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Process(ctx context.Context, item domain.QueueItem) (RunResult, error) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.active[item.TargetDB]++
	if r.active[item.TargetDB] > r.maxSeen[item.TargetDB] {
		r.maxSeen[item.TargetDB] = r.active[item.TargetDB]
	}
	r.mu.Unlock()

	r.started <- item.TargetDB
	select {
	case <-r.release:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.active[item.TargetDB]--
	r.mu.Unlock()
	r.finished.Add(1)
	return RunResult{Outcome: OutcomeCompleted}, nil
}

type countingWaiter struct {
	iterations int
	calls      atomic.Int64
}

func (w *countingWaiter) WaitForNextIteration(ctx context.Context) error {
	if int(w.calls.Add(1)) <= w.iterations {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestEngineIterate(t *testing.T) {
	Convey("Given an engine without running workers", t, func() {
		ctx := context.Background()
		finished := time.Date(2024, 5, 1, 9, 45, 0, 0, time.UTC)
		dest := newFakeDestination()
		dest.targets = []domain.RestoreTarget{
			{Name: "sales", LastRestoredFinish: finished},
			{Name: "hr"},
		}

		engine := NewEngine(dest, newBlockingRunner(), &countingWaiter{}, nil, zap.NewNop().Sugar(), EngineOptions{
			MaxThreads: 2,
			Offset:     -15 * time.Minute,
		})

		Convey("When iterating once", func() {
			So(engine.Iterate(ctx), ShouldBeNil)

			Convey("It should queue every target with its from date", func() {
				So(engine.Snapshot().Enqueued, ShouldEqual, 2)
				So(engine.queue.Len(), ShouldEqual, 2)

				item, err := engine.queue.Dequeue(ctx)
				So(err, ShouldBeNil)
				So(item.TargetDB, ShouldEqual, "sales")
				So(item.FromDate.Equal(finished.Add(-15*time.Minute)), ShouldBeTrue)

				item, _ = engine.queue.Dequeue(ctx)
				So(item.FromDate.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When iterating twice before any work is taken", func() {
			So(engine.Iterate(ctx), ShouldBeNil)
			So(engine.Iterate(ctx), ShouldBeNil)

			Convey("It should not queue a database twice", func() {
				s := engine.Snapshot()
				So(s.Enqueued, ShouldEqual, 2)
				So(s.SkippedAlreadyEnqueued, ShouldEqual, 2)
				So(s.QueueLength, ShouldEqual, 2)
			})
		})

		Convey("When a database is initializing", func() {
			engine.Initializing().Add("SALES")
			So(engine.Iterate(ctx), ShouldBeNil)

			So(engine.Snapshot().SkippedInitializing, ShouldEqual, 1)
			So(engine.queue.Len(), ShouldEqual, 1)
		})

		Convey("When a database has reached its stop time", func() {
			engine.stopped.Add("hr")
			So(engine.Iterate(ctx), ShouldBeNil)

			So(engine.queue.Len(), ShouldEqual, 1)
		})
	})

	Convey("Given included and excluded lists", t, func() {
		engine := NewEngine(nil, nil, nil, nil, zap.NewNop().Sugar(), EngineOptions{
			Included: []string{"sales", "hr"},
			Excluded: []string{"HR"},
			Mapper:   domain.NameMapper{Prefix: "LS_"},
		})

		So(engine.IsIncluded("LS_sales", "sales"), ShouldBeTrue)
		So(engine.IsIncluded("LS_hr", "hr"), ShouldBeFalse)
		So(engine.IsIncluded("LS_other", "other"), ShouldBeFalse)
	})

	Convey("Given target names with a prefix", t, func() {
		dest := newFakeDestination()
		dest.targets = []domain.RestoreTarget{{Name: "LS_sales"}}
		engine := NewEngine(dest, nil, nil, nil, zap.NewNop().Sugar(), EngineOptions{Mapper: domain.NameMapper{Prefix: "LS_"}})

		So(engine.Iterate(context.Background()), ShouldBeNil)
		item, _ := engine.queue.Dequeue(context.Background())

		So(item.SourceDB, ShouldEqual, "sales")
		So(item.TargetDB, ShouldEqual, "LS_sales")
	})
}

func TestEngineSingleFlight(t *testing.T) {
	Convey("Given running workers and a slow restore", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dest := newFakeDestination()
		dest.targets = []domain.RestoreTarget{{Name: "sales"}}
		runner := newBlockingRunner()
		engine := NewEngine(dest, runner, nil, nil, zap.NewNop().Sugar(), EngineOptions{MaxThreads: 3})

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				engine.work(ctx)
			}()
		}

		So(engine.Iterate(ctx), ShouldBeNil)
		So(<-runner.started, ShouldEqual, "sales")

		Convey("When iterating while the restore is in progress", func() {
			So(engine.Iterate(ctx), ShouldBeNil)
			So(engine.Iterate(ctx), ShouldBeNil)

			close(runner.release)
			So(eventually(func() bool { return runner.finished.Load() == 1 }), ShouldBeTrue)
			cancel()
			wg.Wait()

			Convey("The database should run on one worker at a time", func() {
				s := engine.Snapshot()
				So(s.SkippedInProgress, ShouldEqual, 2)
				So(s.Processed, ShouldEqual, 1)
				So(s.InProgress, ShouldEqual, 0)
				So(runner.maxSeen["sales"], ShouldEqual, 1)
			})
		})

		Convey("When a queued item is dequeued while its database is in progress", func() {
			engine.queue.Enqueue(domain.QueueItem{SourceDB: "sales", TargetDB: "Sales"})

			So(eventually(func() bool { return engine.Snapshot().Dequeued == 2 }), ShouldBeTrue)
			close(runner.release)
			cancel()
			wg.Wait()

			Convey("It should be dropped", func() {
				s := engine.Snapshot()
				So(s.SkippedInProgress, ShouldEqual, 1)
				So(len(runner.items), ShouldEqual, 1)
			})
		})
	})
}

func TestEngineRun(t *testing.T) {
	Convey("Given an engine with two databases", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dest := newFakeDestination()
		dest.targets = []domain.RestoreTarget{{Name: "sales"}, {Name: "hr"}}
		runner := newBlockingRunner()
		close(runner.release)
		waiter := &countingWaiter{iterations: 1}

		engine := NewEngine(dest, runner, waiter, nil, zap.NewNop().Sugar(), EngineOptions{MaxThreads: 2})

		done := make(chan error, 1)
		go func() { done <- engine.Run(ctx) }()

		So(eventually(func() bool { return runner.finished.Load() == 2 }), ShouldBeTrue)

		Convey("When the context is cancelled", func() {
			cancel()

			Convey("Run should return after the workers stop", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(2 * time.Second):
					So("Run did not return", ShouldBeEmpty)
				}
				So(engine.Snapshot().Processed, ShouldEqual, 2)
			})
		})
	})
}
