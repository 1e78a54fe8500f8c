package lsmcore

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CompactionRunner performs the actual I/O of a compaction: reading
// c's inputs through a TableCache, writing merged output table files,
// and returning the VersionEdit describing the resulting deletions
// and additions. The output table format is an external collaborator
// this core never implements; Run is the seam a caller plugs one into.
// Run must check ctx between output files (or more often) and return
// ctx.Err() promptly on cancellation, discarding any partially written
// output — files never installed via LogAndApply are cleaned up by
// file-number comparison against AddLiveFiles.
type CompactionRunner interface {
	Run(ctx context.Context, c *Compaction) (*VersionEdit, error)
}

// Executor drives a single background compaction loop: on each wakeup
// it asks the VersionSet to pick the next compaction, hands it to the
// CompactionRunner, and installs the resulting edit. Only one
// compaction runs at a time, matching spec.md's single background
// compaction thread.
type Executor struct {
	vs     *VersionSet
	runner CompactionRunner
	logger *slog.Logger

	mu      sync.Mutex
	wakeup  chan struct{}
	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool
}

// NewExecutor creates an Executor for vs, running compactions through
// runner.
func NewExecutor(vs *VersionSet, runner CompactionRunner, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Executor{
		vs:     vs,
		runner: runner,
		logger: logger,
		wakeup: make(chan struct{}, 1),
	}
}

// Start launches the background compaction loop. Calling Start twice
// is a no-op.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	e.group = group
	group.Go(func() error {
		return e.loop(gctx)
	})
}

// Schedule wakes the compaction loop to check for work; safe to call
// from any goroutine, any number of times, without blocking.
func (e *Executor) Schedule() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

// Stop cancels the background loop and waits for it to exit.
func (e *Executor) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return group.Wait()
}

func (e *Executor) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wakeup:
		}

		for {
			if ctx.Err() != nil {
				return nil
			}
			c := e.vs.PickCompaction()
			if c == nil {
				break
			}
			if err := e.runOne(ctx, c); err != nil {
				e.logger.Error("compaction failed", "level", c.Level(), "error", err)
				break
			}
		}
	}
}

// runOne executes a single compaction end to end: trivial-move
// shortcut, or a full run through the CompactionRunner followed by
// LogAndApply.
func (e *Executor) runOne(ctx context.Context, c *Compaction) error {
	defer c.ReleaseInputs()

	if c.IsTrivialMove() {
		edit := &VersionEdit{}
		f := c.Inputs(0)[0]
		edit.DeleteFile(c.Level(), f.Number)
		edit.AddFile(c.OutputLevel(), f.Number, f.FileSize, f.Smallest, f.Largest)
		c.RecordCompactPointer(edit)
		e.logger.Info("trivial move", "file_num", f.Number, "from_level", c.Level(), "to_level", c.OutputLevel())
		if err := e.vs.LogAndApply(edit); err != nil {
			e.countFailure()
			return err
		}
		if e.vs.Metrics != nil {
			e.vs.Metrics.TrivialMoves.Inc()
			e.vs.Metrics.CompactionsCompleted.Inc()
		}
		return nil
	}

	edit, err := e.runner.Run(ctx, c)
	if err != nil {
		e.countFailure()
		return err
	}
	if ctx.Err() != nil {
		e.countFailure()
		return ctx.Err()
	}
	c.AddInputDeletions(edit)
	c.RecordCompactPointer(edit)
	e.logger.Info("compaction produced edit", "level", c.Level(), "output_level", c.OutputLevel(), "input_files", c.NumInputFiles())
	if err := e.vs.LogAndApply(edit); err != nil {
		e.countFailure()
		return err
	}
	if e.vs.Metrics != nil {
		e.vs.Metrics.CompactionsCompleted.Inc()
	}
	return nil
}

func (e *Executor) countFailure() {
	if e.vs.Metrics != nil {
		e.vs.Metrics.CompactionsFailed.Inc()
	}
}
