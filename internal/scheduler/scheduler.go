// Package scheduler runs a phase's work items through a bounded worker
// pool, flushing progress to the session store on a count or time cadence.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/scheduler"

// Outcome is the result of running one work item through a phase worker.
// A non-empty SkipReason marks the item as failed rather than processed.
type Outcome struct {
	Path       string
	Signature  capability.Signature
	Results    []session.PartialResult
	SkipReason string
}

// Worker processes one work item. It must not panic; failures are
// reported through Outcome.SkipReason.
type Worker func(ctx context.Context, path string) Outcome

// Flush persists a progress delta. Called from a single goroutine.
type Flush func(ctx context.Context, delta session.Delta) error

// Config bounds the pool and sets the checkpoint cadence.
type Config struct {
	Concurrency        int
	CheckpointEvery    int
	CheckpointInterval time.Duration
}

// Result summarizes one Drain call.
type Result struct {
	Processed int
	Skipped   int
	// Drained is false when the queue was abandoned early because the
	// pause predicate fired or the context was cancelled.
	Drained bool
}

// Scheduler dispatches work items to a fixed-size worker pool.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates the config and creates a scheduler.
func New(cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1")
	}
	if cfg.CheckpointEvery < 1 {
		return nil, fmt.Errorf("checkpoint_every must be at least 1")
	}
	if cfg.CheckpointInterval <= 0 {
		return nil, fmt.Errorf("checkpoint_interval must be positive")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Drain feeds paths through the pool until the queue empties, the context
// is cancelled, or paused reports true. Dispatch stops at a pause but
// in-flight items run to completion and are included in the final flush,
// so no completed work is lost.
//
// Outcomes are flushed every CheckpointEvery items or CheckpointInterval,
// whichever comes first, plus once at the end.
func (s *Scheduler) Drain(ctx context.Context, paths []string, worker Worker, paused func() bool, flush Flush) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Drain",
		trace.WithAttributes(
			attribute.Int("items", len(paths)),
			attribute.Int("concurrency", s.cfg.Concurrency),
		))
	defer span.End()

	if paused == nil {
		paused = func() bool { return false }
	}

	queue := make(chan string)
	outcomes := make(chan Outcome)

	g, gctx := errgroup.WithContext(ctx)

	dispatched := 0
	g.Go(func() error {
		defer close(queue)
		for _, path := range paths {
			if paused() {
				s.logger.Info("pause requested, stopping dispatch",
					zap.Int("dispatched", dispatched),
					zap.Int("remaining", len(paths)-dispatched))
				return nil
			}
			select {
			case queue <- path:
				dispatched++
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := errgroup.Group{}
	for i := 0; i < s.cfg.Concurrency; i++ {
		workers.Go(func() error {
			for path := range queue {
				out := worker(gctx, path)
				select {
				case outcomes <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(outcomes)
		return workers.Wait()
	})

	var res Result
	collectErr := make(chan error, 1)
	go func() {
		collectErr <- s.collect(ctx, outcomes, flush, &res)
	}()

	runErr := g.Wait()
	cErr := <-collectErr
	if runErr != nil {
		return res, runErr
	}
	if cErr != nil {
		return res, cErr
	}
	res.Drained = res.Processed+res.Skipped == len(paths)
	return res, nil
}

// collect accumulates outcomes into a delta and flushes on cadence. Runs
// until the outcomes channel closes, then flushes the remainder.
func (s *Scheduler) collect(ctx context.Context, outcomes <-chan Outcome, flush Flush, res *Result) error {
	ticker := time.NewTicker(s.cfg.CheckpointInterval)
	defer ticker.Stop()

	delta := newDelta()
	pendingFlush := 0

	doFlush := func() error {
		if delta.Empty() {
			return nil
		}
		if err := flush(ctx, delta); err != nil {
			return fmt.Errorf("flushing checkpoint: %w", err)
		}
		delta = newDelta()
		pendingFlush = 0
		return nil
	}

	// After a flush failure, keep draining outcomes so workers are not
	// blocked on a send nobody reads; report the first error at the end.
	var firstErr error
	for {
		select {
		case out, ok := <-outcomes:
			if !ok {
				if firstErr != nil {
					return firstErr
				}
				return doFlush()
			}
			if firstErr != nil {
				continue
			}
			if out.SkipReason != "" {
				delta.Skipped[out.Path] = out.SkipReason
				res.Skipped++
			} else {
				delta.Processed[out.Path] = out.Signature
				res.Processed++
			}
			if len(out.Results) > 0 {
				delta.Results[out.Path] = append(delta.Results[out.Path], out.Results...)
			}
			pendingFlush++
			if pendingFlush >= s.cfg.CheckpointEvery {
				firstErr = doFlush()
			}
		case <-ticker.C:
			if firstErr == nil {
				firstErr = doFlush()
			}
		}
	}
}

func newDelta() session.Delta {
	return session.Delta{
		Processed: make(map[string]capability.Signature),
		Skipped:   make(map[string]string),
		Results:   make(map[string][]session.PartialResult),
	}
}
