// Package coordinator drives a session through its workflow: discovery,
// the parallel analysis and documentation phase, the review barrier, and
// finalization. It owns the lifecycle transitions and the failure
// threshold; the heavy lifting is delegated to the injected capabilities.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/memorybank"
	"github.com/SudoKMaar/CodeSentinel/internal/scheduler"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/coordinator"

// Capabilities bundles the pluggable workers a coordinator drives.
type Capabilities struct {
	Discovery  capability.Discovery
	Analyzer   capability.Analyzer
	Documenter capability.Documenter
	Reviewer   capability.Reviewer
}

func (c Capabilities) validate() error {
	if c.Discovery == nil {
		return fmt.Errorf("discovery is required")
	}
	if c.Analyzer == nil {
		return fmt.Errorf("analyzer is required")
	}
	if c.Documenter == nil {
		return fmt.Errorf("documenter is required")
	}
	if c.Reviewer == nil {
		return fmt.Errorf("reviewer is required")
	}
	return nil
}

// run tracks one in-flight session workflow.
type run struct {
	cancel context.CancelFunc
	pause  chan struct{} // closed to request a pause
	once   sync.Once
	done   chan struct{}
	err    error // set before done closes
}

func (r *run) requestPause() {
	r.once.Do(func() { close(r.pause) })
}

func (r *run) pauseRequested() bool {
	select {
	case <-r.pause:
		return true
	default:
		return false
	}
}

// Coordinator orchestrates session workflows.
type Coordinator struct {
	store    *session.Store
	caps     Capabilities
	detector *change.Detector
	bank     *memorybank.Bank // optional
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	runs     map[string]*run
	watchers map[string]*change.Watcher
}

// New creates a coordinator. The memory bank may be nil.
func New(store *session.Store, caps Capabilities, detector *change.Detector, bank *memorybank.Bank, logger *zap.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := caps.validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Coordinator{
		store:    store,
		caps:     caps,
		detector: detector,
		bank:     bank,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		runs:     make(map[string]*run),
		watchers: make(map[string]*change.Watcher),
	}, nil
}

// Start discovers work items, creates the session, and launches its
// workflow in the background. An empty id gets a generated one.
func (c *Coordinator) Start(ctx context.Context, id string, cfg config.AnalysisConfig) (*session.Session, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Start")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", id))

	items, err := c.caps.Discovery.List(ctx, cfg.TargetPath, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("discovering work items: %w", err)
	}

	sess, err := c.store.Create(ctx, id, cfg, items)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.Transition(ctx, id, session.StatusRunning, ""); err != nil {
		return nil, err
	}

	c.launch(id)
	return sess, nil
}

// Resume revives a paused session: stale items are demoted by the store,
// then the workflow continues in the background.
func (c *Coordinator) Resume(ctx context.Context, id string) (*session.Session, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Resume",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	c.mu.Lock()
	_, active := c.runs[id]
	c.mu.Unlock()
	if active {
		return nil, fmt.Errorf("%w: session %s is already running", session.ErrInvalidTransition, id)
	}

	c.stopWatcher(id)
	sess, demoted, err := c.store.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(demoted) > 0 {
		c.logger.Info("requeued stale items on resume",
			zap.String("session_id", id),
			zap.Strings("items", demoted))
	}

	c.launch(id)
	return sess, nil
}

// launch registers a run and starts the workflow goroutine. The workflow
// runs on its own context so it outlives the caller's request.
func (c *Coordinator) launch(id string) {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel: cancel,
		pause:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.runs[id] = r
	c.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.runs, id)
			c.mu.Unlock()
			close(r.done)
		}()
		r.err = c.execute(runCtx, id, r)
		if r.err != nil {
			c.logger.Error("session workflow failed",
				zap.String("session_id", id),
				zap.Error(r.err))
		}
	}()
}

// Wait blocks until the session's workflow goroutine finishes, or ctx
// expires. Returns immediately when no run is active.
func (c *Coordinator) Wait(ctx context.Context, id string) error {
	c.mu.Lock()
	r, ok := c.runs[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause requests a cooperative pause and waits for the workflow to stop
// dispatching and persist its state. Pausing a session with no active
// run transitions it directly when its stored state allows.
func (c *Coordinator) Pause(ctx context.Context, id string) (*session.Session, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Pause",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	c.mu.Lock()
	r, active := c.runs[id]
	c.mu.Unlock()

	var sess *session.Session
	var err error
	if active {
		r.requestPause()
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		sess, err = c.store.Load(ctx, id)
		if err == nil && sess.Status.Terminal() {
			// the workflow finished before the pause request landed
			return nil, fmt.Errorf("%w: session %s is %s", session.ErrInvalidTransition, id, sess.Status)
		}
	} else {
		// stale running state, e.g. after a crash
		sess, err = c.store.Transition(ctx, id, session.StatusPaused, "")
	}
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusPaused {
		c.watchTarget(id, sess.Config.TargetPath)
	}
	return sess, nil
}

// watchTarget starts an advisory filesystem watch over the session's
// target while it is paused. Resume uses the dirty count for logging;
// the authoritative stale check remains signature comparison.
func (c *Coordinator) watchTarget(id, root string) {
	if root == "" {
		return
	}
	w, err := change.NewWatcher(root, c.logger)
	if err != nil {
		c.logger.Warn("pause watcher unavailable",
			zap.String("session_id", id),
			zap.Error(err))
		return
	}
	c.mu.Lock()
	if old, ok := c.watchers[id]; ok {
		old.Close()
	}
	c.watchers[id] = w
	c.mu.Unlock()
}

// stopWatcher closes the pause watcher for a session, reporting how many
// paths it saw change.
func (c *Coordinator) stopWatcher(id string) {
	c.mu.Lock()
	w, ok := c.watchers[id]
	delete(c.watchers, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if dirty := w.Dirty(); len(dirty) > 0 {
		c.logger.Info("files changed while paused",
			zap.String("session_id", id),
			zap.Int("count", len(dirty)))
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("closing pause watcher",
			zap.String("session_id", id),
			zap.Error(err))
	}
}

// Cancel stops the workflow and marks the session failed.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*session.Session, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Cancel",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	c.stopWatcher(id)

	c.mu.Lock()
	r, active := c.runs[id]
	c.mu.Unlock()

	if active {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.store.Load(ctx, id)
	}

	return c.store.Transition(ctx, id, session.StatusFailed, "canceled by user")
}

// Status returns the current stored state of a session.
func (c *Coordinator) Status(ctx context.Context, id string) (*session.Session, error) {
	return c.store.Load(ctx, id)
}

// List returns stored sessions, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, filter ...session.Status) ([]*session.Session, error) {
	return c.store.List(ctx, filter...)
}

// execute runs the workflow until the session reaches Paused or a
// terminal state. Transitions are written with a background context so a
// canceled run can still record its failure.
func (c *Coordinator) execute(ctx context.Context, id string, r *run) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.execute",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	sess, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	cfg := sess.Config

	sched, err := scheduler.New(scheduler.Config{
		Concurrency:        cfg.Concurrency,
		CheckpointEvery:    cfg.CheckpointEvery,
		CheckpointInterval: cfg.CheckpointInterval.Duration(),
	}, c.logger)
	if err != nil {
		return c.fail(id, fmt.Sprintf("invalid scheduler config: %v", err))
	}

	if len(sess.Pending) > 0 {
		res, err := sched.Drain(ctx, sess.Pending, c.processItem, r.pauseRequested, func(fctx context.Context, delta session.Delta) error {
			_, cerr := c.store.Checkpoint(fctx, id, delta)
			return cerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return c.fail(id, "canceled by user")
			}
			return c.fail(id, fmt.Sprintf("analysis phase failed: %v", err))
		}
		if !res.Drained {
			_, err := c.store.Transition(context.Background(), id, session.StatusPaused, "")
			return err
		}
	}

	if r.pauseRequested() {
		_, err := c.store.Transition(context.Background(), id, session.StatusPaused, "")
		return err
	}
	if ctx.Err() != nil {
		return c.fail(id, "canceled by user")
	}

	// barrier: all items settled, check the failure threshold before the
	// sequential review phase
	sess, err = c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if ratio := sess.FailureRatio(); ratio > cfg.FailureThreshold {
		return c.fail(id, fmt.Sprintf("failure ratio %.2f exceeds threshold %.2f (%d of %d items skipped)",
			ratio, cfg.FailureThreshold, len(sess.Skipped), sess.Total()))
	}

	analyses := collectAnalyses(sess)
	suggestions, err := c.caps.Reviewer.Review(ctx, analyses, c.recallPatterns(ctx, id, analyses))
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(id, "canceled by user")
		}
		return c.fail(id, fmt.Sprintf("review phase failed: %v", err))
	}
	_, err = c.store.Checkpoint(ctx, id, session.Delta{
		Results: map[string][]session.PartialResult{
			session.ReviewKey: {{Kind: session.KindReview, Review: suggestions}},
		},
	})
	if err != nil {
		return c.fail(id, fmt.Sprintf("persisting review failed: %v", err))
	}

	if _, err := c.store.Transition(context.Background(), id, session.StatusCompleted, ""); err != nil {
		return err
	}
	c.logger.Info("session completed",
		zap.String("session_id", id),
		zap.Int("processed", len(sess.Processed)),
		zap.Int("skipped", len(sess.Skipped)))

	if c.bank != nil {
		bankCtx, bankCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer bankCancel()
		if err := c.bank.Record(bankCtx, id, suggestions); err != nil {
			c.logger.Warn("recording review patterns failed",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}
	return nil
}

// maxRecalledPatterns bounds how many prior findings reach the reviewer.
const maxRecalledPatterns = 5

// recallPatterns queries the memory bank for findings of earlier sessions
// similar to this run's issues. Recall is best effort; failures only log.
func (c *Coordinator) recallPatterns(ctx context.Context, id string, analyses []capability.Analysis) []capability.PriorFinding {
	if c.bank == nil {
		return nil
	}
	query := patternQuery(analyses)
	if query == "" {
		return nil
	}
	patterns, err := c.bank.Similar(ctx, query, maxRecalledPatterns)
	if err != nil {
		c.logger.Warn("recalling review patterns failed",
			zap.String("session_id", id),
			zap.Error(err))
		return nil
	}

	var prior []capability.PriorFinding
	for _, p := range patterns {
		if p.Session == id {
			continue
		}
		prior = append(prior, capability.PriorFinding{
			Session:    p.Session,
			Category:   capability.Category(p.Category),
			Severity:   capability.Severity(p.Severity),
			Text:       p.Text,
			Confidence: float64(p.Score),
		})
	}
	if len(prior) > 0 {
		c.logger.Info("recalled review patterns",
			zap.String("session_id", id),
			zap.Int("count", len(prior)))
	}
	return prior
}

// patternQuery renders a run's distinct issues as retrieval text.
func patternQuery(analyses []capability.Analysis) string {
	seen := make(map[string]bool)
	var parts []string
	for _, a := range analyses {
		for _, issue := range a.Issues {
			key := string(issue.Category) + " " + issue.Message
			if seen[key] {
				continue
			}
			seen[key] = true
			parts = append(parts, key)
		}
	}
	return strings.Join(parts, "\n")
}

// fail transitions the session to Failed on a background context.
func (c *Coordinator) fail(id, reason string) error {
	_, err := c.store.Transition(context.Background(), id, session.StatusFailed, reason)
	if err != nil {
		return err
	}
	return nil
}

// processItem runs the analyzer and documenter concurrently for one item.
// An analyzer failure skips the item; a documenter failure only drops the
// documentation fragment.
func (c *Coordinator) processItem(ctx context.Context, path string) scheduler.Outcome {
	sig, err := c.detector.Stat(ctx, path)
	if err != nil {
		return scheduler.Outcome{Path: path, SkipReason: fmt.Sprintf("stat failed: %v", err)}
	}

	var (
		wg       sync.WaitGroup
		analysis *capability.Analysis
		aErr     error
		frag     *capability.DocFragment
		dErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		analysis, aErr = c.caps.Analyzer.Analyze(ctx, path)
	}()
	go func() {
		defer wg.Done()
		frag, dErr = c.caps.Documenter.Document(ctx, path)
	}()
	wg.Wait()

	if aErr != nil {
		return scheduler.Outcome{Path: path, SkipReason: aErr.Error()}
	}

	out := scheduler.Outcome{
		Path:      path,
		Signature: sig,
		Results: []session.PartialResult{
			{Kind: session.KindAnalysis, Analysis: analysis},
		},
	}
	if dErr != nil {
		c.logger.Warn("documentation failed",
			zap.String("path", path),
			zap.Error(dErr))
	} else {
		out.Results = append(out.Results, session.PartialResult{
			Kind:          session.KindDocumentation,
			Documentation: frag,
		})
	}
	return out
}

// collectAnalyses gathers the analyzer outputs of all processed items in
// path order, so the review phase sees a deterministic input.
func collectAnalyses(sess *session.Session) []capability.Analysis {
	paths := make([]string, 0, len(sess.Processed))
	for path := range sess.Processed {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out []capability.Analysis
	for _, path := range paths {
		for _, res := range sess.PartialResults[path] {
			if res.Kind == session.KindAnalysis && res.Analysis != nil {
				out = append(out, *res.Analysis)
			}
		}
	}
	return out
}
