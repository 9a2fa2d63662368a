package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/sanitize"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/session"

// ChangeDetector reports which recorded items changed on disk since their
// signatures were taken. Implemented by internal/change.
type ChangeDetector interface {
	Changed(ctx context.Context, recorded map[string]capability.Signature) ([]string, error)
}

// Store persists sessions as one JSON file per session id.
type Store struct {
	dir      string
	detector ChangeDetector
	logger   *zap.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store rooted at dir, creating it if needed.
// The detector may be nil, in which case Resume skips change detection.
func NewStore(dir string, detector ChangeDetector, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store dir is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	return &Store{
		dir:      dir,
		detector: detector,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing writes for a session id. Locks
// are keyed by the sanitized key, the same key the file path uses, so
// ids that map to the same file share one lock.
func (s *Store) lockFor(id string) *sync.Mutex {
	key := sanitize.Key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitize.Key(id)+".json")
}

// Create registers a new session in Created state with the discovered work
// items pending and nothing processed.
func (s *Store) Create(ctx context.Context, id string, cfg config.AnalysisConfig, items []capability.WorkItem) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Create",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.path(id)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	pending := make([]string, 0, len(items))
	for _, it := range items {
		pending = append(pending, it.Path)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             id,
		Status:         StatusCreated,
		Config:         cfg,
		Processed:      make(map[string]capability.Signature),
		Pending:        pending,
		Skipped:        make(map[string]string),
		PartialResults: make(map[string][]PartialResult),
		CreatedAt:      now,
		CheckpointAt:   now,
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int("pending", len(pending)))
	return sess, nil
}

// Load reads a session from disk. Returns ErrNotFound for missing ids and
// ErrCorruptState for records that cannot be parsed.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	_, span := s.tracer.Start(ctx, "session.Load",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, id, err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, id, err)
	}
	if sess.Processed == nil {
		sess.Processed = make(map[string]capability.Signature)
	}
	if sess.Skipped == nil {
		sess.Skipped = make(map[string]string)
	}
	if sess.PartialResults == nil {
		sess.PartialResults = make(map[string][]PartialResult)
	}
	return &sess, nil
}

// save writes the session atomically via a temp file in the same directory
// followed by rename.
func (s *Store) save(ctx context.Context, sess *Session) error {
	_, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, sanitize.Key(sess.ID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing session %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmpName, s.path(sess.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming session %s: %w", sess.ID, err)
	}
	return nil
}

// Checkpoint merges a progress delta into the session and persists it.
// Processed and skipped items are removed from pending, keeping the
// processed and pending sets disjoint. A no-op for empty deltas.
func (s *Store) Checkpoint(ctx context.Context, id string, delta Delta) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Checkpoint",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.Int("delta.processed", len(delta.Processed)),
			attribute.Int("delta.skipped", len(delta.Skipped)),
		))
	defer span.End()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: checkpoint on %s session", ErrInvalidTransition, sess.Status)
	}
	if delta.Empty() {
		return sess, nil
	}

	done := make(map[string]bool, len(delta.Processed)+len(delta.Skipped))
	for path, sig := range delta.Processed {
		sess.Processed[path] = sig
		delete(sess.Skipped, path)
		done[path] = true
	}
	for path, reason := range delta.Skipped {
		sess.Skipped[path] = reason
		delete(sess.Processed, path)
		done[path] = true
	}
	if len(done) > 0 {
		pending := sess.Pending[:0]
		for _, p := range sess.Pending {
			if !done[p] {
				pending = append(pending, p)
			}
		}
		sess.Pending = pending
	}
	for key, results := range delta.Results {
		sess.PartialResults[key] = mergeResults(sess.PartialResults[key], results)
	}
	sess.CheckpointAt = time.Now().UTC()

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("checkpoint saved",
		zap.String("session_id", id),
		zap.Int("processed", len(sess.Processed)),
		zap.Int("pending", len(sess.Pending)),
		zap.Int("skipped", len(sess.Skipped)))
	return sess, nil
}

// mergeResults replaces existing entries of the same kind and appends the
// rest, so re-running a phase for an item does not duplicate its output.
func mergeResults(existing, incoming []PartialResult) []PartialResult {
	out := existing
	for _, in := range incoming {
		replaced := false
		for i := range out {
			if out[i].Kind == in.Kind {
				out[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, in)
		}
	}
	return out
}

// Transition moves the session to a new status, enforcing the lifecycle
// state machine.
func (s *Store) Transition(ctx context.Context, id string, to Status, reason string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Transition",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("session.to", string(to)),
		))
	defer span.End()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(sess.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	sess.Status = to
	if to == StatusFailed {
		if reason == "" {
			reason = "unspecified failure"
		}
		sess.FailureReason = reason
	}
	sess.CheckpointAt = time.Now().UTC()
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("session transitioned",
		zap.String("session_id", id),
		zap.String("status", string(to)))
	return sess, nil
}

func allowed(from, to Status) bool {
	switch to {
	case StatusRunning:
		return from == StatusCreated || from == StatusPaused
	case StatusPaused:
		return from == StatusRunning
	case StatusCompleted:
		return from == StatusRunning
	case StatusFailed:
		return from == StatusCreated || from == StatusRunning || from == StatusPaused
	}
	return false
}

// Resume transitions a paused session back to running. Before doing so it
// runs change detection over the processed set and demotes any item whose
// on-disk signature no longer matches: the item is removed from processed,
// its partial results are discarded, and it is requeued in pending.
func (s *Store) Resume(ctx context.Context, id string) (*Session, []string, error) {
	ctx, span := s.tracer.Start(ctx, "session.Resume",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != StatusPaused {
		return nil, nil, fmt.Errorf("%w: resume from %s", ErrInvalidTransition, sess.Status)
	}

	var changed []string
	if s.detector != nil && len(sess.Processed) > 0 {
		changed, err = s.detector.Changed(ctx, sess.Processed)
		if err != nil {
			return nil, nil, fmt.Errorf("detecting changes: %w", err)
		}
	}
	if len(changed) > 0 {
		sort.Strings(changed)
		for _, path := range changed {
			delete(sess.Processed, path)
			delete(sess.PartialResults, path)
			delete(sess.Skipped, path)
		}
		if sess.Config.RequeueFront {
			sess.Pending = append(append([]string{}, changed...), sess.Pending...)
		} else {
			sess.Pending = append(sess.Pending, changed...)
		}
		s.logger.Info("demoted changed items",
			zap.String("session_id", id),
			zap.Int("count", len(changed)))
	}

	sess.Status = StatusRunning
	sess.CheckpointAt = time.Now().UTC()
	if err := s.save(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, changed, nil
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, span := s.tracer.Start(ctx, "session.Delete",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// List returns all sessions, optionally filtered by status, newest
// checkpoint first. Corrupt records are skipped with a warning.
func (s *Store) List(ctx context.Context, filter ...Status) ([]*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.List")
	defer span.End()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading store dir: %w", err)
	}

	want := make(map[Status]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}

	var out []*Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		sess, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable session",
				zap.String("file", e.Name()),
				zap.Error(err))
			continue
		}
		if len(want) > 0 && !want[sess.Status] {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CheckpointAt.After(out[j].CheckpointAt)
	})
	return out, nil
}

// Count returns the number of sessions matching the optional status filter.
func (s *Store) Count(ctx context.Context, filter ...Status) (int, error) {
	sessions, err := s.List(ctx, filter...)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// Results returns the partial results of a completed session. Returns
// ErrNotReady for sessions in any other state.
func (s *Store) Results(ctx context.Context, id string) (map[string][]PartialResult, error) {
	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, sess.Status)
	}
	return sess.PartialResults, nil
}
