package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CleanupCompleted deletes completed sessions beyond the keepRecent most
// recently checkpointed ones. Returns the number of sessions removed.
func (s *Store) CleanupCompleted(ctx context.Context, keepRecent int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "session.CleanupCompleted",
		trace.WithAttributes(attribute.Int("keep_recent", keepRecent)))
	defer span.End()

	if keepRecent < 0 {
		keepRecent = 0
	}
	sessions, err := s.List(ctx, StatusCompleted)
	if err != nil {
		return 0, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CheckpointAt.After(sessions[j].CheckpointAt)
	})
	if len(sessions) <= keepRecent {
		return 0, nil
	}
	return s.deleteAll(ctx, sessions[keepRecent:])
}

// CleanupExpired deletes non-terminal sessions whose last checkpoint is
// older than maxAge. Returns the number of sessions removed.
func (s *Store) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "session.CleanupExpired")
	defer span.End()

	sessions, err := s.List(ctx, StatusCreated, StatusRunning, StatusPaused)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	var expired []*Session
	for _, sess := range sessions {
		if sess.CheckpointAt.Before(cutoff) {
			expired = append(expired, sess)
		}
	}
	return s.deleteAll(ctx, expired)
}

// CleanupFailed deletes all failed sessions. Returns the number removed.
func (s *Store) CleanupFailed(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "session.CleanupFailed")
	defer span.End()

	sessions, err := s.List(ctx, StatusFailed)
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, sessions)
}

func (s *Store) deleteAll(ctx context.Context, sessions []*Session) (int, error) {
	removed := 0
	for _, sess := range sessions {
		if err := s.Delete(ctx, sess.ID); err != nil {
			s.logger.Warn("cleanup delete failed",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("cleanup removed sessions", zap.Int("count", removed))
	}
	return removed, nil
}

// Health summarizes the store contents for diagnostics.
type Health struct {
	Dir       string         `json:"dir"`
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"by_status"`
	Unhealthy int            `json:"unhealthy"`
}

// CheckHealth loads every record and tallies statuses. Unhealthy counts
// records that exist on disk but fail to load or validate.
func (s *Store) CheckHealth(ctx context.Context) (*Health, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.countFiles()
	if err != nil {
		return nil, err
	}
	h := &Health{
		Dir:      s.dir,
		Total:    total,
		ByStatus: make(map[Status]int),
	}
	for _, sess := range sessions {
		h.ByStatus[sess.Status]++
	}
	h.Unhealthy = total - len(sessions)
	return h, nil
}

func (s *Store) countFiles() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}
