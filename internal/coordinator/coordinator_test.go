package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/memorybank"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

type fakeDiscovery struct {
	items []capability.WorkItem
}

func (f *fakeDiscovery) List(_ context.Context, _ string, _, _ []string) ([]capability.WorkItem, error) {
	return f.items, nil
}

type fakeAnalyzer struct {
	failNames map[string]bool
	issues    []capability.Issue
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, path string) (*capability.Analysis, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failNames[filepath.Base(path)] {
		return nil, fmt.Errorf("simulated analyzer failure")
	}
	return &capability.Analysis{
		Path:     path,
		Language: "go",
		Metrics:  capability.Metrics{LinesOfCode: 10, MaintainabilityIndex: 80},
		Issues:   f.issues,
	}, nil
}

type fakeDocumenter struct{}

func (f *fakeDocumenter) Document(_ context.Context, path string) (*capability.DocFragment, error) {
	return &capability.DocFragment{Path: path, Language: "go", Markdown: "### " + filepath.Base(path) + "\n"}, nil
}

type fakeReviewer struct {
	err error

	mu    sync.Mutex
	prior []capability.PriorFinding
}

func (f *fakeReviewer) Review(_ context.Context, analyses []capability.Analysis, prior []capability.PriorFinding) (*capability.Suggestions, error) {
	f.mu.Lock()
	f.prior = prior
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &capability.Suggestions{
		Source: "rules",
		Items: []capability.Suggestion{
			{
				ID:       "s1",
				Title:    fmt.Sprintf("reviewed %d analyses", len(analyses)),
				Category: capability.CategoryStyle,
				Severity: capability.SeverityLow,
				Priority: 1,
			},
		},
	}, nil
}

func (f *fakeReviewer) lastPrior() []capability.PriorFinding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prior
}

type env struct {
	coord *Coordinator
	store *session.Store
	cfg   config.AnalysisConfig
	dir   string
}

func newEnv(t *testing.T, fileCount int, analyzer capability.Analyzer, reviewer capability.Reviewer) *env {
	return newEnvWithBank(t, fileCount, analyzer, reviewer, nil)
}

func newEnvWithBank(t *testing.T, fileCount int, analyzer capability.Analyzer, reviewer capability.Reviewer, bank *memorybank.Bank) *env {
	t.Helper()
	logger := zap.NewNop()

	dir := t.TempDir()
	var items []capability.WorkItem
	detector, err := change.NewDetector(false, logger)
	require.NoError(t, err)
	for i := 0; i < fileCount; i++ {
		path := filepath.Join(dir, fmt.Sprintf("file-%02d.go", i))
		require.NoError(t, os.WriteFile(path, []byte("package demo\n"), 0o644))
		sig, err := detector.Stat(context.Background(), path)
		require.NoError(t, err)
		items = append(items, capability.WorkItem{Path: path, Signature: sig})
	}

	store, err := session.NewStore(filepath.Join(dir, ".sessions"), detector, logger)
	require.NoError(t, err)

	coord, err := New(store, Capabilities{
		Discovery:  &fakeDiscovery{items: items},
		Analyzer:   analyzer,
		Documenter: &fakeDocumenter{},
		Reviewer:   reviewer,
	}, detector, bank, logger)
	require.NoError(t, err)

	cfg := config.NewDefaultAnalysisConfig()
	cfg.TargetPath = dir
	cfg.Concurrency = 2
	cfg.CheckpointEvery = 1
	cfg.CheckpointInterval = config.Duration(time.Second)

	return &env{coord: coord, store: store, cfg: cfg, dir: dir}
}

func failNames(idx ...int) map[string]bool {
	out := make(map[string]bool)
	for _, i := range idx {
		out[fmt.Sprintf("file-%02d.go", i)] = true
	}
	return out
}

func TestWorkflow_CompletesUnderThreshold(t *testing.T) {
	e := newEnv(t, 10, &fakeAnalyzer{failNames: failNames(1, 4, 7)}, &fakeReviewer{})
	ctx := context.Background()

	sess, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	assert.Len(t, sess.Pending, 10)

	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Len(t, final.Processed, 7)
	assert.Len(t, final.Skipped, 3)
	assert.Empty(t, final.Pending)

	review := final.PartialResults[session.ReviewKey]
	require.Len(t, review, 1)
	assert.Equal(t, "reviewed 7 analyses", review[0].Review.Items[0].Title)

	report, err := e.coord.Report(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 7, report.Aggregate.Files)
	assert.Equal(t, 70, report.Aggregate.LinesOfCode)
	assert.Equal(t, 7, report.ProcessedCount)
	assert.Equal(t, 3, report.SkippedCount)
	assert.False(t, report.Complete)
	require.NotNil(t, report.Suggestions)
	assert.Len(t, report.Skipped, 3)
	assert.Contains(t, report.Documentation, "file-00.go")
}

func TestWorkflow_FailsOverThreshold(t *testing.T) {
	e := newEnv(t, 10, &fakeAnalyzer{failNames: failNames(0, 1, 2, 3, 4, 5, 6, 7)}, &fakeReviewer{})
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, final.Status)
	assert.Contains(t, final.FailureReason, "threshold")
}

func TestWorkflow_ReviewFailureFailsSession(t *testing.T) {
	e := newEnv(t, 3, &fakeAnalyzer{}, &fakeReviewer{err: fmt.Errorf("model unavailable")})
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, final.Status)
	assert.Contains(t, final.FailureReason, "review phase failed")
}

func TestPauseAndResume(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	e := newEnv(t, 30, analyzer, &fakeReviewer{})
	e.cfg.Concurrency = 1
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	paused, err := e.coord.Pause(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, session.StatusPaused, paused.Status)
	assert.Less(t, len(paused.Processed), 30)
	assert.Greater(t, len(paused.Pending), 0)

	// completed work survived the pause
	assert.Equal(t, 30, paused.Total())

	analyzer.delay = 0
	_, err = e.coord.Resume(ctx, "run-1")
	require.NoError(t, err)
	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Len(t, final.Processed, 30)
	assert.Empty(t, final.Pending)
}

func TestResume_ReanalyzesModifiedFile(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	e := newEnv(t, 10, analyzer, &fakeReviewer{})
	e.cfg.Concurrency = 1
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	paused, err := e.coord.Pause(ctx, "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, paused.Processed)

	var modified string
	for path := range paused.Processed {
		modified = path
		break
	}
	require.NoError(t, os.WriteFile(modified, []byte("package demo\n\nvar edited = true\n"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(modified, future, future))

	analyzer.delay = 0
	resumed, err := e.coord.Resume(ctx, "run-1")
	require.NoError(t, err)
	assert.NotContains(t, resumed.Processed, modified)
	assert.Contains(t, resumed.Pending, modified)

	require.NoError(t, e.coord.Wait(ctx, "run-1"))
	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Contains(t, final.Processed, modified)
}

func TestCancel(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	e := newEnv(t, 30, analyzer, &fakeReviewer{})
	e.cfg.Concurrency = 1
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	canceled, err := e.coord.Cancel(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, canceled.Status)
	assert.Equal(t, "canceled by user", canceled.FailureReason)
}

func TestStart_GeneratesID(t *testing.T) {
	e := newEnv(t, 1, &fakeAnalyzer{}, &fakeReviewer{})
	ctx := context.Background()

	sess, err := e.coord.Start(ctx, "", e.cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	require.NoError(t, e.coord.Wait(ctx, sess.ID))
}

func TestStart_DuplicateID(t *testing.T) {
	e := newEnv(t, 1, &fakeAnalyzer{}, &fakeReviewer{})
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	_, err = e.coord.Start(ctx, "run-1", e.cfg)
	assert.ErrorIs(t, err, session.ErrDuplicateSession)
}

func TestReport_NotReady(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	e := newEnv(t, 10, analyzer, &fakeReviewer{})
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)

	_, err = e.coord.Report(ctx, "run-1")
	assert.ErrorIs(t, err, session.ErrNotReady)

	require.NoError(t, e.coord.Wait(ctx, "run-1"))
}

func TestReview_RecallsPriorPatterns(t *testing.T) {
	bank, err := memorybank.New(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	issues := []capability.Issue{
		{Line: 1, Severity: capability.SeverityLow, Category: capability.CategoryStyle, Message: "line too long"},
	}

	// the first session has nothing to recall and records its review
	first := &fakeReviewer{}
	e1 := newEnvWithBank(t, 3, &fakeAnalyzer{issues: issues}, first, bank)
	_, err = e1.coord.Start(ctx, "run-a", e1.cfg)
	require.NoError(t, err)
	require.NoError(t, e1.coord.Wait(ctx, "run-a"))
	assert.Empty(t, first.lastPrior())

	// the second session's reviewer sees the first session's patterns
	second := &fakeReviewer{}
	e2 := newEnvWithBank(t, 3, &fakeAnalyzer{issues: issues}, second, bank)
	_, err = e2.coord.Start(ctx, "run-b", e2.cfg)
	require.NoError(t, err)
	require.NoError(t, e2.coord.Wait(ctx, "run-b"))

	prior := second.lastPrior()
	require.NotEmpty(t, prior)
	assert.Equal(t, "run-a", prior[0].Session)
	assert.Equal(t, capability.CategoryStyle, prior[0].Category)
	assert.Contains(t, prior[0].Text, "reviewed 3 analyses")
}

type gateReviewer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateReviewer) Review(_ context.Context, _ []capability.Analysis, _ []capability.PriorFinding) (*capability.Suggestions, error) {
	close(g.entered)
	<-g.release
	return &capability.Suggestions{Source: "rules"}, nil
}

func TestPause_AfterFinishRejected(t *testing.T) {
	rev := &gateReviewer{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnv(t, 2, &fakeAnalyzer{}, rev)
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)
	<-rev.entered

	// the pause request lands while the review phase is already past the
	// pause check, so the workflow finishes and the pause must not report
	// a paused session
	errCh := make(chan error, 1)
	go func() {
		_, perr := e.coord.Pause(ctx, "run-1")
		errCh <- perr
	}()
	time.Sleep(20 * time.Millisecond)
	close(rev.release)

	assert.ErrorIs(t, <-errCh, session.ErrInvalidTransition)
	require.NoError(t, e.coord.Wait(ctx, "run-1"))

	final, err := e.coord.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
}

func TestResume_WhileActiveRejected(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	e := newEnv(t, 20, analyzer, &fakeReviewer{})
	ctx := context.Background()

	_, err := e.coord.Start(ctx, "run-1", e.cfg)
	require.NoError(t, err)

	_, err = e.coord.Resume(ctx, "run-1")
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	require.NoError(t, e.coord.Wait(ctx, "run-1"))
}
