package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/coordinator"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

type stubDiscovery struct {
	items []capability.WorkItem
}

func (s *stubDiscovery) List(_ context.Context, _ string, _, _ []string) ([]capability.WorkItem, error) {
	return s.items, nil
}

type stubAnalyzer struct{}

func (s *stubAnalyzer) Analyze(_ context.Context, path string) (*capability.Analysis, error) {
	return &capability.Analysis{
		Path:     path,
		Language: "go",
		Metrics:  capability.Metrics{LinesOfCode: 5, MaintainabilityIndex: 90},
	}, nil
}

type stubDocumenter struct{}

func (s *stubDocumenter) Document(_ context.Context, path string) (*capability.DocFragment, error) {
	return &capability.DocFragment{Path: path, Markdown: "### doc\n"}, nil
}

type stubReviewer struct{}

func (s *stubReviewer) Review(_ context.Context, _ []capability.Analysis, _ []capability.PriorFinding) (*capability.Suggestions, error) {
	return &capability.Suggestions{Source: "rules"}, nil
}

type testAPI struct {
	server *Server
	coord  *coordinator.Coordinator
	dir    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	detector, err := change.NewDetector(false, logger)
	require.NoError(t, err)

	var items []capability.WorkItem
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("f%d.go", i))
		require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))
		items = append(items, capability.WorkItem{Path: path})
	}

	store, err := session.NewStore(filepath.Join(dir, ".sessions"), detector, logger)
	require.NoError(t, err)

	coord, err := coordinator.New(store, coordinator.Capabilities{
		Discovery:  &stubDiscovery{items: items},
		Analyzer:   &stubAnalyzer{},
		Documenter: &stubDocumenter{},
		Reviewer:   &stubReviewer{},
	}, detector, nil, logger)
	require.NoError(t, err)

	srv, err := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, coord, store, logger)
	require.NoError(t, err)
	return &testAPI{server: srv, coord: coord, dir: dir}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.server.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func createBody(t *testing.T, id, target string) string {
	t.Helper()
	cfg := config.NewDefaultAnalysisConfig()
	cfg.TargetPath = target
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return fmt.Sprintf(`{"id": %q, "config": %s}`, id, raw)
}

func waitDone(t *testing.T, a *testAPI, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.coord.Wait(ctx, id))
}

func TestCreateAndGet(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	waitDone(t, a, "run-1")

	rec = a.do(t, http.MethodGet, "/api/v1/analyses/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status sessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "run-1", status.ID)
	assert.Equal(t, session.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.Processed)
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 1.0, status.Progress)

	// the status surface stays a summary, item results come via /report
	assert.NotContains(t, rec.Body.String(), "partial_results")
}

func TestCreate_Duplicate(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	require.Equal(t, http.StatusCreated, rec.Code)
	waitDone(t, a, "run-1")

	rec = a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreate_InvalidConfig(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/api/v1/analyses", `{"id": "x", "config": {"concurrency": 0}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_NotFound(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/analyses/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/analyses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	waitDone(t, a, "run-1")

	rec = a.do(t, http.MethodGet, "/api/v1/analyses?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []sessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)
}

func TestReport(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	waitDone(t, a, "run-1")

	rec := a.do(t, http.MethodGet, "/api/v1/analyses/run-1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report coordinator.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Aggregate.Files)
	assert.Equal(t, 3, report.ProcessedCount)
	assert.Equal(t, 0, report.SkippedCount)
	assert.True(t, report.Complete)
}

func TestPauseResumeConflicts(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	waitDone(t, a, "run-1")

	// completed sessions can be neither paused nor resumed
	rec := a.do(t, http.MethodPost, "/api/v1/analyses/run-1/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/analyses/run-1/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetrics(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/api/v1/analyses", createBody(t, "run-1", a.dir))
	waitDone(t, a, "run-1")

	rec := a.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codesentinel_sessions_started_total 1")
}
