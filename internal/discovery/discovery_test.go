package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/change"
)

func newWalker(t *testing.T, maxFileSize int64) *Walker {
	t.Helper()
	detector, err := change.NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	w, err := NewWalker(detector, maxFileSize, zap.NewNop())
	require.NoError(t, err)
	return w
}

func write(t *testing.T, root string, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestList_MatchesPatterns(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.go", "package main\n")
	write(t, root, "util.py", "x = 1\n")
	write(t, root, "README.md", "# readme\n")

	w := newWalker(t, 0)
	items, err := w.List(context.Background(), root, []string{"*.go", "*.py"}, nil)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, filepath.Join(root, "main.go"), items[0].Path)
	assert.Equal(t, filepath.Join(root, "util.py"), items[1].Path)
	assert.NotZero(t, items[0].Signature.Size)
}

func TestList_SortedAndRecursive(t *testing.T) {
	root := t.TempDir()
	write(t, root, "z/z.go", "package z\n")
	write(t, root, "a/a.go", "package a\n")
	write(t, root, "m.go", "package m\n")

	w := newWalker(t, 0)
	items, err := w.List(context.Background(), root, []string{"*.go"}, nil)
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.True(t, items[0].Path < items[1].Path)
	assert.True(t, items[1].Path < items[2].Path)
}

func TestList_SkipsDirsAndExcludes(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.go", "package main\n")
	write(t, root, "vendor/dep.go", "package dep\n")
	write(t, root, "node_modules/x.go", "package x\n")
	write(t, root, ".git/obj.go", "package obj\n")
	write(t, root, "main_test.go", "package main\n")

	w := newWalker(t, 0)
	items, err := w.List(context.Background(), root, []string{"*.go"}, []string{"*_test.go"})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(root, "main.go"), items[0].Path)
}

func TestList_SkipsBinaryAndOversized(t *testing.T) {
	root := t.TempDir()
	write(t, root, "small.go", "package small\n")
	write(t, root, "binary.go", "package b\x00inary\n")

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), big, 0o644))

	w := newWalker(t, 1024)
	items, err := w.List(context.Background(), root, []string{"*.go"}, nil)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(root, "small.go"), items[0].Path)
}

func TestList_RootMissing(t *testing.T) {
	w := newWalker(t, 0)
	_, err := w.List(context.Background(), filepath.Join(t.TempDir(), "nope"), []string{"*.go"}, nil)
	assert.Error(t, err)
}

func TestNewPRWalker_Validation(t *testing.T) {
	detector, err := change.NewDetector(false, zap.NewNop())
	require.NoError(t, err)

	_, err = NewPRWalker(detector, "", "", zap.NewNop())
	assert.Error(t, err)

	w, err := NewPRWalker(detector, "main", "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "HEAD", w.headRef)
}

func TestPRWalker_NotARepo(t *testing.T) {
	detector, err := change.NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	w, err := NewPRWalker(detector, "main", "HEAD", zap.NewNop())
	require.NoError(t, err)

	_, err = w.List(context.Background(), t.TempDir(), []string{"*.go"}, nil)
	assert.Error(t, err)
}
