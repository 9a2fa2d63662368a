package change

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStat(t *testing.T) {
	d, err := NewDetector(false, zap.NewNop())
	require.NoError(t, err)

	path := writeFile(t, t.TempDir(), "a.go", "package a\n")
	sig, err := d.Stat(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), sig.Size)
	assert.False(t, sig.ModTime.IsZero())
	assert.Empty(t, sig.SHA256)
}

func TestStat_WithHash(t *testing.T) {
	d, err := NewDetector(true, zap.NewNop())
	require.NoError(t, err)

	path := writeFile(t, t.TempDir(), "a.go", "package a\n")
	sig, err := d.Stat(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, sig.SHA256, 64)
}

func TestChanged_Unmodified(t *testing.T) {
	d, err := NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.go", "package a\n")
	b := writeFile(t, dir, "b.go", "package b\n")

	sigA, err := d.Stat(ctx, a)
	require.NoError(t, err)
	sigB, err := d.Stat(ctx, b)
	require.NoError(t, err)

	changed, err := d.Changed(ctx, map[string]capability.Signature{a: sigA, b: sigB})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestChanged_Modified(t *testing.T) {
	d, err := NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.go", "package a\n")
	sigA, err := d.Stat(ctx, a)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a, []byte("package a\n\nfunc A() {}\n"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(a, future, future))

	changed, err := d.Changed(ctx, map[string]capability.Signature{a: sigA})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
}

func TestChanged_Deleted(t *testing.T) {
	d, err := NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	a := writeFile(t, t.TempDir(), "a.go", "package a\n")
	sigA, err := d.Stat(ctx, a)
	require.NoError(t, err)
	require.NoError(t, os.Remove(a))

	changed, err := d.Changed(ctx, map[string]capability.Signature{a: sigA})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
}

func TestChanged_HashIgnoresTimestamps(t *testing.T) {
	d, err := NewDetector(true, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	a := writeFile(t, t.TempDir(), "a.go", "package a\n")
	sigA, err := d.Stat(ctx, a)
	require.NoError(t, err)

	// touch without changing contents
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(a, future, future))

	changed, err := d.Changed(ctx, map[string]capability.Signature{a: sigA})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestChanged_Sorted(t *testing.T) {
	d, err := NewDetector(false, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	dir := t.TempDir()
	recorded := map[string]capability.Signature{}
	for _, name := range []string{"c.go", "a.go", "b.go"} {
		path := writeFile(t, dir, name, "x")
		recorded[path] = capability.Signature{Size: 999}
	}

	changed, err := d.Changed(ctx, recorded)
	require.NoError(t, err)
	require.Len(t, changed, 3)
	assert.Equal(t, filepath.Join(dir, "a.go"), changed[0])
	assert.Equal(t, filepath.Join(dir, "b.go"), changed[1])
	assert.Equal(t, filepath.Join(dir, "c.go"), changed[2])
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, dir, "a.go", "package a\n")

	assert.Eventually(t, func() bool {
		return len(w.Dirty()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}
