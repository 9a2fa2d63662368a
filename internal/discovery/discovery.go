// Package discovery enumerates the work items for an analysis session.
//
// Two strategies are provided: a filesystem walker that matches glob
// patterns under a root, and a git-based walker that restricts the set to
// files changed between two refs.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/discovery"

// defaultSkipDirs are directory names never descended into.
var defaultSkipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	".codesentinel": true,
	"node_modules":  true,
	"vendor":        true,
	"dist":          true,
	"build":         true,
	"target":        true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".idea":         true,
	".vscode":       true,
}

const sniffLen = 8000

// Walker discovers work items by walking the filesystem.
type Walker struct {
	detector    *change.Detector
	maxFileSize int64
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewWalker creates a filesystem walker. maxFileSize of 0 disables the
// size cap.
func NewWalker(detector *change.Detector, maxFileSize int64, logger *zap.Logger) (*Walker, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Walker{
		detector:    detector,
		maxFileSize: maxFileSize,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// List walks root and returns matching text files as work items, sorted by
// path. Binary files, oversized files, and skip directories are excluded.
func (w *Walker) List(ctx context.Context, root string, includePatterns, excludePatterns []string) ([]capability.WorkItem, error) {
	ctx, span := w.tracer.Start(ctx, "discovery.List",
		trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	var items []capability.WorkItem
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != root && (defaultSkipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if !matches(path, root, includePatterns) || matches(path, root, excludePatterns) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if w.maxFileSize > 0 && fi.Size() > w.maxFileSize {
			w.logger.Debug("skipping oversized file",
				zap.String("path", path),
				zap.Int64("size", fi.Size()))
			return nil
		}
		if binary, err := isBinary(path); err != nil || binary {
			return err
		}
		sig, err := w.detector.Stat(ctx, path)
		if err != nil {
			return err
		}
		items = append(items, capability.WorkItem{Path: path, Signature: sig})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	w.logger.Info("discovery complete",
		zap.String("root", root),
		zap.Int("items", len(items)))
	return items, nil
}

// matches reports whether the path matches any pattern, tried against the
// base name and the root-relative path.
func matches(path, root string, patterns []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// isBinary sniffs the head of the file and rejects NUL bytes and invalid
// UTF-8.
func isBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false, nil
	}
	buf = buf[:n]
	for _, b := range buf {
		if b == 0 {
			return true, nil
		}
	}
	// a multi-byte rune may be cut at the sniff boundary
	for len(buf) > 0 && !utf8.Valid(buf) {
		buf = buf[:len(buf)-1]
		if len(buf) < sniffLen-utf8.UTFMax {
			return true, nil
		}
	}
	return false, nil
}
