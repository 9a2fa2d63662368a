package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
)

// PRWalker discovers only the files changed between two git refs, for
// review-of-a-changeset runs. Deleted files are not reported.
type PRWalker struct {
	detector *change.Detector
	baseRef  string
	headRef  string
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPRWalker creates a git-diff based walker. headRef defaults to HEAD.
func NewPRWalker(detector *change.Detector, baseRef, headRef string, logger *zap.Logger) (*PRWalker, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if baseRef == "" {
		return nil, fmt.Errorf("base ref is required")
	}
	if headRef == "" {
		headRef = "HEAD"
	}
	return &PRWalker{
		detector: detector,
		baseRef:  baseRef,
		headRef:  headRef,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// List returns the files added or modified between baseRef and headRef
// that match the include patterns, sorted by path.
func (p *PRWalker) List(ctx context.Context, root string, includePatterns, excludePatterns []string) ([]capability.WorkItem, error) {
	ctx, span := p.tracer.Start(ctx, "discovery.PRList",
		trace.WithAttributes(
			attribute.String("base_ref", p.baseRef),
			attribute.String("head_ref", p.headRef),
		))
	defer span.End()

	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", root, err)
	}

	baseTree, err := treeAt(repo, p.baseRef)
	if err != nil {
		return nil, err
	}
	headTree, err := treeAt(repo, p.headRef)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", p.baseRef, p.headRef, err)
	}

	var items []capability.WorkItem
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("reading change action: %w", err)
		}
		if action == merkletrie.Delete {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(ch.To.Name))
		if !matches(path, root, includePatterns) || matches(path, root, excludePatterns) {
			continue
		}
		if binary, err := isBinary(path); err != nil || binary {
			if err != nil {
				return nil, err
			}
			continue
		}
		sig, err := p.detector.Stat(ctx, path)
		if err != nil {
			// changed in history but absent from the working tree
			p.logger.Debug("skipping unreadable changed file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		items = append(items, capability.WorkItem{Path: path, Signature: sig})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	p.logger.Info("changeset discovery complete",
		zap.String("base_ref", p.baseRef),
		zap.String("head_ref", p.headRef),
		zap.Int("items", len(items)))
	return items, nil
}

func treeAt(repo *git.Repository, ref string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %s: %w", ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree for %s: %w", ref, err)
	}
	return tree, nil
}
