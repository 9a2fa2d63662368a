// Package capability defines the contracts the analysis engine consumes.
//
// The engine itself never inspects file contents; it routes work items to
// capabilities (discovery, analyzer, documenter, reviewer) and treats their
// outputs as tagged values. Concrete implementations live in their own
// packages and are injected at construction.
package capability

import (
	"context"
	"time"
)

// Signature identifies a file's content at a point in time.
//
// ModTime and Size are always captured. SHA256 is filled only when content
// hashing is enabled; when present it is the authoritative comparison.
type Signature struct {
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	SHA256  string    `json:"sha256,omitempty"`
}

// Equal reports whether two signatures describe the same content.
// If both carry hashes, the hash comparison wins over timestamps.
func (s Signature) Equal(other Signature) bool {
	if s.SHA256 != "" && other.SHA256 != "" {
		return s.SHA256 == other.SHA256
	}
	return s.Size == other.Size && s.ModTime.Equal(other.ModTime)
}

// WorkItem is one file-level unit of analysis work.
type WorkItem struct {
	Path      string    `json:"path"`
	Signature Signature `json:"signature"`
}

// Discovery produces the ordered work-item list for a target path.
type Discovery interface {
	List(ctx context.Context, root string, includePatterns, excludePatterns []string) ([]WorkItem, error)
}

// Analyzer inspects a single file and reports metrics and issues.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*Analysis, error)
}

// Documenter produces a documentation fragment for a single file.
type Documenter interface {
	Document(ctx context.Context, path string) (*DocFragment, error)
}

// Reviewer runs once over the completed parallel-phase output and produces
// prioritized suggestions for the whole run. Findings recalled from earlier
// sessions arrive in prior, which may be empty.
type Reviewer interface {
	Review(ctx context.Context, analyses []Analysis, prior []PriorFinding) (*Suggestions, error)
}
