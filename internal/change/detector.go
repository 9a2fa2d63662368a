// Package change compares on-disk file state against recorded signatures
// so resumed sessions can demote work that went stale while paused.
package change

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/change"

// Detector computes file signatures and diffs them against recorded state.
type Detector struct {
	hashContents bool
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewDetector creates a detector. When hashContents is true, signatures
// include a SHA-256 digest and comparison ignores timestamps.
func NewDetector(hashContents bool, logger *zap.Logger) (*Detector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Detector{
		hashContents: hashContents,
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}, nil
}

// Stat returns the current signature of a file.
func (d *Detector) Stat(ctx context.Context, path string) (capability.Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return capability.Signature{}, err
	}
	sig := capability.Signature{
		ModTime: info.ModTime().UTC(),
		Size:    info.Size(),
	}
	if d.hashContents {
		sum, err := hashFile(path)
		if err != nil {
			return capability.Signature{}, fmt.Errorf("hashing %s: %w", path, err)
		}
		sig.SHA256 = sum
	}
	return sig, nil
}

// Changed returns the recorded paths whose current on-disk signature no
// longer matches, sorted lexicographically. Missing files count as
// changed. The result is deterministic for a given disk state.
func (d *Detector) Changed(ctx context.Context, recorded map[string]capability.Signature) ([]string, error) {
	ctx, span := d.tracer.Start(ctx, "change.Changed",
		trace.WithAttributes(attribute.Int("recorded", len(recorded))))
	defer span.End()

	var changed []string
	for path, old := range recorded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := d.Stat(ctx, path)
		if os.IsNotExist(err) {
			changed = append(changed, path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !current.Equal(old) {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)

	if len(changed) > 0 {
		d.logger.Debug("detected changed items", zap.Int("count", len(changed)))
	}
	return changed, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
