package coordinator

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SudoKMaar/CodeSentinel/internal/aggregate"
	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

// Report is the final deliverable of a completed session.
type Report struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ProcessedCount and SkippedCount total the session's items; Complete
	// is true when nothing was skipped.
	ProcessedCount int  `json:"processed_count"`
	SkippedCount   int  `json:"skipped_count"`
	Complete       bool `json:"complete"`

	Aggregate   *aggregate.Report       `json:"aggregate"`
	Suggestions *capability.Suggestions `json:"suggestions,omitempty"`
	// Documentation is the stitched markdown of all per-file fragments,
	// in path order.
	Documentation string            `json:"documentation,omitempty"`
	Skipped       map[string]string `json:"skipped,omitempty"`
}

// Report assembles the aggregate, review, and documentation for a
// completed session. Returns session.ErrNotReady until then.
func (c *Coordinator) Report(ctx context.Context, id string) (*Report, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Report",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	sess, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := c.store.Results(ctx, id)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(results))
	for key := range results {
		if key != session.ReviewKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	builder := aggregate.NewBuilder()
	var docs strings.Builder
	for _, key := range keys {
		for _, res := range results[key] {
			switch res.Kind {
			case session.KindAnalysis:
				if res.Analysis != nil {
					builder.Add(*res.Analysis)
				}
			case session.KindDocumentation:
				if res.Documentation != nil {
					docs.WriteString(res.Documentation.Markdown)
					docs.WriteString("\n")
				}
			}
		}
	}

	report := &Report{
		SessionID:      id,
		CreatedAt:      sess.CreatedAt,
		FinishedAt:     sess.CheckpointAt,
		ProcessedCount: len(sess.Processed),
		SkippedCount:   len(sess.Skipped),
		Complete:       len(sess.Skipped) == 0,
		Aggregate:      builder.Report(),
		Documentation:  docs.String(),
		Skipped:        sess.Skipped,
	}
	for _, res := range results[session.ReviewKey] {
		if res.Kind == session.KindReview {
			report.Suggestions = res.Review
		}
	}
	return report, nil
}
