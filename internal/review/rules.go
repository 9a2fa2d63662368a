// Package review implements the reviewer capability. The rule reviewer
// derives suggestions directly from analyzer findings; the LLM reviewer
// asks a model for a prioritized review and falls back to the rules when
// the model is unavailable.
package review

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/review"

// SourceRules and SourceLLM identify which reviewer produced a result.
const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

// RuleReviewer groups analyzer issues into per-category suggestions.
type RuleReviewer struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRuleReviewer creates a rule-based reviewer.
func NewRuleReviewer(logger *zap.Logger) (*RuleReviewer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &RuleReviewer{
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Review folds all issues into one suggestion per category, ordered by
// the weighted severity of what each category contains. Categories that
// also appear in prior findings are flagged as recurring. Deterministic
// apart from the generated ids.
func (r *RuleReviewer) Review(ctx context.Context, analyses []capability.Analysis, prior []capability.PriorFinding) (*capability.Suggestions, error) {
	_, span := r.tracer.Start(ctx, "review.Rules",
		trace.WithAttributes(attribute.Int("analyses", len(analyses)),
			attribute.Int("prior", len(prior))))
	defer span.End()

	priorByCategory := make(map[capability.Category]int)
	for _, p := range prior {
		priorByCategory[p.Category]++
	}

	type bucket struct {
		weight   float64
		count    int
		worst    capability.Severity
		files    map[string]bool
		examples []string
	}
	buckets := make(map[capability.Category]*bucket)

	for _, a := range analyses {
		for _, issue := range a.Issues {
			b, ok := buckets[issue.Category]
			if !ok {
				b = &bucket{worst: issue.Severity, files: make(map[string]bool)}
				buckets[issue.Category] = b
			}
			b.weight += issue.Severity.Weight()
			b.count++
			b.files[a.Path] = true
			if issue.Severity.Weight() > b.worst.Weight() {
				b.worst = issue.Severity
			}
			if len(b.examples) < 3 {
				b.examples = append(b.examples, fmt.Sprintf("%s:%d %s", a.Path, issue.Line, issue.Message))
			}
		}
	}

	out := &capability.Suggestions{Source: SourceRules, Items: []capability.Suggestion{}}
	for cat, b := range buckets {
		files := make([]string, 0, len(b.files))
		for f := range b.files {
			files = append(files, f)
		}
		sort.Strings(files)

		desc := fmt.Sprintf("%d %s finding(s) across %d file(s).", b.count, cat, len(files))
		for _, ex := range b.examples {
			desc += "\n- " + ex
		}
		if n := priorByCategory[cat]; n > 0 {
			desc += fmt.Sprintf("\nRecurring: %d similar finding(s) recorded in earlier sessions.", n)
		}
		out.Items = append(out.Items, capability.Suggestion{
			ID:          uuid.NewString(),
			Title:       fmt.Sprintf("Address %s findings", cat),
			Description: desc,
			Severity:    b.worst,
			Category:    cat,
			Files:       files,
		})
	}

	// heaviest category first, ties broken by name for determinism
	sort.Slice(out.Items, func(i, j int) bool {
		wi := buckets[out.Items[i].Category].weight
		wj := buckets[out.Items[j].Category].weight
		if wi != wj {
			return wi > wj
		}
		return out.Items[i].Category < out.Items[j].Category
	})
	for i := range out.Items {
		out.Items[i].Priority = i + 1
	}

	r.logger.Debug("rule review complete", zap.Int("suggestions", len(out.Items)))
	return out, nil
}
