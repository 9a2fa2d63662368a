// Package analyze implements the analyzer capability with lightweight
// lexical heuristics. It never builds an AST; metrics are approximations
// good enough to rank files and surface hotspots.
package analyze

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/analyze"

const (
	maxLineLength       = 120
	maxFileLines        = 500
	mediumComplexity    = 10
	highComplexity      = 20
	minCommentRatio     = 0.05
	minLinesForDocCheck = 50
)

var (
	secretRe = regexp.MustCompile(`(?i)(password|passwd|secret|api_?key|access_?token|private_?key)\s*[:=]\s*["'][^"']{4,}["']`)
	todoRe   = regexp.MustCompile(`(?i)\b(TODO|FIXME|XXX|HACK)\b`)
	tokenRe  = regexp.MustCompile(`[A-Za-z_]\w*|\S`)
)

// Analyzer computes per-file metrics and issues.
type Analyzer struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates an analyzer.
func New(logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Analyzer{
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Analyze reads the file and produces metrics, issues, and symbols.
// Unknown extensions produce an error so the item is skipped rather than
// silently scored as empty.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*capability.Analysis, error) {
	_, span := a.tracer.Start(ctx, "analyze.Analyze",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	lang := detect(path)
	if lang == nil {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	result := &capability.Analysis{Path: path, Language: lang.name}

	var (
		loc, commentLines int
		complexity        = 1
		tokens            int
		uniqueTokens      = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		loc++

		if lang.isComment(trimmed) {
			commentLines++
			if todoRe.MatchString(trimmed) {
				result.Issues = append(result.Issues, capability.Issue{
					Line:     lineNo,
					Severity: capability.SeverityLow,
					Category: capability.CategoryMaintainability,
					Message:  "unresolved TODO marker",
				})
			}
			continue
		}

		complexity += lang.branches(line)
		for _, tok := range tokenRe.FindAllString(trimmed, -1) {
			tokens++
			uniqueTokens[tok] = struct{}{}
		}

		if len(line) > maxLineLength {
			result.Issues = append(result.Issues, capability.Issue{
				Line:       lineNo,
				Severity:   capability.SeverityLow,
				Category:   capability.CategoryStyle,
				Message:    fmt.Sprintf("line exceeds %d characters", maxLineLength),
				Suggestion: "break the line or extract a helper",
			})
		}
		if secretRe.MatchString(line) {
			result.Issues = append(result.Issues, capability.Issue{
				Line:       lineNo,
				Severity:   capability.SeverityCritical,
				Category:   capability.CategorySecurity,
				Message:    "possible hardcoded credential",
				Suggestion: "move the value to configuration or a secret store",
			})
		}
		for _, sp := range lang.symbolRes {
			if m := sp.re.FindStringSubmatch(line); m != nil {
				result.Symbols = append(result.Symbols, capability.SymbolInfo{
					Name: m[1],
					Kind: sp.kind,
					Line: lineNo,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	result.Metrics = capability.Metrics{
		LinesOfCode:          loc,
		CommentLines:         commentLines,
		CyclomaticComplexity: complexity,
		MaintainabilityIndex: maintainability(tokens, len(uniqueTokens), complexity, loc),
	}
	if loc > 0 {
		result.Metrics.CommentRatio = float64(commentLines) / float64(loc)
	}

	result.Issues = append(result.Issues, fileLevelIssues(result.Metrics)...)

	a.logger.Debug("analyzed file",
		zap.String("path", path),
		zap.Int("loc", loc),
		zap.Int("issues", len(result.Issues)))
	return result, nil
}

// fileLevelIssues derives whole-file findings from the metrics.
func fileLevelIssues(m capability.Metrics) []capability.Issue {
	var issues []capability.Issue
	if m.LinesOfCode > maxFileLines {
		issues = append(issues, capability.Issue{
			Line:       1,
			Severity:   capability.SeverityMedium,
			Category:   capability.CategoryMaintainability,
			Message:    fmt.Sprintf("file has %d lines of code", m.LinesOfCode),
			Suggestion: "split into smaller files",
		})
	}
	switch {
	case m.CyclomaticComplexity > highComplexity:
		issues = append(issues, capability.Issue{
			Line:     1,
			Severity: capability.SeverityHigh,
			Category: capability.CategoryComplexity,
			Message:  fmt.Sprintf("cyclomatic complexity %d", m.CyclomaticComplexity),
		})
	case m.CyclomaticComplexity > mediumComplexity:
		issues = append(issues, capability.Issue{
			Line:     1,
			Severity: capability.SeverityMedium,
			Category: capability.CategoryComplexity,
			Message:  fmt.Sprintf("cyclomatic complexity %d", m.CyclomaticComplexity),
		})
	}
	if m.LinesOfCode > minLinesForDocCheck && m.CommentRatio < minCommentRatio {
		issues = append(issues, capability.Issue{
			Line:       1,
			Severity:   capability.SeverityLow,
			Category:   capability.CategoryDocumentation,
			Message:    "very few comments",
			Suggestion: "document the non-obvious parts",
		})
	}
	return issues
}

// maintainability approximates the maintainability index on a 0..100
// scale using a token-based Halstead volume estimate.
func maintainability(tokens, unique, complexity, loc int) float64 {
	if loc == 0 {
		return 100
	}
	volume := 1.0
	if tokens > 0 && unique > 1 {
		volume = float64(tokens) * math.Log2(float64(unique))
	}
	mi := 171 - 5.2*math.Log(volume) - 0.23*float64(complexity) - 16.2*math.Log(float64(loc))
	mi = mi * 100 / 171
	if mi < 0 {
		return 0
	}
	if mi > 100 {
		return 100
	}
	return mi
}
