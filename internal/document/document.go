// Package document implements the documenter capability. It renders a
// markdown fragment per file from the analyzer's symbol scan, suitable
// for stitching into a repository documentation page.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/analyze"
	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/document"

// Documenter renders per-file documentation fragments.
type Documenter struct {
	analyzer *analyze.Analyzer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a documenter backed by the given analyzer.
func New(analyzer *analyze.Analyzer, logger *zap.Logger) (*Documenter, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Documenter{
		analyzer: analyzer,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// Document produces a markdown fragment describing the file's contents.
func (d *Documenter) Document(ctx context.Context, path string) (*capability.DocFragment, error) {
	ctx, span := d.tracer.Start(ctx, "document.Document",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	analysis, err := d.analyzer.Analyze(ctx, path)
	if err != nil {
		return nil, err
	}

	frag := &capability.DocFragment{
		Path:     path,
		Language: analysis.Language,
		Markdown: render(path, analysis),
	}
	for _, sym := range analysis.Symbols {
		frag.Symbols = append(frag.Symbols, sym.Name)
	}

	d.logger.Debug("documented file",
		zap.String("path", path),
		zap.Int("symbols", len(frag.Symbols)))
	return frag, nil
}

func render(path string, a *capability.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### `%s`\n\n", filepath.Base(path))
	fmt.Fprintf(&b, "%s, %d lines of code", a.Language, a.Metrics.LinesOfCode)
	if a.Metrics.CommentRatio > 0 {
		fmt.Fprintf(&b, ", %.0f%% comments", a.Metrics.CommentRatio*100)
	}
	b.WriteString("\n")

	var funcs, types []capability.SymbolInfo
	for _, sym := range a.Symbols {
		switch sym.Kind {
		case "type":
			types = append(types, sym)
		default:
			funcs = append(funcs, sym)
		}
	}
	if len(types) > 0 {
		b.WriteString("\n**Types**\n\n")
		for _, sym := range types {
			fmt.Fprintf(&b, "- `%s` (line %d)\n", sym.Name, sym.Line)
		}
	}
	if len(funcs) > 0 {
		b.WriteString("\n**Functions**\n\n")
		for _, sym := range funcs {
			fmt.Fprintf(&b, "- `%s` (line %d)\n", sym.Name, sym.Line)
		}
	}
	return b.String()
}
