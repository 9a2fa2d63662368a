package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const systemPrompt = `You are a senior code reviewer. You receive a JSON summary of
per-file static analysis results, plus prior_findings recorded in earlier
reviews of the same codebase, and respond with a prioritized review. Weigh
recurring problems from prior_findings higher.

Respond with ONLY a JSON array. Each element:
{
  "title": "short imperative title",
  "description": "what to do and why, 1-3 sentences",
  "severity": "critical|high|medium|low",
  "category": "style|security|complexity|maintainability|documentation",
  "files": ["affected paths"]
}

Order the array from most to least important. At most 10 elements.`

// maxSummaryIssues bounds the per-file issue detail sent to the model.
const maxSummaryIssues = 5

// LLMReviewer asks an Anthropic model for a prioritized review.
type LLMReviewer struct {
	client   anthropic.Client
	model    string
	fallback capability.Reviewer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewLLMReviewer creates an LLM reviewer. The fallback reviewer is used
// whenever the model call or its output parsing fails, so review always
// produces a result.
func NewLLMReviewer(apiKey, model string, fallback capability.Reviewer, logger *zap.Logger) (*LLMReviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("fallback reviewer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &LLMReviewer{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		fallback: fallback,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// Review summarizes the analyses for the model and parses its response.
func (r *LLMReviewer) Review(ctx context.Context, analyses []capability.Analysis, prior []capability.PriorFinding) (*capability.Suggestions, error) {
	ctx, span := r.tracer.Start(ctx, "review.LLM",
		trace.WithAttributes(attribute.Int("analyses", len(analyses)),
			attribute.Int("prior", len(prior))))
	defer span.End()

	suggestions, err := r.ask(ctx, analyses, prior)
	if err != nil {
		r.logger.Warn("llm review failed, using rule reviewer", zap.Error(err))
		return r.fallback.Review(ctx, analyses, prior)
	}
	return suggestions, nil
}

// reviewPayload is the user message sent to the model.
type reviewPayload struct {
	Files         []fileSummary             `json:"files"`
	PriorFindings []capability.PriorFinding `json:"prior_findings,omitempty"`
}

func (r *LLMReviewer) ask(ctx context.Context, analyses []capability.Analysis, prior []capability.PriorFinding) (*capability.Suggestions, error) {
	summary, err := json.Marshal(reviewPayload{Files: summarize(analyses), PriorFindings: prior})
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(summary))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling model: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	return parseResponse(text)
}

type fileSummary struct {
	Path       string             `json:"path"`
	Language   string             `json:"language"`
	Metrics    capability.Metrics `json:"metrics"`
	Issues     []capability.Issue `json:"issues,omitempty"`
	MoreIssues int                `json:"more_issues,omitempty"`
}

func summarize(analyses []capability.Analysis) []fileSummary {
	out := make([]fileSummary, 0, len(analyses))
	for _, a := range analyses {
		fs := fileSummary{Path: a.Path, Language: a.Language, Metrics: a.Metrics}
		if len(a.Issues) > maxSummaryIssues {
			fs.Issues = a.Issues[:maxSummaryIssues]
			fs.MoreIssues = len(a.Issues) - maxSummaryIssues
		} else {
			fs.Issues = a.Issues
		}
		out = append(out, fs)
	}
	return out
}

type modelSuggestion struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Files       []string `json:"files"`
}

// parseResponse decodes the model's JSON array, tolerating markdown code
// fences around it.
func parseResponse(text string) (*capability.Suggestions, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var raw []modelSuggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parsing model response: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("model returned no suggestions")
	}

	out := &capability.Suggestions{Source: SourceLLM}
	for i, m := range raw {
		out.Items = append(out.Items, capability.Suggestion{
			ID:          uuid.NewString(),
			Title:       m.Title,
			Description: m.Description,
			Severity:    normalizeSeverity(m.Severity),
			Category:    normalizeCategory(m.Category),
			Priority:    i + 1,
			Files:       m.Files,
		})
	}
	return out, nil
}

func normalizeSeverity(s string) capability.Severity {
	switch capability.Severity(strings.ToLower(s)) {
	case capability.SeverityCritical, capability.SeverityHigh, capability.SeverityMedium, capability.SeverityLow:
		return capability.Severity(strings.ToLower(s))
	default:
		return capability.SeverityMedium
	}
}

func normalizeCategory(s string) capability.Category {
	switch capability.Category(strings.ToLower(s)) {
	case capability.CategoryStyle, capability.CategorySecurity, capability.CategoryComplexity,
		capability.CategoryMaintainability, capability.CategoryDocumentation:
		return capability.Category(strings.ToLower(s))
	default:
		return capability.CategoryMaintainability
	}
}
