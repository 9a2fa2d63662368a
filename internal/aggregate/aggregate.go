// Package aggregate folds per-file analyses into a session report.
//
// A Builder accumulates only sums and counts, so folding is associative
// and commutative: any grouping or ordering of Add and Merge calls over
// the same analyses yields the same report.
package aggregate

import (
	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

// maxIssuePenalty caps the weighted issue penalty per file.
const maxIssuePenalty = 100.0

// FileScore computes the quality score of a single analysis in [0,100].
// Maintainability contributes 60%, weighted issue density 40%.
func FileScore(a capability.Analysis) float64 {
	penalty := 0.0
	for _, issue := range a.Issues {
		penalty += issue.Severity.Weight()
	}
	if penalty > maxIssuePenalty {
		penalty = maxIssuePenalty
	}
	return a.Metrics.MaintainabilityIndex*0.6 + (maxIssuePenalty-penalty)*0.4
}

// Builder accumulates analyses into mergeable partial aggregates.
type Builder struct {
	files            int
	linesOfCode      int
	commentLines     int
	issuesBySeverity map[capability.Severity]int
	issuesByCategory map[capability.Category]int
	languages        map[string]int

	complexitySum float64

	// score and weight form a weighted mean where each file counts by
	// its lines of code, with a floor of one line per file.
	scoreSum  float64
	weightSum float64
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		issuesBySeverity: make(map[capability.Severity]int),
		issuesByCategory: make(map[capability.Category]int),
		languages:        make(map[string]int),
	}
}

// Add folds one analysis into the builder.
func (b *Builder) Add(a capability.Analysis) {
	b.files++
	b.linesOfCode += a.Metrics.LinesOfCode
	b.commentLines += a.Metrics.CommentLines
	b.complexitySum += float64(a.Metrics.CyclomaticComplexity)
	if a.Language != "" {
		b.languages[a.Language]++
	}
	for _, issue := range a.Issues {
		b.issuesBySeverity[issue.Severity]++
		b.issuesByCategory[issue.Category]++
	}

	weight := float64(a.Metrics.LinesOfCode)
	if weight < 1 {
		weight = 1
	}
	b.scoreSum += FileScore(a) * weight
	b.weightSum += weight
}

// Merge folds another builder into this one. The other builder is not
// modified.
func (b *Builder) Merge(other *Builder) {
	if other == nil {
		return
	}
	b.files += other.files
	b.linesOfCode += other.linesOfCode
	b.commentLines += other.commentLines
	b.complexitySum += other.complexitySum
	b.scoreSum += other.scoreSum
	b.weightSum += other.weightSum
	for sev, n := range other.issuesBySeverity {
		b.issuesBySeverity[sev] += n
	}
	for cat, n := range other.issuesByCategory {
		b.issuesByCategory[cat] += n
	}
	for lang, n := range other.languages {
		b.languages[lang] += n
	}
}

// Report is the final aggregation over a session's analyses.
type Report struct {
	Files            int                         `json:"files"`
	LinesOfCode      int                         `json:"lines_of_code"`
	CommentLines     int                         `json:"comment_lines"`
	CommentRatio     float64                     `json:"comment_ratio"`
	IssuesBySeverity map[capability.Severity]int `json:"issues_by_severity"`
	IssuesByCategory map[capability.Category]int `json:"issues_by_category"`
	TotalIssues      int                         `json:"total_issues"`
	Languages        map[string]int              `json:"languages"`
	AvgComplexity    float64                     `json:"avg_complexity"`
	QualityScore     float64                     `json:"quality_score"`
}

// Report finalizes the aggregate. The builder remains usable afterwards.
func (b *Builder) Report() *Report {
	r := &Report{
		Files:            b.files,
		LinesOfCode:      b.linesOfCode,
		CommentLines:     b.commentLines,
		IssuesBySeverity: make(map[capability.Severity]int, len(b.issuesBySeverity)),
		IssuesByCategory: make(map[capability.Category]int, len(b.issuesByCategory)),
		Languages:        make(map[string]int, len(b.languages)),
	}
	for sev, n := range b.issuesBySeverity {
		r.IssuesBySeverity[sev] = n
		r.TotalIssues += n
	}
	for cat, n := range b.issuesByCategory {
		r.IssuesByCategory[cat] = n
	}
	for lang, n := range b.languages {
		r.Languages[lang] = n
	}
	if b.linesOfCode > 0 {
		r.CommentRatio = float64(b.commentLines) / float64(b.linesOfCode)
	}
	if b.files > 0 {
		r.AvgComplexity = b.complexitySum / float64(b.files)
	}
	if b.weightSum > 0 {
		r.QualityScore = b.scoreSum / b.weightSum
	}
	return r
}
