package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

func analysis(path string, loc int, mi float64, issues ...capability.Issue) capability.Analysis {
	return capability.Analysis{
		Path:     path,
		Language: "go",
		Metrics: capability.Metrics{
			LinesOfCode:          loc,
			CommentLines:         loc / 10,
			CyclomaticComplexity: 3,
			MaintainabilityIndex: mi,
		},
		Issues: issues,
	}
}

func TestFileScore(t *testing.T) {
	// no issues: 80*0.6 + 100*0.4 = 88
	clean := analysis("a.go", 100, 80)
	assert.InDelta(t, 88.0, FileScore(clean), 1e-9)

	// one critical (10) and one medium (2): penalty 12
	// 80*0.6 + 88*0.4 = 83.2
	flagged := analysis("b.go", 100, 80,
		capability.Issue{Severity: capability.SeverityCritical},
		capability.Issue{Severity: capability.SeverityMedium},
	)
	assert.InDelta(t, 83.2, FileScore(flagged), 1e-9)
}

func TestFileScore_PenaltyCapped(t *testing.T) {
	issues := make([]capability.Issue, 20)
	for i := range issues {
		issues[i] = capability.Issue{Severity: capability.SeverityCritical}
	}
	a := analysis("a.go", 100, 100, issues...)
	// penalty would be 200, capped at 100: 100*0.6 + 0*0.4 = 60
	assert.InDelta(t, 60.0, FileScore(a), 1e-9)
}

func TestReport(t *testing.T) {
	b := NewBuilder()
	b.Add(analysis("a.go", 100, 80, capability.Issue{
		Severity: capability.SeverityHigh,
		Category: capability.CategorySecurity,
	}))
	b.Add(analysis("b.go", 300, 90))

	r := b.Report()
	assert.Equal(t, 2, r.Files)
	assert.Equal(t, 400, r.LinesOfCode)
	assert.Equal(t, 1, r.TotalIssues)
	assert.Equal(t, 1, r.IssuesBySeverity[capability.SeverityHigh])
	assert.Equal(t, 1, r.IssuesByCategory[capability.CategorySecurity])
	assert.Equal(t, 2, r.Languages["go"])
	assert.InDelta(t, 3.0, r.AvgComplexity, 1e-9)
	assert.InDelta(t, 0.1, r.CommentRatio, 1e-9)

	// LOC-weighted: (86*100 + 94*300) / 400 = 92
	assert.InDelta(t, 92.0, r.QualityScore, 1e-9)
}

func TestReport_Empty(t *testing.T) {
	r := NewBuilder().Report()
	assert.Zero(t, r.Files)
	assert.Zero(t, r.QualityScore)
	assert.Zero(t, r.CommentRatio)
}

func TestMerge_Commutative(t *testing.T) {
	as := []capability.Analysis{
		analysis("a.go", 50, 70, capability.Issue{Severity: capability.SeverityLow, Category: capability.CategoryStyle}),
		analysis("b.go", 200, 85),
		analysis("c.go", 10, 40, capability.Issue{Severity: capability.SeverityCritical, Category: capability.CategorySecurity}),
		analysis("d.go", 0, 100),
	}

	left := NewBuilder()
	right := NewBuilder()
	left.Add(as[0])
	left.Add(as[1])
	right.Add(as[2])
	right.Add(as[3])

	ab := NewBuilder()
	ab.Merge(left)
	ab.Merge(right)

	ba := NewBuilder()
	ba.Merge(right)
	ba.Merge(left)

	sequential := NewBuilder()
	for _, a := range as {
		sequential.Add(a)
	}

	require.Equal(t, sequential.Report(), ab.Report())
	require.Equal(t, sequential.Report(), ba.Report())
}

func TestMerge_Nil(t *testing.T) {
	b := NewBuilder()
	b.Add(analysis("a.go", 10, 50))
	b.Merge(nil)
	assert.Equal(t, 1, b.Report().Files)
}
