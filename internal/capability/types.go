package capability

// Severity ranks how urgent an issue is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Weight returns the penalty weight used in quality scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 0.5
	default:
		return 0
	}
}

// Category groups issues by the kind of problem they describe.
type Category string

const (
	CategoryStyle           Category = "style"
	CategorySecurity        Category = "security"
	CategoryComplexity      Category = "complexity"
	CategoryMaintainability Category = "maintainability"
	CategoryDocumentation   Category = "documentation"
)

// Metrics holds per-file code measurements.
type Metrics struct {
	LinesOfCode          int     `json:"lines_of_code"`
	CommentLines         int     `json:"comment_lines"`
	CommentRatio         float64 `json:"comment_ratio"`
	CyclomaticComplexity int     `json:"cyclomatic_complexity"`
	MaintainabilityIndex float64 `json:"maintainability_index"`
}

// Issue is a single finding in a file.
type Issue struct {
	Line       int      `json:"line"`
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// SymbolInfo describes a top-level declaration found in a file.
type SymbolInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "function" or "type"
	Line int    `json:"line"`
}

// Analysis is the analyzer capability's per-file output.
type Analysis struct {
	Path     string       `json:"path"`
	Language string       `json:"language"`
	Metrics  Metrics      `json:"metrics"`
	Issues   []Issue      `json:"issues,omitempty"`
	Symbols  []SymbolInfo `json:"symbols,omitempty"`
}

// DocFragment is the documenter capability's per-file output.
type DocFragment struct {
	Path     string   `json:"path"`
	Language string   `json:"language"`
	Markdown string   `json:"markdown"`
	Symbols  []string `json:"symbols,omitempty"`
}

// PriorFinding is a review pattern recalled from an earlier session,
// handed to the reviewer as extra context.
type PriorFinding struct {
	Session    string   `json:"session"`
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
}

// Suggestion is one prioritized recommendation from the reviewer.
type Suggestion struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Priority    int      `json:"priority"` // lower is more urgent
	Files       []string `json:"files,omitempty"`
}

// Suggestions is the reviewer capability's whole-run output.
type Suggestions struct {
	Items  []Suggestion `json:"items"`
	Source string       `json:"source"` // "rules" or "llm"
}
