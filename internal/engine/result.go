package engine

import (
	"time"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// Counts aggregates findings.
type Counts struct {
	Total      int                    `json:"total"`
	BySeverity map[model.Severity]int `json:"by_severity"`
	ByCategory map[model.Category]int `json:"by_category"`
}

// Scores are the aggregate metrics of a review, each in [0, 100].
type Scores struct {
	Quality         float64 `json:"quality"`
	Complexity      float64 `json:"complexity"`
	Maintainability float64 `json:"maintainability"`
}

// Coverage counts steps by final state.
type Coverage struct {
	Steps     int `json:"steps"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Warning is an auditable marker for anything that degraded the review.
type Warning struct {
	Kind    model.ErrorKind `json:"kind"`
	File    string          `json:"file,omitempty"`
	Step    string          `json:"step,omitempty"`
	Message string          `json:"message"`
}

// StepRecord is the audit trail of one step.
type StepRecord struct {
	ID       string          `json:"id"`
	File     string          `json:"file"`
	Rule     string          `json:"rule"`
	Chunk    int             `json:"chunk"`
	State    State           `json:"state"`
	Attempts int             `json:"attempts"`
	Retries  int             `json:"retries"`
	Budget   int             `json:"retry_budget"`
	Kind     model.ErrorKind `json:"kind,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Findings int             `json:"findings"`
}

// FileReport summarizes one reviewed file.
type FileReport struct {
	Path           string               `json:"path"`
	Revision       string               `json:"revision,omitempty"`
	Language       string               `json:"language"`
	Tags           []string             `json:"tags,omitempty"`
	Lines          int                  `json:"lines"`
	Functions      int                  `json:"functions"`
	MaxComplexity  int                  `json:"max_complexity"`
	MeanComplexity float64              `json:"mean_complexity"`
	Alloc          cparse.AllocBalance  `json:"alloc"`
	Issues         []cparse.Issue       `json:"issues,omitempty"`
	Degradations   []cparse.Degradation `json:"degradations,omitempty"`
	Rules          []string             `json:"rules,omitempty"`
	Findings       int                  `json:"findings"`
}

// Result is the finalized outcome of a review, handed whole to renderers.
type Result struct {
	RunID         string    `json:"run_id"`
	Commit        string    `json:"commit,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	PlanVersion   int       `json:"plan_version"`

	Files    []FileReport    `json:"files"`
	Findings []model.Finding `json:"findings"`
	Counts   Counts          `json:"counts"`
	Scores   Scores          `json:"scores"`

	// Complete is set only when every step reached a final outcome.
	Complete bool `json:"complete"`
	// IncompleteCoverage marks a best-effort result: some steps failed for
	// good or never finished.
	IncompleteCoverage bool `json:"incomplete_coverage"`

	Coverage        Coverage     `json:"coverage"`
	Warnings        []Warning    `json:"warnings,omitempty"`
	Steps           []StepRecord `json:"steps"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// Clean reports a complete review without findings or coverage gaps.
func (r *Result) Clean() bool {
	return r.Complete && !r.IncompleteCoverage && len(r.Findings) == 0
}

// MaxSeverity returns the highest finding severity, SeverityUnknown when
// there are none.
func (r *Result) MaxSeverity() model.Severity {
	top := model.SeverityUnknown
	for _, f := range r.Findings {
		if f.Severity > top {
			top = f.Severity
		}
	}
	return top
}

func countFindings(findings []model.Finding) Counts {
	c := Counts{
		Total:      len(findings),
		BySeverity: make(map[model.Severity]int),
		ByCategory: make(map[model.Category]int),
	}
	for _, f := range findings {
		c.BySeverity[f.Severity]++
		c.ByCategory[f.Category]++
	}
	return c
}

// Restrict returns a copy of r keeping only the findings keep accepts.
// Counts and per-file finding totals follow the filter; scores still cover
// the reviewed files as a whole.
func (r *Result) Restrict(keep func(model.Finding) bool) *Result {
	out := *r
	out.Findings = make([]model.Finding, 0, len(r.Findings))
	perFile := make(map[string]int)
	for _, f := range r.Findings {
		if keep(f) {
			out.Findings = append(out.Findings, f)
			perFile[f.File]++
		}
	}
	out.Counts = countFindings(out.Findings)
	out.Files = make([]FileReport, len(r.Files))
	for i, fr := range r.Files {
		fr.Findings = perFile[fr.Path]
		out.Files[i] = fr
	}
	return &out
}
