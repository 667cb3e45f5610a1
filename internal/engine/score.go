package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// ScorePolicy holds the scoring constants. Keep them fixed within a project
// so scores stay comparable between reviews.
type ScorePolicy struct {
	Penalties           map[model.Severity]float64
	ComplexityThreshold float64
	QualityWeight       float64
	ComplexityWeight    float64
}

// DefaultScorePolicy: penalties 20/10/4/2 for critical/high/medium/low,
// acceptable mean complexity 10, maintainability 0.6 quality + 0.4
// complexity.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		Penalties: map[model.Severity]float64{
			model.SeverityCritical: 20,
			model.SeverityHigh:     10,
			model.SeverityMedium:   4,
			model.SeverityLow:      2,
		},
		ComplexityThreshold: 10,
		QualityWeight:       0.6,
		ComplexityWeight:    0.4,
	}
}

// Score derives the aggregate scores from the result's findings and the
// source models of the reviewed files. It reads nothing else.
//
// quality = max(0, 100 - sum of penalties); complexity = 100*T / (T + excess)
// where excess is how far the mean function complexity exceeds 1 and T the
// acceptable threshold, 100 without functions; maintainability is the
// weighted sum of the two. Scores are rounded to one decimal.
func Score(r *Result, models []*cparse.SourceModel, p ScorePolicy) Scores {
	penalty := 0.0
	for _, f := range r.Findings {
		penalty += p.Penalties[f.Severity]
	}
	quality := clamp(100 - penalty)

	complexity := 100.0
	sum, n := 0, 0
	for _, m := range models {
		for _, fn := range m.Functions {
			sum += fn.Complexity
			n++
		}
	}
	if n > 0 && p.ComplexityThreshold > 0 {
		excess := math.Max(0, float64(sum)/float64(n)-1)
		complexity = clamp(100 * p.ComplexityThreshold / (p.ComplexityThreshold + excess))
	}

	maint := clamp(p.QualityWeight*quality + p.ComplexityWeight*complexity)
	return Scores{
		Quality:         round1(quality),
		Complexity:      round1(complexity),
		Maintainability: round1(maint),
	}
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// recommend derives reviewer advice from a scored result.
func recommend(r *Result) []string {
	var out []string

	critical := make(map[model.Category]int)
	for _, f := range r.Findings {
		if f.Severity == model.SeverityCritical {
			critical[f.Category]++
		}
	}
	for _, c := range model.Categories {
		if n := critical[c]; n > 0 {
			out = append(out, fmt.Sprintf("Fix the %d critical %s finding(s) before merging.", n, c))
		}
	}

	if r.Scores.Complexity < 60 {
		out = append(out, "Reduce function complexity: split long branches into helpers.")
	}
	if top := dominantCategory(r.Counts.ByCategory); top == model.CategoryMemory {
		out = append(out, "Memory findings dominate this change: review allocation and release paths, including error paths.")
	}
	if r.Coverage.Skipped > 0 {
		out = append(out, fmt.Sprintf("%d check(s) were skipped because an external tool was unavailable.", r.Coverage.Skipped))
	}
	if r.IncompleteCoverage {
		out = append(out, "Coverage is incomplete: some checks failed; see the warnings before relying on this review.")
	}
	return out
}

func dominantCategory(counts map[model.Category]int) model.Category {
	cats := make([]model.Category, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) == 0 {
		return ""
	}
	return cats[0]
}
