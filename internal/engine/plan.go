package engine

import (
	"sort"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/rules"
)

// Plan is the ordered set of steps of one review. Version starts at 1 and
// is bumped by the Validator whenever it re-submits steps.
type Plan struct {
	Version int
	Steps   []*Step
	Files   []*rules.FileContext // in priority order
}

// StepsFor returns the steps of one file in plan order.
func (p *Plan) StepsFor(path string) []*Step {
	var out []*Step
	for _, s := range p.Steps {
		if s.File.Path == path {
			out = append(out, s)
		}
	}
	return out
}

// Planner orders files and expands them into steps.
type Planner struct {
	selector   *rules.Selector
	chunkLines int
	maxRetries int
}

// NewPlanner creates a planner. Files longer than chunkLines have their
// function-scoped steps split into contiguous function groups; zero or less
// disables splitting.
func NewPlanner(selector *rules.Selector, chunkLines, maxRetries int) *Planner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Planner{selector: selector, chunkLines: chunkLines, maxRetries: maxRetries}
}

// Plan builds a version 1 plan. Files are ordered security-sensitive first,
// then by descending maximum function complexity, then by path. Every file
// yields at least one step.
func (p *Planner) Plan(files []*rules.FileContext) *Plan {
	ordered := append([]*rules.FileContext(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Sensitive() != b.Sensitive() {
			return a.Sensitive()
		}
		if ca, cb := a.Model.MaxComplexity(), b.Model.MaxComplexity(); ca != cb {
			return ca > cb
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Revision < b.Revision
	})

	plan := &Plan{Version: 1, Files: ordered}
	for _, fc := range ordered {
		selected := p.selector.Select(fc)
		if len(selected) == 0 {
			plan.Steps = append(plan.Steps, newStep(fc, nil, wholeFile(fc), p.maxRetries))
			continue
		}
		chunks := p.chunks(fc)
		for i := range selected {
			r := &selected[i]
			if r.Scope != rules.ScopeFunction {
				plan.Steps = append(plan.Steps, newStep(fc, r, wholeFile(fc), p.maxRetries))
				continue
			}
			for _, c := range chunks {
				plan.Steps = append(plan.Steps, newStep(fc, r, c, p.maxRetries))
			}
		}
	}
	return plan
}

func wholeFile(fc *rules.FileContext) Chunk {
	c := Chunk{Index: 0, Count: 1, StartLine: 1, EndLine: fc.Model.Lines}
	for i := range fc.Model.Functions {
		c.Functions = append(c.Functions, &fc.Model.Functions[i])
	}
	return c
}

// chunks groups the functions of a long file so that no group spans more
// than chunkLines lines of function bodies. A single function longer than
// the limit gets a group of its own; no function is ever split.
func (p *Planner) chunks(fc *rules.FileContext) []Chunk {
	m := fc.Model
	if p.chunkLines <= 0 || m.Lines <= p.chunkLines || len(m.Functions) < 2 {
		return []Chunk{wholeFile(fc)}
	}

	var groups [][]*cparse.FunctionInfo
	var cur []*cparse.FunctionInfo
	size := 0
	for i := range m.Functions {
		f := &m.Functions[i]
		if len(cur) > 0 && size+f.Lines() > p.chunkLines {
			groups = append(groups, cur)
			cur, size = nil, 0
		}
		cur = append(cur, f)
		size += f.Lines()
	}
	groups = append(groups, cur)

	out := make([]Chunk, len(groups))
	for i, g := range groups {
		out[i] = Chunk{
			Index:     i,
			Count:     len(groups),
			StartLine: g[0].StartLine,
			EndLine:   g[len(g)-1].EndLine,
			Functions: g,
		}
	}
	return out
}
