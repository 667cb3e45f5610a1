package engine

import (
	"errors"
	"fmt"

	"github.com/sprite-ai/crev/internal/model"
)

// Directive asks the caller to execute Steps again under plan Version.
type Directive struct {
	Version int
	Steps   []*Step
}

// Validator decides after each wave whether the plan needs another one.
type Validator struct {
	// MaxRounds bounds the number of re-submission waves.
	MaxRounds int
}

// Validate returns exactly one of a finalized result or a directive. Steps
// that are not terminal, and failed steps with retry budget left, are
// re-submitted while rounds remain; re-submission consumes one retry of
// every failed step in it and bumps the plan version.
//
// Complete is true only when every step is completed, skipped, or failed
// with its retry budget spent. A cancelled or unfinished step keeps it
// false, and so does a failed step left with budget when rounds run out.
func (v Validator) Validate(plan *Plan) (*Result, *Directive) {
	var again []*Step
	for _, s := range plan.Steps {
		if !s.State().IsTerminal() || s.Retryable() {
			again = append(again, s)
		}
	}
	if len(again) > 0 && plan.Version-1 < v.MaxRounds {
		for _, s := range again {
			if s.State() == StateFailed {
				s.markRetry()
			}
		}
		plan.Version++
		return nil, &Directive{Version: plan.Version, Steps: again}
	}
	return finalize(plan), nil
}

func finalize(plan *Plan) *Result {
	res := &Result{PlanVersion: plan.Version, Complete: true}
	perFile := make(map[string]int)
	rulesPerFile := make(map[string][]string)

	var findings []model.Finding
	for _, s := range plan.Steps {
		st := s.State()
		rec := StepRecord{
			ID:       s.ID,
			File:     s.File.Path,
			Rule:     s.RuleID(),
			Chunk:    s.Chunk.Index,
			State:    st,
			Attempts: s.Attempts(),
			Retries:  s.Retries(),
			Budget:   s.MaxRetries(),
			Kind:     model.Kind(s.Cause()),
			Reason:   s.Reason(),
		}
		res.Coverage.Steps++
		if !s.NoOp() && !contains(rulesPerFile[s.File.Path], s.RuleID()) {
			rulesPerFile[s.File.Path] = append(rulesPerFile[s.File.Path], s.RuleID())
		}

		switch st {
		case StateCompleted:
			res.Coverage.Completed++
			fs := s.Findings()
			rec.Findings = len(fs)
			findings = append(findings, fs...)
		case StateSkipped:
			res.Coverage.Skipped++
			res.Warnings = append(res.Warnings, Warning{
				Kind: model.KindCapabilityUnavailable, File: s.File.Path, Step: s.ID, Message: s.Reason(),
			})
		case StateFailed:
			res.Coverage.Failed++
			res.IncompleteCoverage = true
			if errors.Is(s.Cause(), model.ErrCancelled) || s.Retryable() {
				res.Complete = false
			}
			res.Warnings = append(res.Warnings, Warning{
				Kind:    model.KindIncompleteCoverage,
				File:    s.File.Path,
				Step:    s.ID,
				Message: fmt.Sprintf("%s after %d attempt(s): %s", model.Kind(s.Cause()), s.Attempts(), s.Reason()),
			})
		default:
			res.Coverage.Pending++
			res.Complete = false
			res.IncompleteCoverage = true
			res.Warnings = append(res.Warnings, Warning{
				Kind: model.KindIncompleteCoverage, File: s.File.Path, Step: s.ID, Message: "step never finished",
			})
		}
		res.Steps = append(res.Steps, rec)
	}

	model.SortFindings(findings)
	res.Findings = model.DeduplicateFindings(findings)
	res.Counts = countFindings(res.Findings)
	for _, f := range res.Findings {
		perFile[f.File]++
	}

	for _, fc := range plan.Files {
		m := fc.Model
		res.Files = append(res.Files, FileReport{
			Path:           fc.Path,
			Revision:       fc.Revision,
			Language:       fc.Language,
			Tags:           fc.Tags,
			Lines:          m.Lines,
			Functions:      len(m.Functions),
			MaxComplexity:  m.MaxComplexity(),
			MeanComplexity: m.MeanComplexity(),
			Alloc:          m.Alloc,
			Issues:         m.Issues,
			Degradations:   m.Degradations,
			Rules:          rulesPerFile[fc.Path],
			Findings:       perFile[fc.Path],
		})
		for _, d := range m.Degradations {
			res.Warnings = append(res.Warnings, Warning{
				Kind:    model.KindParseDegraded,
				File:    fc.Path,
				Message: fmt.Sprintf("line %d: %s", d.Line, d.Reason),
			})
		}
	}
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
