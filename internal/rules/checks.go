package rules

import (
	"context"
	"sort"
	"strings"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// Check kinds understood by DefaultChecks.
const (
	KindBannedCalls        = "banned-calls"
	KindAllocBalance       = "alloc-balance"
	KindNullCheck          = "null-check"
	KindLoopAlloc          = "loop-alloc"
	KindFunctionComplexity = "function-complexity"
	KindFunctionLength     = "function-length"
	KindLineLength         = "line-length"
	KindMagicNumber        = "magic-number"
	KindGlobalVars         = "global-vars"
	KindCommentDensity     = "comment-density"
	KindPattern            = "pattern"
	KindExternalTool       = "external-tool"
	KindSemantic           = "semantic"
)

// Env is what a handler may reach beyond the segment itself.
type Env struct {
	Caps capability.Invoker
}

// Segment is the slice of a file a handler evaluates: the whole file for
// file-scoped rules, one function body for function-scoped ones.
type Segment struct {
	File     *FileContext
	Function *cparse.FunctionInfo // nil for file scope
	Lines    model.LineRange
}

// FileSegment covers every line of fc.
func FileSegment(fc *FileContext) Segment {
	return Segment{File: fc, Lines: model.LineRange{Start: 1, End: fc.Model.Lines}}
}

// FunctionSegment covers one function of fc.
func FunctionSegment(fc *FileContext, fn *cparse.FunctionInfo) Segment {
	return Segment{File: fc, Function: fn, Lines: model.LineRange{Start: fn.StartLine, End: fn.EndLine}}
}

// Contains reports whether line falls inside the segment.
func (s Segment) Contains(line int) bool { return s.Lines.Contains(line) }

// Model returns the structural model of the segment's file.
func (s Segment) Model() *cparse.SourceModel { return s.File.Model }

// Text returns the raw lines of the segment.
func (s Segment) Text() string {
	m := s.Model()
	lines := make([]string, 0, s.Lines.Len())
	for l := s.Lines.Start; l <= s.Lines.End; l++ {
		lines = append(lines, m.Line(l))
	}
	return strings.Join(lines, "\n")
}

// functions returns the functions the segment covers.
func (s Segment) functions() []*cparse.FunctionInfo {
	if s.Function != nil {
		return []*cparse.FunctionInfo{s.Function}
	}
	m := s.Model()
	var out []*cparse.FunctionInfo
	for i := range m.Functions {
		if s.Lines.Contains(m.Functions[i].StartLine) {
			out = append(out, &m.Functions[i])
		}
	}
	return out
}

// Handler evaluates one rule over one segment. Returning an error wrapping
// model.ErrCapabilityUnavailable marks the step skipped; any other error
// fails it.
type Handler func(ctx context.Context, env Env, r Rule, seg Segment) ([]model.Finding, error)

// Checks maps check kinds to handlers. It is built before a review starts
// and only read afterwards.
type Checks map[string]Handler

// DefaultChecks returns the built-in handlers.
func DefaultChecks() Checks {
	return Checks{
		KindBannedCalls:        checkBannedCalls,
		KindAllocBalance:       checkAllocBalance,
		KindNullCheck:          checkNullCheck,
		KindLoopAlloc:          checkLoopAlloc,
		KindFunctionComplexity: checkFunctionComplexity,
		KindFunctionLength:     checkFunctionLength,
		KindLineLength:         checkLineLength,
		KindMagicNumber:        checkMagicNumber,
		KindGlobalVars:         checkGlobalVars,
		KindCommentDensity:     checkCommentDensity,
		KindPattern:            checkPattern,
		KindExternalTool:       checkExternalTool,
		KindSemantic:           checkSemantic,
	}
}

// Has reports whether kind is registered.
func (c Checks) Has(kind string) bool {
	_, ok := c[kind]
	return ok
}

// With returns a copy of c with h registered under kind.
func (c Checks) With(kind string, h Handler) Checks {
	out := make(Checks, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[kind] = h
	return out
}

// Kinds returns the registered kinds, sorted.
func (c Checks) Kinds() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewFinding builds a finding for r at line and column of the segment's
// file. Line 0 means the finding is about the file as a whole.
func NewFinding(r Rule, seg Segment, line, col int, msg string) model.Finding {
	m := seg.Model()
	f := model.Finding{
		File:         seg.File.Path,
		Line:         line,
		Column:       col,
		RuleID:       r.ID,
		Category:     r.Category,
		Severity:     r.Severity,
		Message:      msg,
		Suggestion:   r.Suggestion,
		FixedExample: r.FixedExample,
		Source:       r.Check.Kind,
	}
	if seg.Function != nil {
		f.Function = seg.Function.Name
	} else if fn, ok := m.FunctionAt(line); ok && line > 0 {
		f.Function = fn.Name
	}
	if line > 0 {
		f.Excerpt = strings.TrimSpace(m.Line(line))
	}
	return f.WithID()
}

// messageFor returns the rule's own message, with %s replaced by subject,
// or fallback when the rule has none.
func messageFor(r Rule, subject, fallback string) string {
	if r.Check.Message == "" {
		return fallback
	}
	return strings.Replace(r.Check.Message, "%s", subject, 1)
}

func thresholdOf(r Rule, def int) int {
	if r.Check.Threshold > 0 {
		return r.Check.Threshold
	}
	return def
}
