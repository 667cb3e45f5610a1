package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// callsIn returns the call sites of names that fall inside the segment.
func callsIn(seg Segment, names ...string) []cparse.CallSite {
	var out []cparse.CallSite
	for _, c := range seg.Model().CallsTo(names...) {
		if !seg.Lines.Contains(c.Line) {
			continue
		}
		if seg.Function != nil && c.Function != seg.Function.Name {
			continue
		}
		out = append(out, c)
	}
	return out
}

func checkBannedCalls(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	names := r.Check.Calls
	if len(names) == 0 {
		for n := range cparse.UnsafeCalls {
			names = append(names, n)
		}
		sort.Strings(names)
	}

	var out []model.Finding
	for _, c := range callsIn(seg, names...) {
		msg := messageFor(r, c.Name, fmt.Sprintf("call to %s does not bound the destination buffer", c.Name))
		f := NewFinding(r, seg, c.Line, c.Column, msg)
		if alt, ok := r.Check.Alternatives[c.Name]; ok {
			f.Suggestion = alt
		} else if alt, ok := cparse.Alternative(c.Name); ok {
			f.Suggestion = "use " + alt
		}
		out = append(out, f)
	}
	return out, nil
}

func checkAllocBalance(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	var bal cparse.AllocBalance
	for _, c := range callsIn(seg, cparse.AllocCalls...) {
		bal.Allocs++
		bal.AllocLines = append(bal.AllocLines, c.Line)
	}
	for _, c := range callsIn(seg, cparse.ReleaseCalls...) {
		bal.Releases++
		bal.ReleaseLines = append(bal.ReleaseLines, c.Line)
	}
	if !bal.Imbalanced() {
		return nil, nil
	}
	msg := fmt.Sprintf("allocations and releases %s: %d allocation site(s) but %d release site(s), possible leak (approximate)",
		bal, bal.Allocs, bal.Releases)
	return []model.Finding{NewFinding(r, seg, bal.AllocLines[0], 0, messageFor(r, bal.String(), msg))}, nil
}

var (
	checkedAllocs = []string{"malloc", "calloc", "realloc", "strdup", "strndup"}
	spaceRe       = regexp.MustCompile(`\s+`)
	assignRe      = regexp.MustCompile(`([A-Za-z_]\w*(?:\s*(?:->|\.)\s*[A-Za-z_]\w*)*)\s*=\s*(?:\([^()]*\)\s*)?(?:malloc|calloc|realloc|strdup|strndup)\s*\(`)
)

// nullCheckWindow is how many lines after an allocation may hold its check.
const nullCheckWindow = 4

func nullCheckRe(v string) *regexp.Regexp {
	q := regexp.QuoteMeta(v)
	return regexp.MustCompile(fmt.Sprintf(
		`\b%[1]s\s*[!=]=\s*(?:NULL|0)\b|\b(?:NULL|0)\s*[!=]=\s*%[1]s\b|!\s*\(?\s*%[1]s\b|\b(?:if|while)\s*\(\s*%[1]s\s*(?:\)|&&|\|\|)|(?:&&|\|\|)\s*%[1]s\s*(?:\)|&&|\|\|)|\(\s*%[1]s\s*=[^=].*\)\s*[!=]=\s*(?:NULL|0)\b|\bassert\s*\(\s*%[1]s\b|\breturn\s+%[1]s\s*;`, q))
}

func checkNullCheck(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	m := seg.Model()
	var out []model.Finding
	for _, c := range callsIn(seg, checkedAllocs...) {
		match := assignRe.FindStringSubmatch(m.CodeLine(c.Line))
		if match == nil {
			continue
		}
		v := spaceRe.ReplaceAllString(match[1], "")
		re := nullCheckRe(v)

		checked := false
		for l := c.Line; l <= c.Line+nullCheckWindow && l <= seg.Lines.End; l++ {
			if re.MatchString(m.CodeLine(l)) {
				checked = true
				break
			}
		}
		if !checked {
			msg := messageFor(r, v, fmt.Sprintf("result of %s assigned to %s is not checked for NULL", c.Name, v))
			out = append(out, NewFinding(r, seg, c.Line, c.Column, msg))
		}
	}
	return out, nil
}

var loopRe = regexp.MustCompile(`\b(?:for|while|do)\b`)

// loopLines returns the lines of fn that sit inside a loop body, including
// the loop header and single-statement bodies without braces.
func loopLines(m *cparse.SourceModel, fn *cparse.FunctionInfo) map[int]bool {
	in := make(map[int]bool)
	depth, parens := 0, 0
	var open []int // brace depths of loop bodies
	pending := false
	for l := fn.StartLine; l <= fn.EndLine; l++ {
		code := m.CodeLine(l)
		header := loopRe.MatchString(code)
		if len(open) > 0 || pending || header {
			in[l] = true
		}
		if header {
			pending = true
		}
		for _, ch := range code {
			switch ch {
			case '(':
				parens++
			case ')':
				if parens > 0 {
					parens--
				}
			case '{':
				depth++
				if pending {
					open = append(open, depth)
					pending = false
				}
			case '}':
				if n := len(open); n > 0 && open[n-1] == depth {
					open = open[:n-1]
				}
				depth--
			case ';':
				if pending && parens == 0 {
					pending = false
				}
			}
		}
	}
	return in
}

func checkLoopAlloc(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	m := seg.Model()
	var out []model.Finding
	for _, fn := range seg.functions() {
		loops := loopLines(m, fn)
		for _, c := range m.CallsTo(cparse.AllocCalls...) {
			if c.Function != fn.Name || !seg.Lines.Contains(c.Line) || !loops[c.Line] {
				continue
			}
			msg := messageFor(r, c.Name, fmt.Sprintf("%s called inside a loop", c.Name))
			out = append(out, NewFinding(r, seg, c.Line, c.Column, msg))
		}
	}
	return out, nil
}

func checkFunctionComplexity(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	limit := thresholdOf(r, 10)
	var out []model.Finding
	for _, fn := range seg.functions() {
		if fn.Complexity > limit {
			msg := messageFor(r, fn.Name, fmt.Sprintf("function %s has cyclomatic complexity %d (limit %d)", fn.Name, fn.Complexity, limit))
			out = append(out, NewFinding(r, seg, fn.StartLine, 0, msg))
		}
	}
	return out, nil
}

func checkFunctionLength(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	limit := thresholdOf(r, 50)
	var out []model.Finding
	for _, fn := range seg.functions() {
		if fn.Lines() > limit {
			msg := messageFor(r, fn.Name, fmt.Sprintf("function %s is %d lines long (limit %d)", fn.Name, fn.Lines(), limit))
			out = append(out, NewFinding(r, seg, fn.StartLine, 0, msg))
		}
	}
	return out, nil
}

func checkLineLength(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	limit := thresholdOf(r, 120)
	m := seg.Model()
	var out []model.Finding
	for l := seg.Lines.Start; l <= seg.Lines.End; l++ {
		if n := utf8.RuneCountInString(m.Line(l)); n > limit {
			msg := messageFor(r, strconv.Itoa(n), fmt.Sprintf("line is %d characters long (limit %d)", n, limit))
			out = append(out, NewFinding(r, seg, l, limit+1, msg))
		}
	}
	return out, nil
}

var numberRe = regexp.MustCompile(`(?:^|[^\w.])(\d+)(?:[^\w.]|$)`)

func checkMagicNumber(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	limit := thresholdOf(r, 10)
	m := seg.Model()
	var out []model.Finding
	for l := seg.Lines.Start; l <= seg.Lines.End; l++ {
		code := m.CodeLine(l)
		for _, idx := range numberRe.FindAllStringSubmatchIndex(code, -1) {
			lit := code[idx[2]:idx[3]]
			v, err := strconv.Atoi(lit)
			if err != nil || v <= limit {
				continue
			}
			msg := messageFor(r, lit, fmt.Sprintf("magic number %s", lit))
			out = append(out, NewFinding(r, seg, l, idx[2]+1, msg))
			break
		}
	}
	return out, nil
}

func checkGlobalVars(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	var out []model.Finding
	for _, g := range seg.Model().Globals {
		if g.Static || g.Const || g.Extern || !seg.Lines.Contains(g.Line) {
			continue
		}
		msg := messageFor(r, g.Name, fmt.Sprintf("global variable %s is mutable and visible to other files", g.Name))
		out = append(out, NewFinding(r, seg, g.Line, 0, msg))
	}
	return out, nil
}

func checkCommentDensity(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	limit := thresholdOf(r, 20)
	m := seg.Model()
	if m.Lines <= limit || m.CommentLines > 0 {
		return nil, nil
	}
	msg := messageFor(r, strconv.Itoa(m.Lines), fmt.Sprintf("%d lines without a single comment", m.Lines))
	return []model.Finding{NewFinding(r, seg, 0, 0, msg)}, nil
}

// checkPattern matches a regexp against the code view, one finding per
// matching line.
func checkPattern(_ context.Context, _ Env, r Rule, seg Segment) ([]model.Finding, error) {
	re, err := r.Check.Regexp()
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", r.Check.Pattern, err)
	}
	m := seg.Model()
	var out []model.Finding
	for l := seg.Lines.Start; l <= seg.Lines.End; l++ {
		loc := re.FindStringIndex(m.CodeLine(l))
		if loc == nil {
			continue
		}
		out = append(out, NewFinding(r, seg, l, loc[0]+1, messageFor(r, r.Title, r.Title)))
	}
	return out, nil
}

func checkExternalTool(ctx context.Context, env Env, r Rule, seg Segment) ([]model.Finding, error) {
	name := r.Check.Capability
	if name == "" {
		name = capability.Cppcheck
	}
	req := capability.Request{
		Path:     seg.File.Path,
		Language: seg.File.Language,
		Source:   seg.Model().Source(),
	}
	return invoke(ctx, env, name, req, r, seg)
}

func checkSemantic(ctx context.Context, env Env, r Rule, seg Segment) ([]model.Finding, error) {
	name := r.Check.Capability
	if name == "" {
		name = capability.LLM
	}
	prompt := r.Description
	if prompt == "" {
		prompt = r.Title
	}
	req := capability.Request{
		Path:      seg.File.Path,
		Language:  seg.File.Language,
		Fragment:  seg.Text(),
		StartLine: seg.Lines.Start,
		Prompt:    prompt,
	}
	return invoke(ctx, env, name, req, r, seg)
}

// invoke calls a capability and turns its observations inside the segment
// into findings. Observation severities override the rule's when valid.
func invoke(ctx context.Context, env Env, name string, req capability.Request, r Rule, seg Segment) ([]model.Finding, error) {
	if env.Caps == nil {
		return nil, capability.Unavailable(name, "no capabilities configured")
	}
	resp, err := env.Caps.Invoke(ctx, name, req).Unpack()
	if err != nil {
		return nil, err
	}

	var out []model.Finding
	for _, o := range resp.Observations {
		if o.Line > 0 && !seg.Lines.Contains(o.Line) {
			continue
		}
		if o.Line == 0 && seg.Function != nil {
			continue
		}
		msg := o.Message
		if o.ID != "" {
			msg = fmt.Sprintf("[%s] %s", o.ID, o.Message)
		}
		f := NewFinding(r, seg, o.Line, o.Column, msg)
		if sev, err := model.ParseSeverity(o.Severity); err == nil && sev != model.SeverityUnknown {
			f.Severity = sev
		}
		f.Source = name
		out = append(out, f)
	}
	return out, nil
}
