package rules

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/model"
)

const handlerSource = `#include <stdlib.h>
#include <string.h>

int g_state;
static int s_hidden;

void copy_name(char *dst, const char *src) {
    strcpy(dst, src);
}

char *make(int n) {
    char *a = malloc(n);
    char *b = malloc(n);
    if (b == NULL) {
        return NULL;
    }
    char *c = strdup("x");
    if (!c) return NULL;
    free(b);
    for (int i = 0; i < n; i++) {
        char *tmp = malloc(16);
        free(tmp);
    }
    return a;
}
`

const leakSource = `#include <stdlib.h>

void leak(void) {
    char *a = malloc(1);
    char *b = malloc(2);
    char *c = malloc(3);
    free(a);
}
`

func runCheck(t *testing.T, kind string, r Rule, seg Segment, env Env) []model.Finding {
	t.Helper()
	h, ok := DefaultChecks()[kind]
	require.True(t, ok, "check %s not registered", kind)
	r.Check.Kind = kind
	out, err := h(context.Background(), env, r, seg)
	require.NoError(t, err)
	return out
}

func lines(fs []model.Finding) []int {
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Line
	}
	return out
}

func function(t *testing.T, fc *FileContext, name string) Segment {
	t.Helper()
	for i := range fc.Model.Functions {
		if fc.Model.Functions[i].Name == name {
			return FunctionSegment(fc, &fc.Model.Functions[i])
		}
	}
	t.Fatalf("function %s not found", name)
	return Segment{}
}

func TestBannedCalls(t *testing.T) {
	fc := fileContext("src/copy.c", handlerSource)
	r := validRule("SEC-001")
	r.Category = model.CategorySecurity
	r.Severity = model.SeverityCritical
	r.Check.Calls = []string{"strcpy"}

	out := runCheck(t, KindBannedCalls, r, function(t, fc, "copy_name"), Env{})
	require.Len(t, out, 1)
	f := out[0]
	assert.Equal(t, 8, f.Line)
	assert.Equal(t, 5, f.Column)
	assert.Equal(t, "copy_name", f.Function)
	assert.Equal(t, model.CategorySecurity, f.Category)
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assert.Equal(t, "strcpy(dst, src);", f.Excerpt)
	assert.Contains(t, f.Suggestion, "strncpy")
	assert.NotEmpty(t, f.ID)

	assert.Empty(t, runCheck(t, KindBannedCalls, r, function(t, fc, "make"), Env{}))
}

func TestAllocBalance(t *testing.T) {
	fc := fileContext("leak.c", leakSource)
	r := validRule("MEM-001")
	r.Category = model.CategoryMemory

	out := runCheck(t, KindAllocBalance, r, FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Line)
	assert.Contains(t, out[0].Message, "(3, 1)")
	assert.Contains(t, out[0].Message, "approximate")

	balanced := fileContext("ok.c", "#include <stdlib.h>\nvoid f(void) {\n    char *p = malloc(1);\n    free(p);\n}\n")
	assert.Empty(t, runCheck(t, KindAllocBalance, r, FileSegment(balanced), Env{}))
}

func TestNullCheck(t *testing.T) {
	fc := fileContext("make.c", handlerSource)
	out := runCheck(t, KindNullCheck, validRule("MEM-002"), function(t, fc, "make"), Env{})
	assert.Equal(t, []int{12, 21}, lines(out))
	assert.Contains(t, out[0].Message, "malloc")
	assert.Contains(t, out[0].Message, " a ")

	checked := fileContext("ok.c", `#include <stdlib.h>
int f(struct s *st) {
    if ((st->buf = malloc(8)) == NULL)
        return -1;
    char *q = calloc(1, 8);
    assert(q);
    return 0;
}
`)
	assert.Empty(t, runCheck(t, KindNullCheck, validRule("MEM-002"), function(t, checked, "f"), Env{}))
}

func TestLoopAlloc(t *testing.T) {
	fc := fileContext("make.c", handlerSource)
	out := runCheck(t, KindLoopAlloc, validRule("PERF-001"), function(t, fc, "make"), Env{})
	assert.Equal(t, []int{21}, lines(out))

	single := fileContext("s.c", `#include <stdlib.h>
void g(char **v, int n) {
    while (n--)
        v[n] = malloc(1);
    char *after = malloc(1);
    do { v[0] = malloc(2); } while (0);
}
`)
	out = runCheck(t, KindLoopAlloc, validRule("PERF-001"), FileSegment(single), Env{})
	assert.Equal(t, []int{4, 6}, lines(out))
}

func TestFunctionMetrics(t *testing.T) {
	var b strings.Builder
	b.WriteString("int big(int x) {\n")
	for i := 0; i < 12; i++ {
		b.WriteString("    if (x) x--;\n")
	}
	b.WriteString("    return x;\n}\n")
	fc := fileContext("big.c", b.String())

	r := validRule("QUAL-001")
	out := runCheck(t, KindFunctionComplexity, r, FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Line)
	assert.Equal(t, "big", out[0].Function)
	assert.Contains(t, out[0].Message, "complexity 13")

	r.Check.Threshold = 20
	assert.Empty(t, runCheck(t, KindFunctionComplexity, r, FileSegment(fc), Env{}))

	r = validRule("QUAL-002")
	r.Check.Threshold = 10
	out = runCheck(t, KindFunctionLength, r, FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Message, "15 lines")
}

func TestLineLengthAndMagicNumbers(t *testing.T) {
	src := "int f(void) {\n    return 7 + 42 + 0x1F + 3.5;\n}\n// " + strings.Repeat("x", 130) + "\n"
	fc := fileContext("m.c", src)

	out := runCheck(t, KindLineLength, validRule("QUAL-003"), FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Line)
	assert.Equal(t, 121, out[0].Column)

	out = runCheck(t, KindMagicNumber, validRule("QUAL-004"), FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Line)
	assert.Equal(t, "magic number 42", out[0].Message)
}

func TestGlobalsAndComments(t *testing.T) {
	fc := fileContext("g.c", handlerSource)
	out := runCheck(t, KindGlobalVars, validRule("QUAL-005"), FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Line)
	assert.Contains(t, out[0].Message, "g_state")

	r := validRule("QUAL-007")
	r.Check.Message = "%s is defined in a header"
	out = runCheck(t, KindGlobalVars, r, FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, "g_state is defined in a header", out[0].Message)

	out = runCheck(t, KindCommentDensity, validRule("QUAL-006"), FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Line)

	commented := fileContext("c.c", "/* doc */\n"+handlerSource)
	assert.Empty(t, runCheck(t, KindCommentDensity, validRule("QUAL-006"), FileSegment(commented), Env{}))
}

func TestPatternHardCodedCredential(t *testing.T) {
	rs, err := Builtin().Rules()
	require.NoError(t, err)
	var cred Rule
	for _, r := range rs {
		if r.ID == "SEC-003" {
			cred = r
		}
	}
	fc := fileContext("src/auth/creds.c", `static const char *admin_password = "hunter2";
static const char *password_hint = NULL;
/* token = "in a comment"; */
`)
	out := runCheck(t, KindPattern, cred, FileSegment(fc), Env{})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Line)
	assert.Equal(t, "credential assigned from a string literal", out[0].Message)
}

func TestPatternCompiledPerSelector(t *testing.T) {
	fc := fileContext("src/auth/creds.c", `static const char *admin_password = "hunter2";`+"\n")
	pick := func(s *Selector) *regexp.Regexp {
		t.Helper()
		for _, r := range s.Select(fc) {
			if r.ID == "SEC-003" {
				re, err := r.Check.Regexp()
				require.NoError(t, err)
				return re
			}
		}
		t.Fatal("SEC-003 not selected")
		return nil
	}

	a := builtinSelector(t)
	assert.Same(t, pick(a), pick(a))
	assert.NotSame(t, pick(a), pick(builtinSelector(t)))

	loose := Check{Kind: KindPattern, Pattern: `password`}
	first, err := loose.Regexp()
	require.NoError(t, err)
	second, err := loose.Regexp()
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	_, err = Check{Pattern: `(`}.Regexp()
	assert.Error(t, err)
}

type stubInvoker struct {
	resp capability.Response
	err  error
	reqs []capability.Request
}

func (s *stubInvoker) Available(ctx context.Context, name string) bool { return s.err == nil }

func (s *stubInvoker) Invoke(ctx context.Context, name string, req capability.Request) fn.Result[capability.Response] {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return fn.Err[capability.Response](s.err)
	}
	return fn.Ok(s.resp)
}

func TestCapabilityChecks(t *testing.T) {
	fc := fileContext("make.c", handlerSource)
	inv := &stubInvoker{resp: capability.Response{Observations: []capability.Observation{
		{Line: 12, Severity: "high", ID: "memleak", Message: "Memory leak: a"},
		{Line: 8, Severity: "weird", Message: "outside the function"},
		{Line: 0, Message: "file level"},
	}}}

	r := validRule("TOOL-001")
	r.Severity = model.SeverityMedium
	r.Check.Capability = capability.Cppcheck

	out := runCheck(t, KindExternalTool, r, function(t, fc, "make"), Env{Caps: inv})
	require.Len(t, out, 1)
	assert.Equal(t, "[memleak] Memory leak: a", out[0].Message)
	assert.Equal(t, model.SeverityHigh, out[0].Severity)
	assert.Equal(t, capability.Cppcheck, out[0].Source)
	assert.Equal(t, handlerSource, inv.reqs[0].Source)

	out = runCheck(t, KindExternalTool, r, FileSegment(fc), Env{Caps: inv})
	require.Len(t, out, 3)
	assert.Equal(t, model.SeverityMedium, out[1].Severity)

	sem := validRule("LLM-001")
	sem.Description = "find logic errors"
	runCheck(t, KindSemantic, sem, function(t, fc, "copy_name"), Env{Caps: inv})
	last := inv.reqs[len(inv.reqs)-1]
	assert.Equal(t, 7, last.StartLine)
	assert.Equal(t, "find logic errors", last.Prompt)
	assert.True(t, strings.HasPrefix(last.Fragment, "void copy_name("))

	_, err := checkSemantic(context.Background(), Env{}, sem, FileSegment(fc))
	assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)

	down := &stubInvoker{err: capability.Unavailable(capability.LLM, "off")}
	_, err = checkSemantic(context.Background(), Env{Caps: down}, sem, FileSegment(fc))
	assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)
}
