package rules

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sprite-ai/crev/internal/model"
)

const copySource = `#include <string.h>

void copy_name(char *dst, const char *src) {
    strcpy(dst, src);
}
`

func builtinSelector(t *testing.T) *Selector {
	t.Helper()
	rs, err := Builtin().Rules()
	require.NoError(t, err)
	s, err := NewSelector(rs, DefaultChecks())
	require.NoError(t, err)
	return s
}

func TestSelectBuiltin(t *testing.T) {
	s := builtinSelector(t)
	fc := fileContext("src/net/copy.c", copySource)

	assert.Equal(t, []string{
		"SEC-001",
		"MEM-002",
		"LLM-001", "PERF-001", "QUAL-001", "TOOL-001",
		"QUAL-002", "QUAL-003", "QUAL-004", "QUAL-005", "QUAL-006",
	}, ids(s.Select(fc)))
}

func TestSelectStrictness(t *testing.T) {
	s := builtinSelector(t)

	low := fileContext("src/net/copy.c", copySource, func(in *FileInput) { in.Profile.Strictness = StrictnessLow })
	assert.Equal(t, []string{"SEC-001", "MEM-002"}, ids(s.Select(low)))

	medium := fileContext("src/net/copy.c", copySource, func(in *FileInput) { in.Profile.Strictness = StrictnessMedium })
	assert.Equal(t, []string{"SEC-001", "MEM-002", "LLM-001", "PERF-001", "QUAL-001", "TOOL-001"}, ids(s.Select(medium)))
}

func TestSelectConditional(t *testing.T) {
	s := builtinSelector(t)
	fc := fileContext("src/auth/check.c", copySource, func(in *FileInput) {
		in.CommitMessage = "HOTFIX token leak"
		in.Profile.Strictness = StrictnessLow
	})
	assert.Equal(t, []string{"SEC-001", "MEM-002", "SEC-003", "SEC-004"}, ids(s.Select(fc)))
}

func TestSelectSources(t *testing.T) {
	mk := func(id string, sev model.Severity, f func(*Rule)) Rule {
		r := validRule(id)
		r.Severity = sev
		r.Languages = nil
		f(&r)
		return r
	}
	rs := []Rule{
		mk("LANG", model.SeverityLow, func(r *Rule) { r.Languages = []string{"c"} }),
		mk("ANY", model.SeverityLow, func(r *Rule) { r.Languages = []string{"*"} }),
		mk("CPP", model.SeverityHigh, func(r *Rule) { r.Languages = []string{"c++"} }),
		mk("PATH", model.SeverityMedium, func(r *Rule) { r.PathContains = []string{"Drivers/"} }),
		mk("PROJ", model.SeverityCritical, func(r *Rule) { r.ProjectTypes = []string{"embedded_system"} }),
		mk("COND", model.SeverityHigh, func(r *Rule) { c := HasTag("irq"); r.When = &c }),
		mk("GLOB", model.SeverityHigh, func(r *Rule) {
			r.Languages = []string{"c"}
			r.PathGlobs = []string{"*.h"}
		}),
		mk("CONTENT", model.SeverityHigh, func(r *Rule) {
			r.Languages = []string{"c"}
			r.PathContains = []string{"uart"}
			r.Content = &ContentPredicate{Matches: `\bvolatile\b`}
		}),
		mk("BOTH", model.SeverityMedium, func(r *Rule) {
			r.Languages = []string{"c"}
			r.PathContains = []string{"uart"}
		}),
	}
	s, err := NewSelector(rs, DefaultChecks())
	require.NoError(t, err)

	fc := fileContext("drivers/uart.c", "volatile int reg;\n", func(in *FileInput) { in.Tags = []string{"IRQ"} })
	assert.Equal(t, []string{"PROJ", "COND", "CONTENT", "BOTH", "PATH", "ANY", "LANG"}, ids(s.Select(fc)))

	plain := fileContext("lib/util.c", "int x;\n", func(in *FileInput) { in.Profile.Type = "library" })
	assert.Equal(t, []string{"BOTH", "ANY", "LANG"}, ids(s.Select(plain)))

	header := fileContext("include/util.h", "int x;\n", func(in *FileInput) { in.Profile.Type = "library" })
	assert.Equal(t, []string{"GLOB", "BOTH", "ANY", "LANG"}, ids(s.Select(header)))

	_, err = NewSelector(append(rs, rs[0]), nil)
	assert.ErrorIs(t, err, model.ErrRepository)
}

func TestSelectDeterministic(t *testing.T) {
	s := builtinSelector(t)
	paths := []string{"main.c", "src/auth/login.c", "drivers/uart.h", "lib/crypto/aes.c", "include/config.h"}
	sources := []string{"", copySource, "#include <stdlib.h>\nvoid f(void) { char *p = malloc(4); }\n"}
	strictness := []Strictness{StrictnessLow, StrictnessMedium, StrictnessHigh}

	rapid.Check(t, func(t *rapid.T) {
		path := rapid.SampledFrom(paths).Draw(t, "path")
		src := rapid.SampledFrom(sources).Draw(t, "src")
		st := rapid.SampledFrom(strictness).Draw(t, "strictness")
		tags := rapid.SliceOfN(rapid.SampledFrom([]string{"irq", "security", "net"}), 0, 3).Draw(t, "tags")
		msg := rapid.SampledFrom([]string{"", "hotfix: overflow", "refactor"}).Draw(t, "msg")

		fc := fileContext(path, src, func(in *FileInput) {
			in.Profile.Strictness = st
			in.Tags = tags
			in.CommitMessage = msg
		})

		first := s.Select(fc)
		second := s.Select(fc)
		if !assert.ObjectsAreEqual(ids(first), ids(second)) {
			t.Fatalf("selection not deterministic: %v vs %v", ids(first), ids(second))
		}

		seen := map[string]bool{}
		for _, r := range first {
			if seen[r.ID] {
				t.Fatalf("rule %s selected twice", r.ID)
			}
			seen[r.ID] = true
			if r.Severity < st.MinSeverity() {
				t.Fatalf("rule %s below strictness %s", r.ID, st)
			}
		}
		if !sort.SliceIsSorted(first, func(i, j int) bool {
			if first[i].Severity != first[j].Severity {
				return first[i].Severity > first[j].Severity
			}
			return first[i].ID < first[j].ID
		}) {
			t.Fatalf("selection not ordered: %v", ids(first))
		}
	})
}
