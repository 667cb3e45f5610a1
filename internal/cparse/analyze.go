package cparse

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	includeRe = regexp.MustCompile(`^\s*#\s*include\s*([<"])([^>"]*)[>"]`)
	defineRe  = regexp.MustCompile(`(?s)^\s*#\s*define\s+([A-Za-z_]\w*)(\(([^)]*)\))?(.*)$`)
)

// Analyze builds the structural model of one C source file. It never fails:
// constructs it cannot resolve are recorded in Degradations and the model
// returned may be partial.
func Analyze(source string) (m *SourceModel) {
	lx := lex(source)
	m = &SourceModel{
		src:        source,
		code:       lx.code(),
		lineStarts: lx.lineStarts,
	}
	if source != "" {
		m.Lines = len(lx.lineStarts)
	}

	defer func() {
		if r := recover(); r != nil {
			lx.degrade(len(source), fmt.Sprintf("analysis aborted: %v", r))
		}
		sort.SliceStable(lx.degraded, func(i, j int) bool { return lx.degraded[i].Line < lx.degraded[j].Line })
		m.Degradations = lx.degraded
	}()

	s := &scanner{lx: lx, code: m.code, m: m}
	s.run()
	directives(lx, m)
	m.CommentLines = lx.commentLines()
	detectIssues(m)
	return m
}

// directives parses #include and #define lines.
func directives(lx *lexed, m *SourceModel) {
	for _, d := range lx.directives {
		text := lx.directiveText(d)
		line := lx.lineOf(d.start)

		if sm := includeRe.FindStringSubmatch(text); sm != nil {
			m.Includes = append(m.Includes, IncludeInfo{
				Path:   strings.TrimSpace(sm[2]),
				Line:   line,
				System: sm[1] == "<",
			})
			continue
		}
		if sm := defineRe.FindStringSubmatch(text); sm != nil {
			mi := MacroInfo{
				Name:         sm[1],
				Value:        normalize(sm[4]),
				Line:         line,
				FunctionLike: sm[2] != "",
			}
			if mi.FunctionLike {
				mi.Params = splitParams(sm[3])
			}
			m.Macros = append(m.Macros, mi)
		}
	}
}
