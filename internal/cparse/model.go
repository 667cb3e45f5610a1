// Package cparse derives structural facts from C source text without a
// compiler front end. It is pattern based and tolerant of partial or
// non-compiling input: anything it cannot resolve is recorded as a
// Degradation instead of aborting.
package cparse

import (
	"strings"
)

// FunctionInfo describes one function definition. Spans are line based,
// so two definitions on one line share it: the first one's EndLine equals
// the second one's StartLine.
type FunctionInfo struct {
	Name       string   `json:"name"`
	ReturnType string   `json:"return_type,omitempty"`
	Params     []string `json:"params,omitempty"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Body       string   `json:"-"`
	Complexity int      `json:"complexity"`
	MaxNesting int      `json:"max_nesting"`
	Degraded   bool     `json:"degraded,omitempty"` // body runs to end of file

	start, end int // byte span, header through closing brace
	bodyStart  int
}

// Lines returns the number of lines the function spans.
func (f FunctionInfo) Lines() int {
	return f.EndLine - f.StartLine + 1
}

// Member is a struct or union field.
type Member struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Pointer bool   `json:"pointer,omitempty"`
	Array   bool   `json:"array,omitempty"`
}

// StructInfo describes a struct or union body.
type StructInfo struct {
	Name      string   `json:"name"`          // typedef name, else the tag
	Tag       string   `json:"tag,omitempty"` // empty for anonymous bodies
	Typedef   bool     `json:"typedef,omitempty"`
	Union     bool     `json:"union,omitempty"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Members   []Member `json:"members,omitempty"`
}

// MacroInfo describes a #define.
type MacroInfo struct {
	Name         string   `json:"name"`
	Params       []string `json:"params,omitempty"`
	Value        string   `json:"value,omitempty"`
	Line         int      `json:"line"`
	FunctionLike bool     `json:"function_like,omitempty"`
}

// IncludeInfo describes an #include.
type IncludeInfo struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	System bool   `json:"system"` // <...> rather than "..."
}

// GlobalVarInfo describes a file-scope variable declaration.
type GlobalVarInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Line    int    `json:"line"`
	Static  bool   `json:"static,omitempty"`
	Extern  bool   `json:"extern,omitempty"`
	Const   bool   `json:"const,omitempty"`
	Pointer bool   `json:"pointer,omitempty"`
	Array   bool   `json:"array,omitempty"`
}

// CallSite is a call expression inside a function body.
type CallSite struct {
	Name     string `json:"name"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Function string `json:"function"`
}

// SourceModel is the structural view of one C file. It is built once by
// Analyze and only read afterwards, so it is safe for concurrent use.
type SourceModel struct {
	Lines        int             `json:"lines"`
	Functions    []FunctionInfo  `json:"functions"`
	Structs      []StructInfo    `json:"structs,omitempty"`
	Macros       []MacroInfo     `json:"macros,omitempty"`
	Includes     []IncludeInfo   `json:"includes,omitempty"`
	Globals      []GlobalVarInfo `json:"globals,omitempty"`
	Calls        []CallSite      `json:"-"`
	Issues       []Issue         `json:"issues,omitempty"`
	Alloc        AllocBalance    `json:"alloc"`
	CommentLines int             `json:"comment_lines"`
	Degradations []Degradation   `json:"degradations,omitempty"`

	src        string
	code       string
	lineStarts []int
}

// Degraded reports whether any construct could not be fully resolved.
func (m *SourceModel) Degraded() bool {
	return len(m.Degradations) > 0
}

// Source returns the raw text the model was built from.
func (m *SourceModel) Source() string { return m.src }

// Code returns the source with comments, literals and preprocessor lines
// blanked out. Offsets and line numbers match Source.
func (m *SourceModel) Code() string { return m.code }

// Line returns raw line n (1-based) without its newline.
func (m *SourceModel) Line(n int) string {
	return m.slice(m.src, n)
}

// CodeLine returns line n of the code view.
func (m *SourceModel) CodeLine(n int) string {
	return m.slice(m.code, n)
}

func (m *SourceModel) slice(s string, n int) string {
	if n < 1 || n > m.Lines {
		return ""
	}
	start := m.lineStarts[n-1]
	end := len(s)
	if n < len(m.lineStarts) {
		end = m.lineStarts[n] - 1
	}
	return strings.TrimRight(s[start:end], "\r\n")
}

// FunctionAt returns the function whose span covers line. On a line shared
// by two definitions the later one wins.
func (m *SourceModel) FunctionAt(line int) (*FunctionInfo, bool) {
	for i := len(m.Functions) - 1; i >= 0; i-- {
		f := &m.Functions[i]
		if line >= f.StartLine && line <= f.EndLine {
			return f, true
		}
	}
	return nil, false
}

// MaxComplexity returns the highest function complexity, 0 without functions.
func (m *SourceModel) MaxComplexity() int {
	max := 0
	for _, f := range m.Functions {
		if f.Complexity > max {
			max = f.Complexity
		}
	}
	return max
}

// MeanComplexity returns the mean function complexity, 0 without functions.
func (m *SourceModel) MeanComplexity() float64 {
	if len(m.Functions) == 0 {
		return 0
	}
	sum := 0
	for _, f := range m.Functions {
		sum += f.Complexity
	}
	return float64(sum) / float64(len(m.Functions))
}

// CallsTo returns the call sites of any of the given function names, in
// source order.
func (m *SourceModel) CallsTo(names ...string) []CallSite {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []CallSite
	for _, c := range m.Calls {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
