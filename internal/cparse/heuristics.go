package cparse

import (
	"fmt"
	"strings"
)

// IssueKind names a pattern-level heuristic.
type IssueKind string

const (
	IssueUnsafeCall     IssueKind = "unsafe-call"
	IssueAllocImbalance IssueKind = "alloc-imbalance"
)

// Issue is a heuristic signal raised by the analyzer itself, independent of
// any rule.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Line       int       `json:"line,omitempty"`
	Column     int       `json:"column,omitempty"`
	Function   string    `json:"function,omitempty"`
	Call       string    `json:"call,omitempty"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// UnsafeCalls maps copy and format functions that take no bound on the
// destination to their bounded replacements.
var UnsafeCalls = map[string]string{
	"strcpy":   "strncpy or strlcpy with the destination size",
	"strcat":   "strncat or strlcat with the remaining space",
	"sprintf":  "snprintf with the buffer size",
	"vsprintf": "vsnprintf with the buffer size",
	"gets":     "fgets with the buffer size",
}

// AllocCalls and ReleaseCalls feed the allocation/release balance.
var (
	AllocCalls   = []string{"malloc", "calloc", "strdup", "strndup"}
	ReleaseCalls = []string{"free"}
)

// AllocBalance counts allocation and release call sites in one file.
//
// It is a coarse signal, not a points-to or ownership analysis: memory freed
// through a helper or returned to the caller looks like a leak, and a double
// free can hide a real one. Treat it as a hint for a reviewer.
type AllocBalance struct {
	Allocs       int   `json:"allocs"`
	Releases     int   `json:"releases"`
	AllocLines   []int `json:"alloc_lines,omitempty"`
	ReleaseLines []int `json:"release_lines,omitempty"`
}

// Imbalanced reports whether allocation sites outnumber release sites.
func (a AllocBalance) Imbalanced() bool {
	return a.Allocs > a.Releases
}

func (a AllocBalance) String() string {
	return fmt.Sprintf("(%d, %d)", a.Allocs, a.Releases)
}

func detectIssues(m *SourceModel) {
	names := make([]string, 0, len(UnsafeCalls))
	for n := range UnsafeCalls {
		names = append(names, n)
	}
	for _, c := range m.CallsTo(names...) {
		m.Issues = append(m.Issues, Issue{
			Kind:       IssueUnsafeCall,
			Line:       c.Line,
			Column:     c.Column,
			Function:   c.Function,
			Call:       c.Name,
			Message:    fmt.Sprintf("%s does not bound the destination buffer", c.Name),
			Suggestion: "use " + UnsafeCalls[c.Name],
		})
	}

	for _, c := range m.CallsTo(AllocCalls...) {
		m.Alloc.Allocs++
		m.Alloc.AllocLines = append(m.Alloc.AllocLines, c.Line)
	}
	for _, c := range m.CallsTo(ReleaseCalls...) {
		m.Alloc.Releases++
		m.Alloc.ReleaseLines = append(m.Alloc.ReleaseLines, c.Line)
	}
	if m.Alloc.Imbalanced() {
		m.Issues = append(m.Issues, Issue{
			Kind: IssueAllocImbalance,
			Message: fmt.Sprintf("%d allocation site(s) but %d release site(s); possible leak (approximate)",
				m.Alloc.Allocs, m.Alloc.Releases),
			Suggestion: "check that every allocation is released on all paths",
		})
	}
}

// UnsafeCallIssues returns the unsafe-call issues in source order.
func (m *SourceModel) UnsafeCallIssues() []Issue {
	var out []Issue
	for _, is := range m.Issues {
		if is.Kind == IssueUnsafeCall {
			out = append(out, is)
		}
	}
	return out
}

// Alternative returns the bounded replacement for an unsafe call.
func Alternative(call string) (string, bool) {
	alt, ok := UnsafeCalls[strings.TrimSpace(call)]
	return alt, ok
}
