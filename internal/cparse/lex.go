package cparse

import (
	"sort"
	"strings"
)

// class is the lexical role of a single source byte.
type class uint8

const (
	classCode class = iota
	classComment
	classLiteral
	classDirective
)

// Degradation records a construct the analyzer could not fully resolve.
type Degradation struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// directive is a preprocessor line span, continuations included.
type directive struct {
	start, end int // byte offsets, end exclusive
}

type lexed struct {
	src        string
	cls        []class
	lineStarts []int
	directives []directive
	degraded   []Degradation
}

// lex classifies every byte of src. Comments, string and character literals
// and preprocessor directives are told apart from code so later scans can
// count braces and tokens on code bytes only. Newlines always stay code.
func lex(src string) *lexed {
	lx := &lexed{
		src:        src,
		cls:        make([]class, len(src)),
		lineStarts: lineStarts(src),
	}

	atLineStart := true
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			atLineStart = true
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i = lx.blockComment(i)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			i = lx.lineComment(i)
		case c == '"' || c == '\'':
			atLineStart = false
			i = lx.literal(i, classLiteral)
		case c == '#' && atLineStart:
			i = lx.directive(i)
			atLineStart = true
		default:
			if c != ' ' && c != '\t' && c != '\r' && c != '\f' && c != '\v' {
				atLineStart = false
			}
			i++
		}
	}
	return lx
}

func lineStarts(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (lx *lexed) mark(from, to int, cl class) {
	for k := from; k < to && k < len(lx.cls); k++ {
		if lx.src[k] != '\n' {
			lx.cls[k] = cl
		}
	}
}

func (lx *lexed) degrade(offset int, reason string) {
	lx.degraded = append(lx.degraded, Degradation{Line: lx.lineOf(offset), Reason: reason})
}

// blockComment marks /* ... */ starting at i and returns the offset after it.
func (lx *lexed) blockComment(i int) int {
	end := strings.Index(lx.src[i+2:], "*/")
	if end < 0 {
		lx.mark(i, len(lx.src), classComment)
		lx.degrade(i, "unterminated block comment")
		return len(lx.src)
	}
	stop := i + 2 + end + 2
	lx.mark(i, stop, classComment)
	return stop
}

// lineComment marks // ... up to a newline that is not escaped.
func (lx *lexed) lineComment(i int) int {
	k := i + 2
	for k < len(lx.src) {
		if lx.src[k] == '\n' && !continued(lx.src, k) {
			break
		}
		k++
	}
	lx.mark(i, k, classComment)
	return k
}

// continued reports whether the newline at k is escaped by a backslash,
// with or without a carriage return in between.
func continued(src string, k int) bool {
	p := k - 1
	if p >= 0 && src[p] == '\r' {
		p--
	}
	return p >= 0 && src[p] == '\\'
}

// literal marks a string or character literal opened at i. An unescaped
// newline before the closing quote ends the literal and degrades the parse.
func (lx *lexed) literal(i int, cl class) int {
	quote := lx.src[i]
	k := i + 1
	for k < len(lx.src) {
		switch lx.src[k] {
		case '\\':
			k += 2
			continue
		case quote:
			lx.mark(i, k+1, cl)
			return k + 1
		case '\n':
			lx.mark(i, k, cl)
			if cl == classLiteral {
				lx.degrade(i, "unterminated literal")
			}
			return k
		}
		k++
	}
	lx.mark(i, len(lx.src), cl)
	if cl == classLiteral {
		lx.degrade(i, "unterminated literal")
	}
	return len(lx.src)
}

// directive marks a preprocessor line and its continuations. Comments inside
// the directive keep their own class.
func (lx *lexed) directive(i int) int {
	start := i
	k := i
	for k < len(lx.src) {
		c := lx.src[k]
		switch {
		case c == '\n':
			if k > 0 && lx.src[k-1] == '\\' {
				k++
				continue
			}
			lx.directives = append(lx.directives, directive{start: start, end: k})
			return k
		case c == '/' && k+1 < len(lx.src) && lx.src[k+1] == '*':
			k = lx.blockComment(k)
			continue
		case c == '/' && k+1 < len(lx.src) && lx.src[k+1] == '/':
			k = lx.lineComment(k)
			continue
		case c == '"' || c == '\'':
			k = lx.literal(k, classDirective)
			continue
		}
		lx.cls[k] = classDirective
		k++
	}
	lx.directives = append(lx.directives, directive{start: start, end: len(lx.src)})
	return len(lx.src)
}

// view returns src with every byte outside keep replaced by a space.
// Newlines are preserved so offsets and line numbers stay aligned.
func (lx *lexed) view(keep func(class) bool) string {
	b := []byte(lx.src)
	for k := range b {
		if b[k] == '\n' {
			continue
		}
		if !keep(lx.cls[k]) {
			b[k] = ' '
		}
	}
	return string(b)
}

// code returns the code-only view.
func (lx *lexed) code() string {
	return lx.view(func(c class) bool { return c == classCode })
}

// directiveText returns the raw text of d with comments blanked and line
// continuations joined.
func (lx *lexed) directiveText(d directive) string {
	b := []byte(lx.src[d.start:d.end])
	for k := range b {
		if lx.cls[d.start+k] == classComment && b[k] != '\n' {
			b[k] = ' '
		}
	}
	s := strings.ReplaceAll(string(b), "\\\r\n", " ")
	return strings.ReplaceAll(s, "\\\n", " ")
}

// commentLines counts the lines holding at least one comment byte.
func (lx *lexed) commentLines() int {
	n := 0
	last := 0
	for k, c := range lx.cls {
		if c != classComment {
			continue
		}
		line := lx.lineOf(k)
		if line != last {
			n++
			last = line
		}
	}
	return n
}

// lineOf maps a byte offset to a 1-based line number.
func (lx *lexed) lineOf(offset int) int {
	return sort.Search(len(lx.lineStarts), func(i int) bool { return lx.lineStarts[i] > offset })
}

// columnOf maps a byte offset to a 1-based column.
func (lx *lexed) columnOf(offset int) int {
	line := lx.lineOf(offset)
	return offset - lx.lineStarts[line-1] + 1
}
