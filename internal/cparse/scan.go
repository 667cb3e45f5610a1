package cparse

import (
	"regexp"
	"strings"
)

// headerKind classifies the text preceding a file-scope '{'.
type headerKind int

const (
	headerOther headerKind = iota
	headerFunction
	headerStruct
	headerExtern
)

var (
	attributeRe  = regexp.MustCompile(`__attribute__\s*\(\(.*?\)\)`)
	structHeadRe = regexp.MustCompile(`^(typedef\s+)?(?:(?:static|const|volatile|extern)\s+)*(struct|union)(?:\s+([A-Za-z_]\w*))?$`)
	identTailRe  = regexp.MustCompile(`([A-Za-z_]\w*)\s*$`)
	wsRe         = regexp.MustCompile(`\s+`)
)

// keywords that can precede '(' but never name a function.
var notFunctions = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"sizeof": true, "do": true, "else": true, "case": true, "goto": true,
	"_Alignof": true, "_Generic": true, "_Static_assert": true, "typeof": true,
	"__typeof__": true, "__attribute__": true, "defined": true,
}

// scanner walks the code view at file scope, one statement at a time.
type scanner struct {
	lx   *lexed
	code string
	m    *SourceModel

	// set when a struct body was just closed, so the terminating ';' can
	// attach typedef names or declarators to it.
	pendingStruct int
	structStmt    int
	structEnd     int
}

func (s *scanner) run() {
	s.pendingStruct = -1
	externDepth := 0
	stmt := 0
	code := s.code

	for i := 0; i < len(code); i++ {
		switch code[i] {
		case ';':
			s.declaration(stmt, i)
			stmt = i + 1
		case '{':
			switch s.classify(code[stmt:i]) {
			case headerFunction:
				end, ok := s.function(stmt, i)
				if !ok {
					return
				}
				i = end
				stmt = end + 1
			case headerStruct:
				end, ok := s.structBody(stmt, i)
				if !ok {
					return
				}
				i = end
			case headerExtern:
				externDepth++
				stmt = i + 1
			default:
				end, ok := matchBrace(code, i)
				if !ok {
					s.lx.degrade(i, "unbalanced braces: block runs to end of file")
					return
				}
				i = end
			}
		case '}':
			if externDepth > 0 {
				externDepth--
			} else {
				s.lx.degrade(i, "unmatched closing brace")
			}
			stmt = i + 1
		}
	}
}

// matchBrace returns the offset of the '}' closing the '{' at open.
func matchBrace(code string, open int) (int, bool) {
	depth := 0
	for k := open; k < len(code); k++ {
		switch code[k] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return k, true
			}
		}
	}
	return len(code) - 1, false
}

func normalize(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func (s *scanner) classify(header string) headerKind {
	h := normalize(attributeRe.ReplaceAllString(header, " "))
	switch {
	case h == "":
		return headerOther
	case strings.Contains(h, "="):
		return headerOther
	case h == "extern":
		// extern "C" with the literal already blanked
		return headerExtern
	case structHeadRe.MatchString(h):
		return headerStruct
	}
	if _, _, _, ok := splitDeclarator(h); ok {
		return headerFunction
	}
	return headerOther
}

// splitDeclarator splits a function head "ret name(params)" into its parts.
// The last parenthesised group must close the head and be preceded by an
// identifier; anything before a stray ')' or ';' in the prefix is dropped.
func splitDeclarator(h string) (prefix, name, params string, ok bool) {
	if !strings.HasSuffix(h, ")") {
		return "", "", "", false
	}
	depth := 0
	open := -1
	for k := len(h) - 1; k >= 0; k-- {
		switch h[k] {
		case ')':
			depth++
		case '(':
			depth--
		}
		if depth == 0 {
			open = k
			break
		}
	}
	if open <= 0 {
		return "", "", "", false
	}
	m := identTailRe.FindStringSubmatchIndex(h[:open])
	if m == nil {
		return "", "", "", false
	}
	name = h[m[2]:m[3]]
	if notFunctions[name] {
		return "", "", "", false
	}
	prefix = h[:m[2]]
	if k := strings.LastIndexAny(prefix, ");}"); k >= 0 {
		prefix = prefix[k+1:]
	}
	prefix = strings.TrimSpace(prefix)
	if strings.HasSuffix(prefix, ".") || strings.HasSuffix(prefix, "->") || strings.ContainsAny(prefix, "(,") {
		return "", "", "", false
	}
	return prefix, name, h[open+1 : len(h)-1], true
}

// headerStart returns the offset of the first code byte of the statement
// that ends at brace, skipping text cut by splitDeclarator.
func (s *scanner) headerStart(stmt, brace int, name string) int {
	text := s.code[stmt:brace]
	idx := strings.LastIndex(text, name+"(")
	if idx < 0 {
		idx = strings.LastIndex(text, name)
	}
	if idx < 0 {
		idx = 0
	}
	start := stmt
	if k := strings.LastIndexAny(text[:idx], ");}"); k >= 0 {
		start = stmt + k + 1
	}
	for start < brace && isSpace(s.code[start]) {
		start++
	}
	return start
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// function records the definition whose body opens at brace and returns the
// offset of its closing brace.
func (s *scanner) function(stmt, brace int) (int, bool) {
	h := normalize(attributeRe.ReplaceAllString(s.code[stmt:brace], " "))
	prefix, name, params, _ := splitDeclarator(h)

	start := s.headerStart(stmt, brace, name)
	end, ok := matchBrace(s.code, brace)

	fn := FunctionInfo{
		Name:       name,
		ReturnType: prefix,
		Params:     splitParams(params),
		StartLine:  s.lx.lineOf(start),
		EndLine:    s.lx.lineOf(end),
		Body:       s.lx.src[brace : end+1],
		start:      start,
		end:        end,
		bodyStart:  brace,
	}
	if !ok {
		fn.Degraded = true
		fn.EndLine = s.m.Lines
		s.lx.degrade(brace, "unbalanced braces: function "+name+" runs to end of file")
	}

	body := s.code[brace : end+1]
	fn.Complexity = complexity(body)
	fn.MaxNesting = nesting(body)
	s.m.Functions = append(s.m.Functions, fn)
	s.calls(brace, end+1, name)
	return end, ok
}

func splitParams(params string) []string {
	params = strings.TrimSpace(params)
	if params == "" || params == "void" {
		return nil
	}
	var out []string
	for _, p := range splitTopLevel(params, ',') {
		if p = normalize(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitTopLevel splits s on sep outside of (), [] and {}.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	last := 0
	for k := 0; k < len(s); k++ {
		switch s[k] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:k])
				last = k + 1
			}
		}
	}
	return append(parts, s[last:])
}

var branchRe = regexp.MustCompile(`\b(?:if|for|while|case)\b|&&|\|\|`)

// complexity is 1 plus the number of branching constructs in the code view
// of a function body.
func complexity(body string) int {
	return 1 + len(branchRe.FindAllStringIndex(body, -1))
}

// nesting is the deepest brace level below the function body itself.
func nesting(body string) int {
	depth, max := 0, 0
	for k := 0; k < len(body); k++ {
		switch body[k] {
		case '{':
			depth++
			if depth-1 > max {
				max = depth - 1
			}
		case '}':
			depth--
		}
	}
	return max
}

var callRe = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)

// calls records call sites in code[from:to] attributed to fn.
func (s *scanner) calls(from, to int, fn string) {
	if to > len(s.code) {
		to = len(s.code)
	}
	for _, m := range callRe.FindAllStringSubmatchIndex(s.code[from:to], -1) {
		name := s.code[from+m[2] : from+m[3]]
		if notFunctions[name] {
			continue
		}
		off := from + m[2]
		s.m.Calls = append(s.m.Calls, CallSite{
			Name:     name,
			Line:     s.lx.lineOf(off),
			Column:   s.lx.columnOf(off),
			Function: fn,
		})
	}
}

// structBody records a struct or union whose body opens at brace. The
// statement continues to the next ';', where trailing names are attached.
func (s *scanner) structBody(stmt, brace int) (int, bool) {
	h := normalize(attributeRe.ReplaceAllString(s.code[stmt:brace], " "))
	m := structHeadRe.FindStringSubmatch(h)
	if m == nil {
		m = make([]string, 4)
	}
	end, ok := matchBrace(s.code, brace)

	inner := s.code[brace+1:]
	if ok {
		inner = s.code[brace+1 : end]
	}
	start := stmt
	for start < brace && isSpace(s.code[start]) {
		start++
	}
	st := StructInfo{
		Tag:       m[3],
		Name:      m[3],
		Typedef:   m[1] != "",
		Union:     m[2] == "union",
		StartLine: s.lx.lineOf(start),
		EndLine:   s.lx.lineOf(end),
		Members:   members(inner),
	}
	if !ok {
		st.EndLine = s.m.Lines
		s.lx.degrade(brace, "unbalanced braces: struct body runs to end of file")
	}
	s.m.Structs = append(s.m.Structs, st)
	s.pendingStruct = len(s.m.Structs) - 1
	s.structStmt = stmt
	s.structEnd = end
	return end, ok
}

func members(body string) []Member {
	var out []Member
	for _, decl := range splitTopLevel(body, ';') {
		decl = normalize(stripBraces(decl))
		if decl == "" {
			continue
		}
		// bit-fields
		if k := strings.IndexByte(decl, ':'); k >= 0 {
			decl = strings.TrimSpace(decl[:k])
		}
		for _, d := range declarators(decl) {
			out = append(out, Member{Name: d.name, Type: d.typ, Pointer: d.pointer, Array: d.array})
		}
	}
	return out
}

// stripBraces removes every {...} region, nested ones included.
func stripBraces(s string) string {
	var b strings.Builder
	depth := 0
	for k := 0; k < len(s); k++ {
		switch {
		case s[k] == '{':
			depth++
		case s[k] == '}':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteByte(s[k])
		}
	}
	return b.String()
}

type declarator struct {
	name    string
	typ     string
	pointer bool
	array   bool
	storage map[string]bool
}

var arraySuffixRe = regexp.MustCompile(`(\s*\[[^\]]*\])+\s*$`)

var storageWords = map[string]bool{
	"static": true, "extern": true, "register": true, "auto": true,
	"_Thread_local": true, "inline": true,
}

// declarators parses "type a, *b = 1, c[3]" into one entry per name. It
// returns nil for text that does not look like a variable declaration.
func declarators(decl string) []declarator {
	parts := splitTopLevel(decl, ',')
	var out []declarator
	var base string
	storage := map[string]bool{}

	for i, p := range parts {
		if k := strings.IndexByte(p, '='); k >= 0 {
			p = p[:k]
		}
		if strings.ContainsAny(p, "()") {
			return nil
		}
		p = strings.TrimSpace(p)
		array := false
		if loc := arraySuffixRe.FindStringIndex(p); loc != nil {
			array = true
			p = strings.TrimSpace(p[:loc[0]])
		}
		m := identTailRe.FindStringSubmatchIndex(p)
		if m == nil {
			return nil
		}
		name := p[m[2]:m[3]]
		prefix := strings.TrimSpace(p[:m[2]])
		pointer := strings.HasSuffix(prefix, "*")
		prefix = strings.TrimSpace(strings.TrimRight(prefix, "* "))

		if i == 0 {
			var words []string
			for _, w := range strings.Fields(prefix) {
				if storageWords[w] {
					storage[w] = true
					continue
				}
				words = append(words, w)
			}
			base = strings.Join(words, " ")
			if base == "" || notFunctions[name] || isTypeWord(name) {
				return nil
			}
		} else if prefix != "" {
			return nil
		}

		typ := base
		if pointer {
			typ += " *"
		}
		out = append(out, declarator{name: name, typ: typ, pointer: pointer, array: array, storage: storage})
	}
	return out
}

var typeWords = map[string]bool{
	"int": true, "char": true, "short": true, "long": true, "float": true,
	"double": true, "void": true, "signed": true, "unsigned": true,
	"const": true, "volatile": true, "struct": true, "union": true, "enum": true,
}

func isTypeWord(w string) bool { return typeWords[w] }

var bareTagRe = regexp.MustCompile(`^(?:struct|union|enum)(?:\s+[A-Za-z_]\w*)?$`)

// declaration handles a file-scope statement ending at semi.
func (s *scanner) declaration(stmt, semi int) {
	text := s.code[stmt:semi]
	pending := s.pendingStruct
	s.pendingStruct = -1

	if pending >= 0 && s.structStmt == stmt {
		s.structTrailer(pending, s.code[s.structEnd+1:semi], stmt)
		return
	}

	flat := normalize(stripBraces(text))
	if flat == "" || strings.HasPrefix(flat, "typedef ") || bareTagRe.MatchString(flat) {
		return
	}
	head := flat
	if k := strings.IndexByte(flat, '='); k >= 0 {
		head = flat[:k]
	}
	if strings.ContainsRune(head, '(') {
		return // prototype, function pointer or macro invocation
	}

	line := s.lx.lineOf(firstCode(s.code, stmt, semi))
	for _, d := range declarators(flat) {
		s.m.Globals = append(s.m.Globals, global(d, line))
	}
}

// structTrailer attaches "} name;" text to the struct just closed: a typedef
// name, or variables declared with the struct type.
func (s *scanner) structTrailer(idx int, trailer string, stmt int) {
	st := &s.m.Structs[idx]
	names := normalize(trailer)
	if names == "" {
		return
	}
	if st.Typedef {
		if m := identTailRe.FindStringSubmatch(splitTopLevel(names, ',')[0]); m != nil {
			st.Name = m[1]
		}
		return
	}
	kind := "struct"
	if st.Union {
		kind = "union"
	}
	head := normalize(s.code[stmt:s.structEnd])
	var storage []string
	for _, w := range strings.Fields(head) {
		if storageWords[w] {
			storage = append(storage, w)
		}
		if w == kind {
			break
		}
	}
	typ := strings.TrimSpace(kind + " " + st.Tag)
	decl := strings.TrimSpace(strings.Join(storage, " ") + " " + typ + " " + names)
	line := s.lx.lineOf(s.structEnd)
	for _, d := range declarators(decl) {
		s.m.Globals = append(s.m.Globals, global(d, line))
	}
}

func global(d declarator, line int) GlobalVarInfo {
	return GlobalVarInfo{
		Name:    d.name,
		Type:    d.typ,
		Line:    line,
		Static:  d.storage["static"],
		Extern:  d.storage["extern"],
		Const:   strings.Contains(" "+d.typ+" ", " const "),
		Pointer: d.pointer,
		Array:   d.array,
	}
}

func firstCode(code string, from, to int) int {
	for k := from; k < to; k++ {
		if !isSpace(code[k]) {
			return k
		}
	}
	return from
}
