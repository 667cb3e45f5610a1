package rules

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

const anyLanguage = "*"

// Selector picks the rules that apply to a file. It indexes the rule set
// once and is read-only afterwards, so Select may be called concurrently.
type Selector struct {
	rules       []Rule
	byLanguage  map[string][]int
	byPath      []int
	byProject   map[string][]int
	conditional []int
	content     map[int]*regexp.Regexp
}

// NewSelector validates rules and builds the selection indexes.
func NewSelector(rules []Rule, checks Checks) (*Selector, error) {
	if err := Validate(rules, checks); err != nil {
		return nil, err
	}
	s := &Selector{
		rules:      append([]Rule(nil), rules...),
		byLanguage: make(map[string][]int),
		byProject:  make(map[string][]int),
		content:    make(map[int]*regexp.Regexp),
	}
	for i, r := range s.rules {
		for _, l := range r.Languages {
			l = strings.ToLower(l)
			s.byLanguage[l] = append(s.byLanguage[l], i)
		}
		if len(r.PathContains) > 0 {
			s.byPath = append(s.byPath, i)
		}
		for _, p := range r.ProjectTypes {
			p = strings.ToLower(p)
			s.byProject[p] = append(s.byProject[p], i)
		}
		if r.When != nil {
			s.conditional = append(s.conditional, i)
		}
		if r.Content != nil && r.Content.Matches != "" {
			s.content[i] = regexp.MustCompile(r.Content.Matches)
		}
		if r.Check.Pattern != "" {
			s.rules[i].Check.re = regexp.MustCompile(r.Check.Pattern)
		}
	}
	return s, nil
}

// Rules returns every indexed rule in repository order.
func (s *Selector) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Select returns the rules applicable to fc, each at most once, ordered by
// severity (highest first) and then by id. A rule is a candidate when any
// of its language, path, project or condition keys match; candidates are
// then narrowed by path globs, content predicates and the profile
// strictness.
func (s *Selector) Select(fc *FileContext) []Rule {
	seen := make(map[int]bool)
	var picked []int
	add := func(idx ...int) {
		for _, i := range idx {
			if !seen[i] {
				seen[i] = true
				picked = append(picked, i)
			}
		}
	}

	add(s.byLanguage[fc.Language]...)
	add(s.byLanguage[anyLanguage]...)

	p := strings.ToLower(fc.Path)
	for _, i := range s.byPath {
		for _, sub := range s.rules[i].PathContains {
			if strings.Contains(p, strings.ToLower(sub)) {
				add(i)
				break
			}
		}
	}

	add(s.byProject[strings.ToLower(fc.Profile.Type)]...)

	for _, i := range s.conditional {
		if s.rules[i].When.Eval(fc) {
			add(i)
		}
	}

	floor := fc.Profile.Strictness.MinSeverity()
	out := make([]Rule, 0, len(picked))
	for _, i := range picked {
		r := s.rules[i]
		if r.Severity < floor || !globsMatch(r.PathGlobs, fc.Path) {
			continue
		}
		if !r.Content.holds(fc.Model, s.content[i]) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// globsMatch matches each glob against the full slash path and its base
// name. An empty glob list matches everything.
func globsMatch(globs []string, file string) bool {
	if len(globs) == 0 {
		return true
	}
	file = strings.ReplaceAll(file, "\\", "/")
	base := path.Base(file)
	for _, g := range globs {
		if ok, _ := path.Match(g, file); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}
	return false
}
