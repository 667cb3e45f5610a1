// Package rules holds review rules, the repository adapters that supply
// them, the selector that picks the rules applicable to a file and the
// registered check handlers that evaluate them.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// Scope says whether a rule runs once per file or once per function body.
type Scope string

const (
	ScopeFile     Scope = "file"
	ScopeFunction Scope = "function"
)

// Check names the registered handler that evaluates a rule, with its
// parameters. Which fields apply depends on Kind.
type Check struct {
	Kind         string            `json:"kind"`
	Calls        []string          `json:"calls,omitempty"`
	Alternatives map[string]string `json:"alternatives,omitempty"` // call -> replacement advice
	Pattern      string            `json:"pattern,omitempty"`
	Threshold    int               `json:"threshold,omitempty"`
	Capability   string            `json:"capability,omitempty"`
	Message      string            `json:"message,omitempty"`

	re *regexp.Regexp // Pattern, compiled by NewSelector
}

// Regexp returns Pattern compiled. Rules handed out by a Selector carry the
// compiled form; others are compiled on each call.
func (c Check) Regexp() (*regexp.Regexp, error) {
	if c.re != nil {
		return c.re, nil
	}
	return regexp.Compile(c.Pattern)
}

// ContentPredicate restricts a rule to files whose code matches. Every
// non-empty field must hold.
type ContentPredicate struct {
	Calls    []string `json:"calls,omitempty"`    // any of these is called
	Contains []string `json:"contains,omitempty"` // any of these appears in code
	Matches  string   `json:"matches,omitempty"`  // regexp over code
}

func (p *ContentPredicate) holds(m *cparse.SourceModel, re *regexp.Regexp) bool {
	if p == nil {
		return true
	}
	if len(p.Calls) > 0 && len(m.CallsTo(p.Calls...)) == 0 {
		return false
	}
	if len(p.Contains) > 0 {
		found := false
		for _, s := range p.Contains {
			if strings.Contains(m.Code(), s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if re != nil && !re.MatchString(m.Code()) {
		return false
	}
	return true
}

// Rule is an immutable check definition supplied by a repository.
type Rule struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    model.Category `json:"category"`
	Severity    model.Severity `json:"severity"`

	// Selection keys. A rule is a candidate when any key matches.
	Languages    []string   `json:"languages,omitempty"`
	PathContains []string   `json:"path_contains,omitempty"`
	ProjectTypes []string   `json:"project_types,omitempty"`
	When         *Condition `json:"when,omitempty"`

	// Refinements. A candidate is dropped unless all of them hold.
	PathGlobs []string          `json:"path_globs,omitempty"`
	Content   *ContentPredicate `json:"content,omitempty"`

	Check        Check    `json:"check"`
	Scope        Scope    `json:"scope"`
	Requires     []string `json:"requires,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
	FixedExample string   `json:"fixed_example,omitempty"`
}

// Requirements returns the capabilities the rule cannot run without.
func (r Rule) Requirements() []string {
	out := append([]string(nil), r.Requires...)
	if r.Check.Capability != "" {
		for _, n := range out {
			if n == r.Check.Capability {
				return out
			}
		}
		out = append(out, r.Check.Capability)
	}
	return out
}

func (r Rule) String() string {
	return fmt.Sprintf("%s [%s/%s] %s", r.ID, r.Category, r.Severity, r.Title)
}

// CondOp is the operator of a Condition.
type CondOp string

const (
	OpPathContains   CondOp = "path_contains"
	OpCommitContains CondOp = "commit_contains"
	OpTag            CondOp = "tag"
	OpLanguage       CondOp = "language"
	OpProject        CondOp = "project"
	OpAll            CondOp = "all"
	OpAny            CondOp = "any"
	OpNot            CondOp = "not"
)

// Condition is a closed expression over FileContext tags. Leaf operators
// use Value; all, any and not use Args.
type Condition struct {
	Op    CondOp      `json:"op"`
	Value string      `json:"value,omitempty"`
	Args  []Condition `json:"args,omitempty"`
}

// PathContains holds when the file path contains s.
func PathContains(s string) Condition { return Condition{Op: OpPathContains, Value: s} }

// CommitContains holds when the commit message contains s.
func CommitContains(s string) Condition { return Condition{Op: OpCommitContains, Value: s} }

// HasTag holds when the file context carries tag s.
func HasTag(s string) Condition { return Condition{Op: OpTag, Value: s} }

// All holds when every one of c holds.
func All(c ...Condition) Condition { return Condition{Op: OpAll, Args: c} }

// Any holds when at least one of c holds.
func Any(c ...Condition) Condition { return Condition{Op: OpAny, Args: c} }

// Not negates c.
func Not(c Condition) Condition { return Condition{Op: OpNot, Args: []Condition{c}} }

// Eval evaluates the condition against fc. Matching is case-insensitive.
func (c Condition) Eval(fc *FileContext) bool {
	v := strings.ToLower(c.Value)
	switch c.Op {
	case OpPathContains:
		return strings.Contains(strings.ToLower(fc.Path), v)
	case OpCommitContains:
		return strings.Contains(strings.ToLower(fc.CommitMessage), v)
	case OpTag:
		return fc.HasTag(v)
	case OpLanguage:
		return fc.Language == v
	case OpProject:
		return strings.ToLower(fc.Profile.Type) == v
	case OpAll:
		for _, a := range c.Args {
			if !a.Eval(fc) {
				return false
			}
		}
		return true
	case OpAny:
		for _, a := range c.Args {
			if a.Eval(fc) {
				return true
			}
		}
		return false
	case OpNot:
		return len(c.Args) == 1 && !c.Args[0].Eval(fc)
	default:
		return false
	}
}

// Validate checks the expression is well formed.
func (c Condition) Validate() error {
	switch c.Op {
	case OpPathContains, OpCommitContains, OpTag, OpLanguage, OpProject:
		if c.Value == "" {
			return fmt.Errorf("condition %s needs a value", c.Op)
		}
		if len(c.Args) > 0 {
			return fmt.Errorf("condition %s takes no arguments", c.Op)
		}
	case OpAll, OpAny:
		if len(c.Args) == 0 {
			return fmt.Errorf("condition %s needs arguments", c.Op)
		}
	case OpNot:
		if len(c.Args) != 1 {
			return fmt.Errorf("condition not takes exactly one argument")
		}
	default:
		return fmt.Errorf("unknown condition operator %q", c.Op)
	}
	for _, a := range c.Args {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) String() string {
	switch c.Op {
	case OpAll, OpAny, OpNot:
		parts := make([]string, len(c.Args))
		for i, a := range c.Args {
			parts[i] = a.String()
		}
		return fmt.Sprintf("%s(%s)", c.Op, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s:%s", c.Op, c.Value)
	}
}
