package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/crev/internal/model"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Builtin returns the rule set shipped with crev.
func Builtin() Repository {
	return builtinRepo{}
}

type builtinRepo struct{}

func (builtinRepo) Rules() ([]Rule, error) {
	return Parse(builtinYAML)
}

// LoadFile reads a YAML rule file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRepository, err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

type ruleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	ID           string      `yaml:"id"`
	Title        string      `yaml:"title"`
	Description  string      `yaml:"description"`
	Category     string      `yaml:"category"`
	Severity     string      `yaml:"severity"`
	Languages    []string    `yaml:"languages"`
	PathContains []string    `yaml:"path_contains"`
	ProjectTypes []string    `yaml:"project_types"`
	When         *condDoc    `yaml:"when"`
	PathGlobs    []string    `yaml:"path_globs"`
	Content      *contentDoc `yaml:"content"`
	Check        checkDoc    `yaml:"check"`
	Scope        string      `yaml:"scope"`
	Requires     []string    `yaml:"requires"`
	Suggestion   string      `yaml:"suggestion"`
	FixedExample string      `yaml:"fixed_example"`
}

type contentDoc struct {
	Calls    []string `yaml:"calls"`
	Contains []string `yaml:"contains"`
	Matches  string   `yaml:"matches"`
}

type checkDoc struct {
	Kind         string            `yaml:"kind"`
	Calls        []string          `yaml:"calls"`
	Alternatives map[string]string `yaml:"alternatives"`
	Pattern      string            `yaml:"pattern"`
	Threshold    int               `yaml:"threshold"`
	Capability   string            `yaml:"capability"`
	Message      string            `yaml:"message"`
}

// condDoc is one condition node. Exactly one field may be set.
type condDoc struct {
	PathContains   string    `yaml:"path_contains"`
	CommitContains string    `yaml:"commit_contains"`
	Tag            string    `yaml:"tag"`
	Language       string    `yaml:"language"`
	Project        string    `yaml:"project"`
	All            []condDoc `yaml:"all"`
	Any            []condDoc `yaml:"any"`
	Not            *condDoc  `yaml:"not"`
}

// Parse decodes a YAML rule document. Unknown fields are rejected so typos
// in rule files surface as repository errors.
func Parse(data []byte) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc ruleFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decoding rules: %w", model.ErrRepository, err)
	}

	out := make([]Rule, 0, len(doc.Rules))
	for i, d := range doc.Rules {
		r, err := d.rule()
		if err != nil {
			name := d.ID
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("%w: rule %s: %w", model.ErrRepository, name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (d ruleDoc) rule() (Rule, error) {
	cat, err := model.ParseCategory(d.Category)
	if err != nil {
		return Rule{}, err
	}
	sev, err := model.ParseSeverity(d.Severity)
	if err != nil {
		return Rule{}, err
	}
	scope := Scope(strings.ToLower(d.Scope))
	if scope == "" {
		scope = ScopeFile
	}

	r := Rule{
		ID:           strings.TrimSpace(d.ID),
		Title:        d.Title,
		Description:  strings.TrimSpace(d.Description),
		Category:     cat,
		Severity:     sev,
		Languages:    lower(d.Languages),
		PathContains: d.PathContains,
		ProjectTypes: lower(d.ProjectTypes),
		PathGlobs:    d.PathGlobs,
		Check: Check{
			Kind:         d.Check.Kind,
			Calls:        d.Check.Calls,
			Alternatives: d.Check.Alternatives,
			Pattern:      d.Check.Pattern,
			Threshold:    d.Check.Threshold,
			Capability:   d.Check.Capability,
			Message:      d.Check.Message,
		},
		Scope:        scope,
		Requires:     d.Requires,
		Suggestion:   strings.TrimSpace(d.Suggestion),
		FixedExample: strings.TrimRight(d.FixedExample, "\n"),
	}
	if d.Content != nil {
		r.Content = &ContentPredicate{Calls: d.Content.Calls, Contains: d.Content.Contains, Matches: d.Content.Matches}
	}
	if d.When != nil {
		c, err := d.When.condition()
		if err != nil {
			return Rule{}, err
		}
		r.When = &c
	}
	return r, nil
}

func (d condDoc) condition() (Condition, error) {
	var out []Condition
	leaf := func(op CondOp, v string) {
		if v != "" {
			out = append(out, Condition{Op: op, Value: v})
		}
	}
	leaf(OpPathContains, d.PathContains)
	leaf(OpCommitContains, d.CommitContains)
	leaf(OpTag, d.Tag)
	leaf(OpLanguage, d.Language)
	leaf(OpProject, d.Project)

	group := func(op CondOp, docs []condDoc) error {
		if docs == nil {
			return nil
		}
		c := Condition{Op: op}
		for _, sub := range docs {
			sc, err := sub.condition()
			if err != nil {
				return err
			}
			c.Args = append(c.Args, sc)
		}
		out = append(out, c)
		return nil
	}
	if err := group(OpAll, d.All); err != nil {
		return Condition{}, err
	}
	if err := group(OpAny, d.Any); err != nil {
		return Condition{}, err
	}
	if d.Not != nil {
		if err := group(OpNot, []condDoc{*d.Not}); err != nil {
			return Condition{}, err
		}
	}

	if len(out) != 1 {
		return Condition{}, fmt.Errorf("condition must have exactly one operator, got %d", len(out))
	}
	return out[0], nil
}

func lower(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
