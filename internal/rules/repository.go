package rules

import (
	"errors"
	"fmt"
	"path"
	"regexp"

	"github.com/sprite-ai/crev/internal/model"
)

// Repository supplies rules. Any error it returns is fatal for a review.
type Repository interface {
	Rules() ([]Rule, error)
}

// Static is a fixed in-memory rule set.
type Static []Rule

func (s Static) Rules() ([]Rule, error) {
	return append([]Rule(nil), s...), nil
}

// FileRepository loads rules from a YAML file each time it is asked.
type FileRepository struct {
	Path string
}

func (f FileRepository) Rules() ([]Rule, error) {
	return LoadFile(f.Path)
}

type merged []Repository

// Merge concatenates repositories in order. Duplicate ids across them are
// reported by Validate, not resolved.
func Merge(repos ...Repository) Repository {
	return merged(repos)
}

func (m merged) Rules() ([]Rule, error) {
	var out []Rule
	for _, r := range m {
		if r == nil {
			continue
		}
		rs, err := r.Rules()
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

// Validate rejects malformed rule sets. A nil checks registry skips the
// check-kind lookup. The returned error wraps model.ErrRepository and joins
// every problem found.
func Validate(rules []Rule, checks Checks) error {
	var errs []error
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule #%d: empty id", i+1))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", r.ID))
		}
		seen[r.ID] = true
		if err := validateRule(r, checks); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrRepository, errors.Join(errs...))
}

func validateRule(r Rule, checks Checks) error {
	if _, err := model.ParseCategory(string(r.Category)); err != nil {
		return err
	}
	if r.Severity < model.SeverityLow || r.Severity > model.SeverityCritical {
		return fmt.Errorf("invalid severity %d", r.Severity)
	}
	if r.Scope != ScopeFile && r.Scope != ScopeFunction {
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	if r.Check.Kind == "" {
		return fmt.Errorf("missing check kind")
	}
	if checks != nil && !checks.Has(r.Check.Kind) {
		return fmt.Errorf("unknown check kind %q", r.Check.Kind)
	}
	if r.Check.Pattern != "" {
		if _, err := regexp.Compile(r.Check.Pattern); err != nil {
			return fmt.Errorf("check pattern: %w", err)
		}
	} else if r.Check.Kind == KindPattern {
		return fmt.Errorf("pattern check needs a pattern")
	}
	if r.Check.Threshold < 0 {
		return fmt.Errorf("negative threshold")
	}
	for _, g := range r.PathGlobs {
		if _, err := path.Match(g, ""); err != nil {
			return fmt.Errorf("path glob %q: %w", g, err)
		}
	}
	if r.Content != nil && r.Content.Matches != "" {
		if _, err := regexp.Compile(r.Content.Matches); err != nil {
			return fmt.Errorf("content pattern: %w", err)
		}
	}
	if r.When != nil {
		if err := r.When.Validate(); err != nil {
			return err
		}
	}
	if len(r.Languages) == 0 && len(r.PathContains) == 0 && len(r.ProjectTypes) == 0 && r.When == nil {
		return fmt.Errorf("no selection key: set languages, path_contains, project_types or when")
	}
	return nil
}
