// Package model defines the core data types shared across crev.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Severity is the tier of a rule and of the findings it produces.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists the known tiers from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a tier name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "style":
		return SeverityLow, nil
	case "medium", "warning":
		return SeverityMedium, nil
	case "high", "error":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityUnknown, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Category groups rules and findings by concern.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryMemory      Category = "memory"
	CategoryPerformance Category = "performance"
	CategoryQuality     Category = "quality"
	CategoryCustom      Category = "custom"
)

// Categories lists the known categories in report order.
var Categories = []Category{CategorySecurity, CategoryMemory, CategoryPerformance, CategoryQuality, CategoryCustom}

// ParseCategory maps a category name to a Category. A few aliases used by
// coding-standard documents are accepted.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "security":
		return CategorySecurity, nil
	case "memory", "memory_management":
		return CategoryMemory, nil
	case "performance":
		return CategoryPerformance, nil
	case "quality", "code_quality", "style", "error_handling":
		return CategoryQuality, nil
	case "custom":
		return CategoryCustom, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// LineRange identifies a range of lines in a file.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line falls inside the range.
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// Len returns the number of lines covered.
func (r LineRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Finding is one reported issue instance tied to a file, rule and location.
type Finding struct {
	ID           string   `json:"id"`
	File         string   `json:"file"`
	Line         int      `json:"line,omitempty"` // 0 if file-level
	Column       int      `json:"column,omitempty"`
	Function     string   `json:"function,omitempty"`
	RuleID       string   `json:"rule_id"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Excerpt      string   `json:"excerpt,omitempty"`
	FixedExample string   `json:"fixed_example,omitempty"`
	Source       string   `json:"source,omitempty"` // which check or tool produced this
}

func (f Finding) String() string {
	loc := f.File
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("[%s] %s: %s", f.RuleID, loc, f.Message)
}

// WithID returns a copy of f carrying its content-derived ID.
func (f Finding) WithID() Finding {
	f.ID = FindingID(f)
	return f
}

// FindingID derives a stable identifier from the rule, location and message.
func FindingID(f Finding) string {
	key := fmt.Sprintf("%s|%s|%d|%d|%s", f.RuleID, f.File, f.Line, f.Column, f.Message)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// SortFindings orders findings by file, line, column, rule id and message.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Message < b.Message
	})
}

// DeduplicateFindings drops findings whose ID was already seen, keeping the
// first occurrence.
func DeduplicateFindings(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		id := f.ID
		if id == "" {
			id = FindingID(f)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, f)
	}
	return out
}
