package rules

import (
	"sort"
	"strings"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
)

// Strictness selects how far down the severity tiers a review goes.
type Strictness string

const (
	StrictnessLow    Strictness = "low"    // critical and high rules only
	StrictnessMedium Strictness = "medium" // medium and above
	StrictnessHigh   Strictness = "high"   // every rule
)

// ParseStrictness validates a strictness name. Empty means high.
func ParseStrictness(s string) (Strictness, bool) {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case StrictnessLow:
		return StrictnessLow, true
	case StrictnessMedium:
		return StrictnessMedium, true
	case StrictnessHigh, "":
		return StrictnessHigh, true
	default:
		return "", false
	}
}

// MinSeverity is the lowest rule severity selected at this strictness.
func (s Strictness) MinSeverity() model.Severity {
	switch s {
	case StrictnessLow:
		return model.SeverityHigh
	case StrictnessMedium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Profile describes the project under review.
type Profile struct {
	Type       string     `json:"type"`
	Strictness Strictness `json:"strictness"`
}

// SensitiveTag is derived for files whose path or tags point at security or
// authentication code.
const SensitiveTag = "security-sensitive"

var sensitiveWords = []string{
	"auth", "secur", "crypt", "login", "passw", "token", "session", "cert", "secret", "acl", "perm",
}

// FileContext is the per-file input bundle consumed by selection and
// execution. It is built once by NewFileContext and never modified.
type FileContext struct {
	Path          string              `json:"path"`
	Revision      string              `json:"revision,omitempty"`
	Language      string              `json:"language"`
	CommitMessage string              `json:"-"`
	Tags          []string            `json:"tags,omitempty"`
	Profile       Profile             `json:"profile"`
	Model         *cparse.SourceModel `json:"-"`
}

// FileInput holds the fields used to build a FileContext.
type FileInput struct {
	Path          string
	Revision      string
	Language      string
	CommitMessage string
	Tags          []string
	Profile       Profile
	Model         *cparse.SourceModel
}

// NewFileContext normalizes in into an immutable FileContext. Tags are
// lower-cased, sorted and unique; the sensitive tag is added when the path
// or a tag mentions security-related words.
func NewFileContext(in FileInput) *FileContext {
	tags := make(map[string]bool, len(in.Tags)+1)
	for _, t := range in.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags[t] = true
		}
	}
	if isSensitive(in.Path, tags) {
		tags[SensitiveTag] = true
	}
	sorted := make([]string, 0, len(tags))
	for t := range tags {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	lang := strings.ToLower(strings.TrimSpace(in.Language))
	if lang == "" {
		lang = "c"
	}
	profile := in.Profile
	if st, ok := ParseStrictness(string(profile.Strictness)); ok {
		profile.Strictness = st
	}
	m := in.Model
	if m == nil {
		m = cparse.Analyze("")
	}

	return &FileContext{
		Path:          in.Path,
		Revision:      in.Revision,
		Language:      lang,
		CommitMessage: in.CommitMessage,
		Tags:          sorted,
		Profile:       profile,
		Model:         m,
	}
}

func isSensitive(path string, tags map[string]bool) bool {
	p := strings.ToLower(path)
	for _, w := range sensitiveWords {
		if strings.Contains(p, w) {
			return true
		}
		for t := range tags {
			if strings.Contains(t, w) {
				return true
			}
		}
	}
	return false
}

// HasTag reports whether the context carries tag.
func (fc *FileContext) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	i := sort.SearchStrings(fc.Tags, tag)
	return i < len(fc.Tags) && fc.Tags[i] == tag
}

// Sensitive reports whether the file is security or authentication related.
func (fc *FileContext) Sensitive() bool {
	return fc.HasTag(SensitiveTag)
}
