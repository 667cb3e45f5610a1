// Package capability is the narrow interface through which rules reach
// optional external tools: a static-analysis binary or an LLM endpoint.
// A capability that is missing or not configured answers with
// model.ErrCapabilityUnavailable, which callers treat as a skip.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sprite-ai/crev/internal/model"
)

// Well-known capability names referenced by rules.
const (
	Cppcheck = "cppcheck"
	LLM      = "llm"
)

// Request is the payload handed to a capability.
type Request struct {
	Path      string `json:"path"`
	Language  string `json:"language,omitempty"`
	Source    string `json:"source,omitempty"`   // whole file
	Fragment  string `json:"fragment,omitempty"` // function body or chunk
	StartLine int    `json:"start_line,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// Observation is one issue reported by a capability.
type Observation struct {
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity,omitempty"`
	ID       string `json:"id,omitempty"`
	Message  string `json:"message"`
}

// Response is what a capability returns.
type Response struct {
	Observations []Observation `json:"observations,omitempty"`
	Text         string        `json:"text,omitempty"`
}

// Capability is one external tool.
type Capability interface {
	Name() string
	Available(ctx context.Context) bool
	Invoke(ctx context.Context, req Request) fn.Result[Response]
}

// Invoker dispatches requests by capability name.
type Invoker interface {
	Available(ctx context.Context, name string) bool
	Invoke(ctx context.Context, name string, req Request) fn.Result[Response]
}

// Unavailable wraps the unavailability sentinel with a reason.
func Unavailable(name, reason string) error {
	return fmt.Errorf("%s: %w: %s", name, model.ErrCapabilityUnavailable, reason)
}

// Registry is an Invoker over a fixed set of capabilities. It is built once
// and only read afterwards.
type Registry struct {
	caps   map[string]Capability
	logger *slog.Logger
}

// NewRegistry creates a registry holding caps. Later entries replace earlier
// ones with the same name.
func NewRegistry(logger *slog.Logger, caps ...Capability) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{caps: make(map[string]Capability, len(caps)), logger: logger}
	for _, c := range caps {
		if c != nil {
			r.caps[c.Name()] = c
		}
	}
	return r
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Available reports whether name is registered and currently usable.
func (r *Registry) Available(ctx context.Context, name string) bool {
	c, ok := r.caps[name]
	return ok && c.Available(ctx)
}

// Invoke calls the named capability. Unknown or unavailable capabilities
// yield ErrCapabilityUnavailable.
func (r *Registry) Invoke(ctx context.Context, name string, req Request) fn.Result[Response] {
	c, ok := r.caps[name]
	if !ok {
		return fn.Err[Response](Unavailable(name, "not registered"))
	}
	if !c.Available(ctx) {
		return fn.Err[Response](Unavailable(name, "not available"))
	}
	r.logger.Debug("invoking capability", "capability", name, "file", req.Path)
	return c.Invoke(ctx, req)
}
