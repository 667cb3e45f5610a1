// Package engine turns analyzed files and selected rules into a plan of
// review steps, executes them with isolated failures, proves every step
// reached a terminal outcome and scores the result.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

// State is the lifecycle state of a Step.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateSkipped
)

var stateNames = [...]string{"pending", "running", "completed", "failed", "skipped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further work happens without a retry.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid step transition")

var transitions = map[State][]State{
	StatePending: {StateRunning, StateFailed},
	StateRunning: {StateCompleted, StateFailed, StateSkipped},
	StateFailed:  {StateRunning},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason,omitempty"`
}

// Chunk is the part of a file a step covers. Function-scoped steps of large
// files are split into contiguous function groups.
type Chunk struct {
	Index     int                    `json:"index"`
	Count     int                    `json:"count"`
	StartLine int                    `json:"start_line"`
	EndLine   int                    `json:"end_line"`
	Functions []*cparse.FunctionInfo `json:"-"`
}

// Step is one (file, rule, chunk) evaluation unit. Only the Executor and the
// Validator change its state.
type Step struct {
	ID    string
	File  *rules.FileContext
	Rule  *rules.Rule // nil for the no-op step of a file without rules
	Chunk Chunk

	mu         sync.Mutex
	state      State
	attempts   int
	retries    int
	maxRetries int
	cause      error
	reason     string
	findings   []model.Finding
	history    []Transition
}

func newStep(fc *rules.FileContext, r *rules.Rule, chunk Chunk, maxRetries int) *Step {
	ruleID := "noop"
	if r != nil {
		ruleID = r.ID
	}
	return &Step{
		ID:         fmt.Sprintf("%s#%s#%d", fc.Path, ruleID, chunk.Index),
		File:       fc,
		Rule:       r,
		Chunk:      chunk,
		maxRetries: maxRetries,
	}
}

// NoOp reports whether the step is the sentinel of a file with no rules.
func (s *Step) NoOp() bool { return s.Rule == nil }

// RuleID returns the rule id, or "noop".
func (s *Step) RuleID() string {
	if s.Rule == nil {
		return "noop"
	}
	return s.Rule.ID
}

func (s *Step) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Step) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Step) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Step) MaxRetries() int { return s.maxRetries }

// Cause returns the error behind a Failed or Skipped state.
func (s *Step) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Step) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Findings returns the findings of a Completed step.
func (s *Step) Findings() []model.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Finding(nil), s.findings...)
}

func (s *Step) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Retryable reports whether the step failed and may be re-submitted.
// Cancellation is never retried.
func (s *Step) Retryable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFailed && s.retries < s.maxRetries && !errors.Is(s.cause, model.ErrCancelled)
}

func (s *Step) transition(to State, cause error, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allowed(s.state, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.ID, s.state, to)
	}
	if to == StateRunning {
		s.attempts++
		s.cause, s.reason, s.findings = nil, "", nil
	}
	s.history = append(s.history, Transition{From: s.state, To: to, Attempt: s.attempts, Reason: reason})
	s.state = to
	if cause != nil {
		s.cause = cause
	}
	if reason != "" {
		s.reason = reason
	}
	return nil
}

func (s *Step) start() error {
	return s.transition(StateRunning, nil, "")
}

func (s *Step) complete(findings []model.Finding) error {
	if err := s.transition(StateCompleted, nil, ""); err != nil {
		return err
	}
	s.mu.Lock()
	s.findings = findings
	s.mu.Unlock()
	return nil
}

func (s *Step) fail(cause error) error {
	return s.transition(StateFailed, cause, cause.Error())
}

func (s *Step) skip(cause error) error {
	return s.transition(StateSkipped, cause, cause.Error())
}

// abort records cancellation on a step that will not run again. A step that
// already failed keeps its state and takes the cancellation as its cause.
func (s *Step) abort(cause error) {
	switch s.State() {
	case StatePending, StateRunning:
		_ = s.fail(cause)
	case StateFailed:
		s.mu.Lock()
		s.cause, s.reason = cause, cause.Error()
		s.history = append(s.history, Transition{From: StateFailed, To: StateFailed, Attempt: s.attempts, Reason: s.reason})
		s.mu.Unlock()
	}
}

// markRetry consumes one unit of retry budget before re-submission.
func (s *Step) markRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}
