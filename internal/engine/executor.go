package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

// Event reports one step transition to an Observer.
type Event struct {
	Step     string `json:"step"`
	File     string `json:"file"`
	Rule     string `json:"rule"`
	State    State  `json:"state"`
	Attempt  int    `json:"attempt"`
	Findings int    `json:"findings,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Observer receives step events. It is called from worker goroutines and
// must be safe for concurrent use.
type Observer func(Event)

// Outcome is the result of executing one step once.
type Outcome struct {
	StepID   string
	State    State
	Findings []model.Finding
	Err      error
	Duration time.Duration
}

// Executor runs steps on a bounded worker pool. A failure in one step never
// affects another.
type Executor struct {
	checks   rules.Checks
	caps     capability.Invoker
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

type ExecutorOption func(*Executor)

func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an executor dispatching rules to checks. caps may be
// nil, in which case every rule that needs a capability is skipped.
func NewExecutor(checks rules.Checks, caps capability.Invoker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		checks:  checks,
		caps:    caps,
		workers: 4,
		timeout: 60 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes steps in parallel and waits for all of them. When ctx is
// cancelled, running steps fail with model.ErrCancelled and steps not yet
// started are marked the same way. Outcomes are in step order.
func (e *Executor) Run(ctx context.Context, steps []*Step) []Outcome {
	outcomes := make([]Outcome, len(steps))
	started := make([]bool, len(steps))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, s := range steps {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			outcomes[i] = e.Execute(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range steps {
		if !started[i] {
			outcomes[i] = e.cancel(s, ctx.Err())
		}
	}
	return outcomes
}

// Execute runs one step to a terminal state.
func (e *Executor) Execute(ctx context.Context, s *Step) Outcome {
	begin := time.Now()
	if err := ctx.Err(); err != nil {
		return e.cancel(s, err)
	}
	if err := s.start(); err != nil {
		e.logger.Error("step not runnable", "step", s.ID, "state", s.State(), "error", err)
		return Outcome{StepID: s.ID, State: s.State(), Err: err}
	}
	e.emit(s)

	if s.NoOp() {
		_ = s.complete(nil)
		return e.finish(s, begin)
	}

	r := s.Rule
	for _, name := range r.Requirements() {
		if e.caps == nil || !e.caps.Available(ctx, name) {
			_ = s.skip(capability.Unavailable(name, "not available"))
			return e.finish(s, begin)
		}
	}

	handler, ok := e.checks[r.Check.Kind]
	if !ok {
		_ = s.fail(fmt.Errorf("%w: no handler for check %q", model.ErrRuleEvaluation, r.Check.Kind))
		return e.finish(s, begin)
	}

	findings, err := e.evaluate(ctx, s, handler)
	switch {
	case err == nil:
		_ = s.complete(findings)
	case errors.Is(err, model.ErrCapabilityUnavailable):
		_ = s.skip(err)
	default:
		_ = s.fail(err)
	}
	return e.finish(s, begin)
}

type evalResult struct {
	findings []model.Finding
	err      error
}

// evaluate runs the handler under the step timeout. The handler runs in its
// own goroutine so a handler that ignores its context cannot hold the step
// past the deadline.
func (e *Executor) evaluate(ctx context.Context, s *Step, h rules.Handler) ([]model.Finding, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- evalResult{err: fmt.Errorf("%w: panic: %v", model.ErrRuleEvaluation, p)}
			}
		}()
		f, err := e.apply(sctx, s, h)
		done <- evalResult{findings: f, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, e.classify(ctx, res.err)
		}
		return res.findings, nil
	case <-sctx.Done():
		return nil, e.classify(ctx, sctx.Err())
	}
}

// apply evaluates the rule over the whole file, or over each function of
// the step's chunk for function-scoped rules. Any error discards the
// findings gathered so far.
func (e *Executor) apply(ctx context.Context, s *Step, h rules.Handler) ([]model.Finding, error) {
	env := rules.Env{Caps: e.caps}
	r := *s.Rule
	if r.Scope != rules.ScopeFunction {
		return h(ctx, env, r, rules.FileSegment(s.File))
	}

	var out []model.Finding
	for _, fn := range s.Chunk.Functions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := h(ctx, env, r, rules.FunctionSegment(s.File, fn))
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		out = append(out, f...)
	}
	return out, nil
}

// classify maps an evaluation error onto the taxonomy.
func (e *Executor) classify(parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: %w", model.ErrCancelled, parent.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: exceeded %s", model.ErrStepTimeout, e.timeout)
	case model.Kind(err) == model.KindRuleEvaluation && !errors.Is(err, model.ErrRuleEvaluation):
		return fmt.Errorf("%w: %w", model.ErrRuleEvaluation, err)
	default:
		return err
	}
}

func (e *Executor) cancel(s *Step, cause error) Outcome {
	if cause == nil {
		cause = context.Canceled
	}
	s.abort(fmt.Errorf("%w: %w", model.ErrCancelled, cause))
	e.emit(s)
	return Outcome{StepID: s.ID, State: s.State(), Err: s.Cause()}
}

func (e *Executor) finish(s *Step, begin time.Time) Outcome {
	out := Outcome{
		StepID:   s.ID,
		State:    s.State(),
		Findings: s.Findings(),
		Err:      s.Cause(),
		Duration: time.Since(begin),
	}
	switch out.State {
	case StateSkipped:
		e.logger.Info("step skipped", "step", s.ID, "reason", s.Reason())
	case StateFailed:
		e.logger.Info("step failed", "step", s.ID, "attempt", s.Attempts(), "error", out.Err)
	default:
		e.logger.Debug("step done", "step", s.ID, "state", out.State, "findings", len(out.Findings))
	}
	e.emit(s)
	return out
}

func (e *Executor) emit(s *Step) {
	if e.observer == nil {
		return
	}
	e.observer(Event{
		Step:     s.ID,
		File:     s.File.Path,
		Rule:     s.RuleID(),
		State:    s.State(),
		Attempt:  s.Attempts(),
		Findings: len(s.Findings()),
		Reason:   s.Reason(),
	})
}
