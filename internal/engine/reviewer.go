package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/cparse"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

// Input is one file submitted for review.
type Input struct {
	Path     string   `json:"path"`
	Revision string   `json:"revision,omitempty"`
	Source   string   `json:"source"`
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Request is one review invocation.
type Request struct {
	Commit        string        `json:"commit,omitempty"`
	CommitMessage string        `json:"commit_message,omitempty"`
	Files         []Input       `json:"files"`
	Profile       rules.Profile `json:"profile"`
}

// Reviewer wires analysis, selection, planning, execution, validation and
// scoring into one review pass.
type Reviewer struct {
	repo       rules.Repository
	checks     rules.Checks
	caps       capability.Invoker
	workers    int
	timeout    time.Duration
	maxRetries int
	maxRounds  int
	chunkLines int
	policy     ScorePolicy
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
}

type Option func(*Reviewer)

func WithReviewWorkers(n int) Option {
	return func(r *Reviewer) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithReviewTimeout(d time.Duration) Option {
	return func(r *Reviewer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(r *Reviewer) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

func WithMaxRounds(n int) Option {
	return func(r *Reviewer) {
		if n >= 0 {
			r.maxRounds = n
		}
	}
}

func WithChunkLines(n int) Option {
	return func(r *Reviewer) { r.chunkLines = n }
}

func WithScorePolicy(p ScorePolicy) Option {
	return func(r *Reviewer) { r.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reviewer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReviewObserver streams step events of every review.
func WithReviewObserver(o Observer) Option {
	return func(r *Reviewer) { r.observer = o }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reviewer) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReviewer creates a reviewer. caps may be nil.
func NewReviewer(repo rules.Repository, checks rules.Checks, caps capability.Invoker, opts ...Option) *Reviewer {
	if checks == nil {
		checks = rules.DefaultChecks()
	}
	r := &Reviewer{
		repo:       repo,
		checks:     checks,
		caps:       caps,
		workers:    4,
		timeout:    60 * time.Second,
		maxRetries: 2,
		maxRounds:  2,
		chunkLines: 400,
		policy:     DefaultScorePolicy(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Review runs a full review of req. Only an invalid rule repository is an
// error; every per-file or per-step failure is recorded in the result. A
// cancelled review returns the partial result with Complete unset.
func (rv *Reviewer) Review(ctx context.Context, req Request) (*Result, error) {
	rs, err := rv.repo.Rules()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRepository, err)
	}
	selector, err := rules.NewSelector(rs, rv.checks)
	if err != nil {
		return nil, err
	}

	files := rv.analyze(req)

	// A step cannot be retried more often than there are rounds.
	plan := NewPlanner(selector, rv.chunkLines, min(rv.maxRetries, rv.maxRounds)).Plan(files)
	exec := NewExecutor(rv.checks, rv.caps,
		WithWorkers(rv.workers),
		WithStepTimeout(rv.timeout),
		WithExecutorLogger(rv.logger),
		WithObserver(rv.observer),
	)
	validator := Validator{MaxRounds: rv.maxRounds}

	rv.logger.Info("review started", "files", len(files), "steps", len(plan.Steps), "rules", len(rs))
	start := rv.now()

	wave := plan.Steps
	var res *Result
	for {
		exec.Run(ctx, wave)
		var dir *Directive
		res, dir = validator.Validate(plan)
		if res != nil {
			break
		}
		rv.logger.Info("re-submitting steps", "version", dir.Version, "steps", len(dir.Steps))
		wave = dir.Steps
	}

	models := make([]*cparse.SourceModel, len(files))
	for i, fc := range files {
		models[i] = fc.Model
	}
	res.RunID = uuid.NewString()
	res.Commit = req.Commit
	res.CommitMessage = req.CommitMessage
	res.Timestamp = start
	res.Scores = Score(res, models, rv.policy)
	res.Recommendations = recommend(res)

	rv.logger.Info("review finished",
		"run_id", res.RunID,
		"findings", len(res.Findings),
		"complete", res.Complete,
		"incomplete_coverage", res.IncompleteCoverage,
		"plan_version", res.PlanVersion,
	)
	return res, nil
}

// analyze builds the file contexts of req. A path submitted twice is
// reviewed once, from its first occurrence.
func (rv *Reviewer) analyze(req Request) []*rules.FileContext {
	seen := make(map[string]bool, len(req.Files))
	out := make([]*rules.FileContext, 0, len(req.Files))
	for _, in := range req.Files {
		if seen[in.Path] {
			rv.logger.Warn("duplicate file in request, ignored", "path", in.Path)
			continue
		}
		seen[in.Path] = true

		m := cparse.Analyze(in.Source)
		if m.Degraded() {
			rv.logger.Warn("partial parse", "path", in.Path, "degradations", len(m.Degradations))
		}
		rev := in.Revision
		if rev == "" {
			rev = req.Commit
		}
		out = append(out, rules.NewFileContext(rules.FileInput{
			Path:          in.Path,
			Revision:      rev,
			Language:      in.Language,
			CommitMessage: req.CommitMessage,
			Tags:          in.Tags,
			Profile:       req.Profile,
			Model:         m,
		}))
	}
	return out
}
