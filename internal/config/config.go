// Package config loads crev settings from defaults, an optional YAML file,
// CREV_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sprite-ai/crev/internal/capability"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/logger"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

// Config holds the application's configuration values.
type Config struct {
	Log     logger.Config `mapstructure:"log"`
	Review  ReviewConfig  `mapstructure:"review"`
	Project ProjectConfig `mapstructure:"project"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Server  ServerConfig  `mapstructure:"server"`
}

type ReviewConfig struct {
	Workers     int           `mapstructure:"workers"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	MaxRounds   int           `mapstructure:"max_rounds"`
	ChunkLines  int           `mapstructure:"chunk_lines"`
}

type ProjectConfig struct {
	Type       string `mapstructure:"type"`
	Strictness string `mapstructure:"strictness"`
}

type RulesConfig struct {
	File    string `mapstructure:"file"`
	Builtin bool   `mapstructure:"builtin"`
}

type ScoringConfig struct {
	Penalty             PenaltyConfig `mapstructure:"penalty"`
	ComplexityThreshold float64       `mapstructure:"complexity_threshold"`
	QualityWeight       float64       `mapstructure:"quality_weight"`
	ComplexityWeight    float64       `mapstructure:"complexity_weight"`
}

type PenaltyConfig struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
	Low      float64 `mapstructure:"low"`
}

type ToolsConfig struct {
	Cppcheck CppcheckConfig `mapstructure:"cppcheck"`
}

type CppcheckConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	APIKey  string        `mapstructure:"api_key"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Port int    `mapstructure:"port"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Addr, s.Port)
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",
	"log.output": "stderr",

	"review.workers":      4,
	"review.step_timeout": "60s",
	"review.max_retries":  2,
	"review.max_rounds":   2,
	"review.chunk_lines":  400,

	"project.type":       "embedded_system",
	"project.strictness": "high",

	"rules.file":    "",
	"rules.builtin": true,

	"scoring.penalty.critical":     20,
	"scoring.penalty.high":         10,
	"scoring.penalty.medium":       4,
	"scoring.penalty.low":          2,
	"scoring.complexity_threshold": 10,
	"scoring.quality_weight":       0.6,
	"scoring.complexity_weight":    0.4,

	"tools.cppcheck.enabled": true,
	"tools.cppcheck.path":    "cppcheck",
	"tools.cppcheck.timeout": "60s",

	"llm.enabled": false,
	"llm.url":     "http://localhost:11434",
	"llm.model":   "codellama",
	"llm.timeout": "120s",
	"llm.api_key": "",

	"server.addr": "127.0.0.1",
	"server.port": 6142,
}

// FlagKeys maps command-line flag names to configuration keys. Flags that
// are present in the set handed to Load override every other source once
// they are changed.
var FlagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"workers":      "review.workers",
	"step-timeout": "review.step_timeout",
	"max-retries":  "review.max_retries",
	"chunk-lines":  "review.chunk_lines",
	"project-type": "project.type",
	"strictness":   "project.strictness",
	"rules":        "rules.file",
	"no-builtin":   "rules.builtin",
	"cppcheck":     "tools.cppcheck.path",
	"llm":          "llm.enabled",
	"llm-url":      "llm.url",
	"llm-model":    "llm.model",
	"addr":         "server.addr",
	"port":         "server.port",
}

// Load builds the effective configuration. With an empty path, crev.yaml in
// the working directory is read when present; an explicit path must exist.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crev")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("CREV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if name == "no-builtin" {
				// Inverted flag: only an explicit --no-builtin turns the set off.
				if f.Changed {
					v.Set(key, f.Value.String() != "true")
				}
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the review pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Review.Workers <= 0 {
		errs = append(errs, fmt.Errorf("review.workers must be positive, got %d", c.Review.Workers))
	}
	if c.Review.StepTimeout <= 0 {
		errs = append(errs, fmt.Errorf("review.step_timeout must be positive, got %s", c.Review.StepTimeout))
	}
	if c.Review.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("review.max_retries must not be negative, got %d", c.Review.MaxRetries))
	}
	if c.Review.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("review.max_rounds must not be negative, got %d", c.Review.MaxRounds))
	}
	if c.Review.ChunkLines < 0 {
		errs = append(errs, fmt.Errorf("review.chunk_lines must not be negative, got %d", c.Review.ChunkLines))
	}
	if _, ok := rules.ParseStrictness(c.Project.Strictness); !ok {
		errs = append(errs, fmt.Errorf("project.strictness: unknown value %q (want low, medium or high)", c.Project.Strictness))
	}
	p := c.Scoring.Penalty
	if p.Critical < 0 || p.High < 0 || p.Medium < 0 || p.Low < 0 {
		errs = append(errs, errors.New("scoring.penalty values must not be negative"))
	}
	if c.Scoring.ComplexityThreshold <= 0 {
		errs = append(errs, errors.New("scoring.complexity_threshold must be positive"))
	}
	if w := c.Scoring.QualityWeight + c.Scoring.ComplexityWeight; math.Abs(w-1) > 1e-9 || c.Scoring.QualityWeight < 0 || c.Scoring.ComplexityWeight < 0 {
		errs = append(errs, fmt.Errorf("scoring weights must be non-negative and sum to 1, got %g + %g",
			c.Scoring.QualityWeight, c.Scoring.ComplexityWeight))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Profile returns the project profile used for rule selection.
func (c *Config) Profile() rules.Profile {
	st, _ := rules.ParseStrictness(c.Project.Strictness)
	return rules.Profile{Type: strings.ToLower(c.Project.Type), Strictness: st}
}

// ScorePolicy returns the scoring constants.
func (c *Config) ScorePolicy() engine.ScorePolicy {
	p := c.Scoring.Penalty
	return engine.ScorePolicy{
		Penalties: map[model.Severity]float64{
			model.SeverityCritical: p.Critical,
			model.SeverityHigh:     p.High,
			model.SeverityMedium:   p.Medium,
			model.SeverityLow:      p.Low,
		},
		ComplexityThreshold: c.Scoring.ComplexityThreshold,
		QualityWeight:       c.Scoring.QualityWeight,
		ComplexityWeight:    c.Scoring.ComplexityWeight,
	}
}

// Repository returns the configured rule source: the built-in set, the rule
// file, or both merged.
func (c *Config) Repository() rules.Repository {
	var repos []rules.Repository
	if c.Rules.Builtin {
		repos = append(repos, rules.Builtin())
	}
	if c.Rules.File != "" {
		repos = append(repos, rules.FileRepository{Path: c.Rules.File})
	}
	return rules.Merge(repos...)
}

// Capabilities builds the external tool registry.
func (c *Config) Capabilities(log *slog.Logger) *capability.Registry {
	return capability.NewRegistry(log,
		capability.NewCppcheck(capability.CppcheckConfig{
			Enabled: c.Tools.Cppcheck.Enabled,
			Path:    c.Tools.Cppcheck.Path,
			Timeout: c.Tools.Cppcheck.Timeout,
		}, log),
		capability.NewLLM(capability.LLMConfig{
			Enabled: c.LLM.Enabled,
			URL:     c.LLM.URL,
			Model:   c.LLM.Model,
			APIKey:  c.LLM.APIKey,
			Timeout: c.LLM.Timeout,
		}, log),
	)
}

// ReviewerOptions returns the engine options derived from the review and
// scoring sections.
func (c *Config) ReviewerOptions(log *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithReviewWorkers(c.Review.Workers),
		engine.WithReviewTimeout(c.Review.StepTimeout),
		engine.WithMaxRetries(c.Review.MaxRetries),
		engine.WithMaxRounds(c.Review.MaxRounds),
		engine.WithChunkLines(c.Review.ChunkLines),
		engine.WithScorePolicy(c.ScorePolicy()),
		engine.WithLogger(log),
	}
}
