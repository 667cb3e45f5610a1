package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Review.Workers)
	assert.Equal(t, 60*time.Second, cfg.Review.StepTimeout)
	assert.Equal(t, 2, cfg.Review.MaxRetries)
	assert.Equal(t, 400, cfg.Review.ChunkLines)
	assert.Equal(t, rules.Profile{Type: "embedded_system", Strictness: rules.StrictnessHigh}, cfg.Profile())
	assert.True(t, cfg.Rules.Builtin)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, "127.0.0.1:6142", cfg.Server.Address())

	p := cfg.ScorePolicy()
	assert.Equal(t, 20.0, p.Penalties[model.SeverityCritical])
	assert.Equal(t, 0.6, p.QualityWeight)

	rs, err := cfg.Repository().Rules()
	require.NoError(t, err)
	assert.Len(t, rs, 16)
	assert.Len(t, cfg.ReviewerOptions(nil), 7)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "crev.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
review:
  workers: 8
  step_timeout: 5s
project:
  strictness: medium
scoring:
  penalty:
    critical: 30
`), 0o600))

	t.Setenv("CREV_REVIEW_WORKERS", "6")
	t.Setenv("CREV_LLM_MODEL", "qwen")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("strictness", "high", "")
	flags.Int("port", 6142, "")
	flags.Bool("no-builtin", false, "")
	require.NoError(t, flags.Parse([]string{"--strictness", "low", "--no-builtin"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Review.Workers, "env beats file")
	assert.Equal(t, 5*time.Second, cfg.Review.StepTimeout, "file beats default")
	assert.Equal(t, "low", cfg.Project.Strictness, "flag beats file")
	assert.Equal(t, 6142, cfg.Server.Port, "unchanged flag keeps the default")
	assert.Equal(t, "qwen", cfg.LLM.Model)
	assert.Equal(t, 30.0, cfg.Scoring.Penalty.Critical)
	assert.Equal(t, 10.0, cfg.Scoring.Penalty.High)
	assert.False(t, cfg.Rules.Builtin)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err, "an explicit config file must exist")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("review: [unclosed\n"), 0o600))
	_, err = Load(bad, nil)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("review:\n  workers: 0\n"), 0o600))
	_, err = Load(invalid, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review.workers")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("", nil)
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"workers", func(c *Config) { c.Review.Workers = -1 }, "review.workers"},
		{"retries", func(c *Config) { c.Review.MaxRetries = -1 }, "review.max_retries"},
		{"strictness", func(c *Config) { c.Project.Strictness = "paranoid" }, "project.strictness"},
		{"weights", func(c *Config) { c.Scoring.QualityWeight = 0.9 }, "sum to 1"},
		{"penalty", func(c *Config) { c.Scoring.Penalty.Low = -2 }, "scoring.penalty"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"timeout", func(c *Config) { c.Review.StepTimeout = 0 }, "review.step_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
