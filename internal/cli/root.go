// Package cli implements the crev command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/config"
	"github.com/sprite-ai/crev/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crev",
	Short: "Rule-driven review of C source changes",
	Long: `crev reviews C sources and patches against a repository of rules,
running every applicable check as an isolated, retried step and reporting
findings with quality, complexity and maintainability scores.

Settings come from crev.yaml (or --config), CREV_* environment variables
and flags, in increasing order of precedence.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./crev.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	rootCmd.AddCommand(reviewCmd, rulesCmd, serveCmd, versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = c
	var out io.Writer
	if c.Log.Output == "" || c.Log.Output == "stderr" {
		out = cmd.ErrOrStderr()
	}
	log = logger.New(c.Log, out)
	return nil
}

// ExitError carries a process exit status out of a command that finished
// its work but wants a non-zero exit, such as a review with findings.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
