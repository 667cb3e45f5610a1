package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/changeset"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

var reviewCmd = &cobra.Command{
	Use:   "review [paths...]",
	Short: "Review C sources or a patch and report findings",
	Long: `Review the named C files and directories, or the C files touched by a
patch, and print a report.

Examples:
  crev review src/                        # every .c/.h below src
  crev review --patch fix.patch           # files changed by a patch
  git format-patch -1 --stdout | crev review --patch -
  crev review --format json src/uart.c    # machine-readable result
  crev review -f html src/ > review.html  # standalone report page

Exit codes:
  0 - clean review
  1 - findings below high severity, or incomplete coverage
  2 - high or critical findings`,
	RunE: runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.StringP("patch", "p", "", "unified diff or format-patch mail to review (- for stdin)")
	f.String("root", ".", "directory the paths and patched files are read from")
	f.String("commit", "", "commit id recorded in the result")
	f.String("message", "", "commit message used by commit-keyed rules")
	f.StringSlice("tag", nil, "tag attached to every reviewed file")
	f.StringP("format", "f", "text", "output format: text, json, markdown, html")
	f.Bool("changed-only", false, "with --patch, report only findings on added lines")

	f.Int("workers", 4, "parallel step workers")
	f.Duration("step-timeout", 60*time.Second, "timeout of one step")
	f.Int("max-retries", 2, "retries of a failed step")
	f.Int("chunk-lines", 400, "line budget of a function chunk")
	f.String("project-type", "embedded_system", "project type used for rule selection")
	f.String("strictness", "high", "rule strictness: low, medium, high")
	f.String("rules", "", "YAML rule file merged with the built-in rules")
	f.Bool("no-builtin", false, "do not load the built-in rules")
	f.String("cppcheck", "cppcheck", "path to the cppcheck binary")
	f.Bool("llm", false, "enable LLM-backed semantic checks")
	f.String("llm-url", "http://localhost:11434", "OpenAI-compatible endpoint")
	f.String("llm-model", "codellama", "model name for semantic checks")
}

func runReview(cmd *cobra.Command, args []string) error {
	patch, _ := cmd.Flags().GetString("patch")
	root, _ := cmd.Flags().GetString("root")
	if patch == "" && len(args) == 0 {
		return errors.New("nothing to review: name files or directories, or pass --patch")
	}

	set, err := loadChangeset(cmd.InOrStdin(), os.DirFS(root), patch, args)
	if err != nil {
		return err
	}
	if c, _ := cmd.Flags().GetString("commit"); c != "" {
		set.Commit = c
	}
	if m, _ := cmd.Flags().GetString("message"); m != "" {
		set.Message = m
	}

	out := cmd.OutOrStdout()
	if len(set.Files) == 0 {
		fmt.Fprintln(out, "No C sources to review.")
		return nil
	}

	tags, _ := cmd.Flags().GetStringSlice("tag")
	inputs := set.Inputs()
	for i := range inputs {
		inputs[i].Tags = tags
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reviewer := engine.NewReviewer(cfg.Repository(), rules.DefaultChecks(), cfg.Capabilities(log), cfg.ReviewerOptions(log)...)
	res, err := reviewer.Review(ctx, engine.Request{
		Commit:        set.Commit,
		CommitMessage: set.Message,
		Files:         inputs,
		Profile:       cfg.Profile(),
	})
	if err != nil {
		return err
	}

	if only, _ := cmd.Flags().GetBool("changed-only"); only && patch != "" {
		res = res.Restrict(func(f model.Finding) bool {
			cf, ok := set.File(f.File)
			return !ok || cf.Touches(f.Line)
		})
	}

	format, _ := cmd.Flags().GetString("format")
	if err := render(out, strings.ToLower(format), res, set); err != nil {
		return err
	}
	return exitFor(res)
}

func loadChangeset(stdin io.Reader, root fs.FS, patch string, paths []string) (*changeset.Set, error) {
	if patch == "" {
		return changeset.FromPaths(root, paths)
	}

	var r io.Reader = stdin
	if patch != "-" {
		fh, err := os.Open(patch)
		if err != nil {
			return nil, fmt.Errorf("opening patch: %w", err)
		}
		defer fh.Close()
		r = fh
	}
	set, err := changeset.FromPatch(r, root)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		set.Files = keepPaths(set.Files, paths)
	}
	return set, nil
}

// keepPaths narrows patch files to the ones named or below a named directory.
func keepPaths(files []changeset.File, paths []string) []changeset.File {
	var out []changeset.File
	for _, f := range files {
		for _, p := range paths {
			p = path.Clean(strings.TrimPrefix(p, "./"))
			if p == "." || f.Path == p || strings.HasPrefix(f.Path, p+"/") {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func exitFor(res *engine.Result) error {
	switch {
	case res.MaxSeverity() >= model.SeverityHigh:
		return &ExitError{Code: 2}
	case !res.Clean():
		return &ExitError{Code: 1}
	}
	return nil
}
