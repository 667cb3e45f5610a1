package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate rule repositories",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured rules",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [rule-file...]",
	Short: "Check rule files, or the configured repository, for errors",
	Long: `Validate YAML rule files against the registered check kinds. With no
arguments the configured repository (built-in rules plus --rules) is checked.`,
	RunE: runRulesValidate,
}

func init() {
	rulesCmd.PersistentFlags().String("rules", "", "YAML rule file merged with the built-in rules")
	rulesCmd.PersistentFlags().Bool("no-builtin", false, "do not load the built-in rules")
	rulesListCmd.Flags().StringP("format", "f", "text", "output format: text, json")

	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rs, err := cfg.Repository().Rules()
	if err != nil {
		return err
	}
	if err := rules.Validate(rs, rules.DefaultChecks()); err != nil {
		return err
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Severity != rs[j].Severity {
			return rs[i].Severity > rs[j].Severity
		}
		return rs[i].ID < rs[j].ID
	})

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("format")
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", format)
	}

	st := newStyles(out)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.dim).
		Headers("ID", "SEVERITY", "CATEGORY", "SCOPE", "CHECK", "TITLE")
	for _, r := range rs {
		t.Row(r.ID, r.Severity.String(), string(r.Category), string(r.Scope), r.Check.Kind, r.Title)
	}
	fmt.Fprintln(out, t.Render())
	fmt.Fprintf(out, "%d rule(s)\n", len(rs))
	return nil
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	checks := rules.DefaultChecks()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		rs, err := cfg.Repository().Rules()
		if err != nil {
			return err
		}
		if err := rules.Validate(rs, checks); err != nil {
			return err
		}
		fmt.Fprintf(out, "configured repository: %d rule(s) OK\n", len(rs))
		return nil
	}

	var failed int
	for _, path := range args {
		rs, err := rules.LoadFile(path)
		if err == nil {
			err = rules.Validate(rs, checks)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: %d rule(s) OK\n", path, len(rs))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rule file(s) invalid", failed, len(args))
	}
	return nil
}
