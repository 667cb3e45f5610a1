package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sprite-ai/crev/internal/changeset"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/model"
)

func render(w io.Writer, format string, res *engine.Result, set *changeset.Set) error {
	switch format {
	case "json":
		return outputJSON(w, res, set)
	case "markdown", "md":
		return outputMarkdown(w, res, set)
	case "html":
		return outputHTML(w, res, set)
	case "text", "":
		return outputText(w, res, set)
	default:
		return fmt.Errorf("unknown output format %q (want text, json, markdown or html)", format)
	}
}

func outputText(w io.Writer, res *engine.Result, set *changeset.Set) error {
	st := newStyles(w)

	head := []string{st.text.Bold(true).Render("crev review") + " " + st.dim.Render(shortID(res.RunID))}
	if res.Commit != "" {
		head = append(head, st.dim.Render("commit ")+st.rule.Render(shortSHA(res.Commit)))
	}
	head = append(head, fmt.Sprintf("Quality %s  Complexity %s  Maintainability %s",
		st.score(res.Scores.Quality).Render(fmt.Sprintf("%.1f", res.Scores.Quality)),
		st.score(res.Scores.Complexity).Render(fmt.Sprintf("%.1f", res.Scores.Complexity)),
		st.score(res.Scores.Maintainability).Render(fmt.Sprintf("%.1f", res.Scores.Maintainability)),
	))
	fmt.Fprintln(w, st.banner.Render(strings.Join(head, "\n")))

	nFiles, added, deleted := set.Stats()
	if added+deleted > 0 {
		fmt.Fprintf(w, "%d file(s) changed, +%d -%d\n", nFiles, added, deleted)
	} else {
		fmt.Fprintf(w, "%d file(s) reviewed\n", nFiles)
	}
	fmt.Fprintf(w, "Findings: %s\n\n", countSummary(res.Counts))

	if len(res.Findings) == 0 {
		fmt.Fprintln(w, st.good.Render("No issues found."))
	}

	var current string
	for _, f := range res.Findings {
		if f.File != current {
			if current != "" {
				fmt.Fprintln(w)
			}
			current = f.File
			fmt.Fprintf(w, "  %s\n", st.file.Render(f.File))
		}
		loc := ""
		if f.Line > 0 {
			loc = fmt.Sprintf(":%d", f.Line)
		}
		fmt.Fprintf(w, "    %s %s %s%s: %s\n",
			st.sev(f.Severity).Render(fmt.Sprintf("%-8s", f.Severity)),
			st.rule.Render(f.RuleID),
			f.File, loc, f.Message)
		if f.Excerpt != "" {
			fmt.Fprintln(w, st.excerpt.Render(highlight(st.r, f.File, f.Excerpt)))
		}
		if f.Suggestion != "" {
			fmt.Fprintln(w, st.excerpt.Render(st.dim.Render("fix: "+f.Suggestion)))
		}
	}
	if len(res.Findings) > 0 {
		fmt.Fprintln(w)
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, st.warn.Render("Warnings:"))
		for _, wn := range res.Warnings {
			where := wn.File
			if wn.Step != "" {
				where = wn.Step
			}
			fmt.Fprintf(w, "  - [%s] %s: %s\n", wn.Kind, where, wn.Message)
		}
		fmt.Fprintln(w)
	}

	if len(set.Ignored) > 0 {
		fmt.Fprintln(w, st.dim.Render("Ignored:"))
		for _, ig := range set.Ignored {
			fmt.Fprintf(w, "  - %s: %s\n", ig.Path, ig.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(res.Recommendations) > 0 {
		fmt.Fprintln(w, st.text.Bold(true).Render("Recommendations:"))
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
		fmt.Fprintln(w)
	}

	c := res.Coverage
	fmt.Fprintln(w, st.dim.Render(fmt.Sprintf("Coverage: %d step(s), %d completed, %d skipped, %d failed, %d pending",
		c.Steps, c.Completed, c.Skipped, c.Failed, c.Pending)))
	if res.IncompleteCoverage {
		fmt.Fprintln(w, st.warn.Render("Coverage is incomplete; the result is best effort."))
	}
	return nil
}

func outputJSON(w io.Writer, res *engine.Result, set *changeset.Set) error {
	out := struct {
		*engine.Result
		Ignored []changeset.Ignored `json:"ignored,omitempty"`
	}{res, set.Ignored}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func outputMarkdown(w io.Writer, res *engine.Result, set *changeset.Set) error {
	fmt.Fprintf(w, "## Review Report\n\n")
	if res.Commit != "" {
		fmt.Fprintf(w, "Commit `%s`\n\n", shortSHA(res.Commit))
	}
	nFiles, added, deleted := set.Stats()
	if added+deleted > 0 {
		fmt.Fprintf(w, "**%d file(s)** changed, **+%d** insertions, **-%d** deletions\n\n", nFiles, added, deleted)
	} else {
		fmt.Fprintf(w, "**%d file(s)** reviewed\n\n", nFiles)
	}
	fmt.Fprintf(w, "**Quality:** %.1f | **Complexity:** %.1f | **Maintainability:** %.1f | **Findings:** %d\n\n",
		res.Scores.Quality, res.Scores.Complexity, res.Scores.Maintainability, len(res.Findings))

	if len(res.Findings) == 0 {
		fmt.Fprintln(w, "No issues found.")
	} else {
		fmt.Fprintln(w, "| Severity | Rule | Location | Message |")
		fmt.Fprintln(w, "|----------|------|----------|---------|")
		for _, f := range res.Findings {
			loc := f.File
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.File, f.Line)
			}
			fmt.Fprintf(w, "| %s %s | %s | `%s` | %s |\n",
				severityIcon(f.Severity), f.Severity, f.RuleID, loc, mdEscape(f.Message))
		}
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "\n### Warnings\n\n")
		for _, wn := range res.Warnings {
			fmt.Fprintf(w, "- `%s` %s: %s\n", wn.Kind, wn.File, mdEscape(wn.Message))
		}
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintf(w, "\n### Recommendations\n\n")
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "- %s\n", r)
		}
	}
	return nil
}

func outputHTML(w io.Writer, res *engine.Result, set *changeset.Set) error {
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>crev Review Report</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 960px; margin: 40px auto; padding: 0 20px; background: #282a36; color: #f8f8f2; }
  h1 { color: #bd93f9; }
  h2 { color: #8be9fd; font-size: 1.1em; margin-top: 28px; }
  .summary { background: #343746; padding: 16px; border-radius: 8px; margin-bottom: 24px; }
  .summary span { margin-right: 24px; }
  .sev-critical { color: #ff5555; font-weight: bold; }
  .sev-high { color: #ffb86c; font-weight: bold; }
  .sev-medium { color: #f1fa8c; }
  .sev-low { color: #8be9fd; }
  .good { color: #50fa7b; }
  .warn { color: #f1fa8c; }
  .bad { color: #ff5555; }
  table { width: 100%; border-collapse: collapse; }
  th { text-align: left; padding: 8px 12px; background: #44475a; color: #f8f8f2; }
  td { padding: 8px 12px; border-bottom: 1px solid #44475a; vertical-align: top; }
  tr:hover { background: #343746; }
  .rule { color: #bd93f9; }
  .file { color: #8be9fd; }
  .fix { color: #6272a4; font-size: 0.9em; }
  code { background: #343746; padding: 2px 6px; border-radius: 4px; font-size: 0.9em; }
  .clean { color: #50fa7b; font-size: 1.2em; }
  footer { margin-top: 32px; color: #6272a4; font-size: 0.85em; }
</style>
</head>
<body>
<h1>crev Review Report</h1>
`)

	nFiles, added, deleted := set.Stats()
	fmt.Fprintln(w, `<div class="summary">`)
	if res.Commit != "" {
		fmt.Fprintf(w, "  <span>Commit <code>%s</code></span>\n", htmlEscape(shortSHA(res.Commit)))
	}
	if added+deleted > 0 {
		fmt.Fprintf(w, "  <span><strong>%d</strong> file(s) changed</span>\n", nFiles)
		fmt.Fprintf(w, "  <span class=\"good\">+%d</span>\n  <span class=\"bad\">-%d</span>\n", added, deleted)
	} else {
		fmt.Fprintf(w, "  <span><strong>%d</strong> file(s) reviewed</span>\n", nFiles)
	}
	for _, sc := range []struct {
		name  string
		value float64
	}{
		{"Quality", res.Scores.Quality},
		{"Complexity", res.Scores.Complexity},
		{"Maintainability", res.Scores.Maintainability},
	} {
		fmt.Fprintf(w, "  <span>%s <span class=\"%s\">%.1f</span></span>\n", sc.name, scoreClass(sc.value), sc.value)
	}
	fmt.Fprintf(w, "  <span>Findings: <strong>%s</strong></span>\n</div>\n", htmlEscape(countSummary(res.Counts)))

	if len(res.Findings) == 0 {
		fmt.Fprintln(w, `<p class="clean">No issues found.</p>`)
	} else {
		fmt.Fprintln(w, `<table>
<thead><tr><th>Severity</th><th>Rule</th><th>Location</th><th>Message</th></tr></thead>
<tbody>`)
		for _, f := range res.Findings {
			loc := f.File
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.File, f.Line)
			}
			msg := htmlEscape(f.Message)
			if f.Suggestion != "" {
				msg += `<div class="fix">fix: ` + htmlEscape(f.Suggestion) + `</div>`
			}
			fmt.Fprintf(w, "<tr><td class=\"sev-%s\">%s</td><td class=\"rule\">%s</td><td class=\"file\"><code>%s</code></td><td>%s</td></tr>\n",
				f.Severity, f.Severity, htmlEscape(f.RuleID), htmlEscape(loc), msg)
		}
		fmt.Fprintln(w, `</tbody></table>`)
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, `<h2 class="warn">Warnings</h2>
<ul>`)
		for _, wn := range res.Warnings {
			fmt.Fprintf(w, "<li><code>%s</code> %s: %s</li>\n", wn.Kind, htmlEscape(wn.File), htmlEscape(wn.Message))
		}
		fmt.Fprintln(w, `</ul>`)
	}
	if len(set.Ignored) > 0 {
		fmt.Fprintln(w, `<h2>Ignored</h2>
<ul>`)
		for _, ig := range set.Ignored {
			fmt.Fprintf(w, "<li><code>%s</code>: %s</li>\n", htmlEscape(ig.Path), htmlEscape(ig.Reason))
		}
		fmt.Fprintln(w, `</ul>`)
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintln(w, `<h2>Recommendations</h2>
<ul>`)
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "<li>%s</li>\n", htmlEscape(r))
		}
		fmt.Fprintln(w, `</ul>`)
	}

	c := res.Coverage
	fmt.Fprintf(w, "<p class=\"fix\">Coverage: %d step(s), %d completed, %d skipped, %d failed, %d pending</p>\n",
		c.Steps, c.Completed, c.Skipped, c.Failed, c.Pending)
	if res.IncompleteCoverage {
		fmt.Fprintln(w, `<p class="warn">Coverage is incomplete; the result is best effort.</p>`)
	}

	fmt.Fprintln(w, `<footer>Generated by <strong>crev</strong></footer>
</body>
</html>`)
	return nil
}

func countSummary(c engine.Counts) string {
	if c.Total == 0 {
		return "0"
	}
	var parts []string
	for _, s := range model.Severities {
		if n := c.BySeverity[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return fmt.Sprintf("%d (%s)", c.Total, strings.Join(parts, ", "))
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func scoreClass(v float64) string {
	switch {
	case v >= 80:
		return "good"
	case v >= 60:
		return "warn"
	default:
		return "bad"
	}
}

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "!!"
	case model.SeverityHigh:
		return "!"
	case model.SeverityMedium:
		return "*"
	default:
		return "-"
	}
}

func shortSHA(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
