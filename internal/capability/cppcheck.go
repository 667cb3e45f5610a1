package capability

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// CppcheckConfig configures the cppcheck capability.
type CppcheckConfig struct {
	Enabled bool
	Path    string
	Timeout time.Duration
}

// CppcheckTool runs the cppcheck binary on a single file.
type CppcheckTool struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCppcheck resolves the binary once. A disabled or missing binary yields
// a tool that reports itself unavailable.
func NewCppcheck(cfg CppcheckConfig, logger *slog.Logger) *CppcheckTool {
	if logger == nil {
		logger = slog.Default()
	}
	t := &CppcheckTool{timeout: cfg.Timeout, logger: logger}
	if t.timeout <= 0 {
		t.timeout = 60 * time.Second
	}
	if !cfg.Enabled {
		return t
	}
	path := cfg.Path
	if path == "" {
		path = "cppcheck"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		logger.Info("cppcheck not found, rules depending on it will be skipped", "path", path)
		return t
	}
	t.bin = bin
	return t
}

func (t *CppcheckTool) Name() string { return Cppcheck }

func (t *CppcheckTool) Available(ctx context.Context) bool { return t.bin != "" }

// ignoredChecks are cppcheck diagnostics about the run itself rather than
// the code.
var ignoredChecks = map[string]bool{
	"missingInclude":              true,
	"missingIncludeSystem":        true,
	"checkersReport":              true,
	"unmatchedSuppression":        true,
	"toomanyconfigs":              true,
	"normalCheckLevelMaxBranches": true,
}

func (t *CppcheckTool) Invoke(ctx context.Context, req Request) fn.Result[Response] {
	if t.bin == "" {
		return fn.Err[Response](Unavailable(Cppcheck, "binary not found"))
	}

	dir, err := os.MkdirTemp("", "crev-cppcheck-")
	if err != nil {
		return fn.Err[Response](fmt.Errorf("creating temp dir: %w", err))
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(req.Path)
	if ext := filepath.Ext(name); ext != ".c" && ext != ".h" {
		name += ".c"
	}
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, []byte(req.Source), 0o600); err != nil {
		return fn.Err[Response](fmt.Errorf("writing temp file: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bin, "--enable=all", "--xml", "--xml-version=2", "--quiet", file)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return fn.Err[Response](fmt.Errorf("cppcheck: %w", ctx.Err()))
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return fn.Err[Response](Unavailable(Cppcheck, runErr.Error()))
	}

	obs, err := parseCppcheckXML(stderr.Bytes())
	if err != nil {
		if runErr != nil {
			return fn.Err[Response](fmt.Errorf("cppcheck failed: %w", runErr))
		}
		return fn.Err[Response](err)
	}
	t.logger.Debug("cppcheck done", "file", req.Path, "observations", len(obs))
	return fn.Ok(Response{Observations: obs})
}

type cppcheckResults struct {
	Errors []struct {
		ID        string `xml:"id,attr"`
		Severity  string `xml:"severity,attr"`
		Msg       string `xml:"msg,attr"`
		Locations []struct {
			Line   int `xml:"line,attr"`
			Column int `xml:"column,attr"`
		} `xml:"location"`
	} `xml:"errors>error"`
}

// parseCppcheckXML reads --xml-version=2 output. Diagnostics without a
// location are dropped; the first location of each is used.
func parseCppcheckXML(data []byte) ([]Observation, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var res cppcheckResults
	if err := xml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing cppcheck xml: %w", err)
	}

	var obs []Observation
	for _, e := range res.Errors {
		if ignoredChecks[e.ID] || len(e.Locations) == 0 {
			continue
		}
		obs = append(obs, Observation{
			Line:     e.Locations[0].Line,
			Column:   e.Locations[0].Column,
			Severity: cppcheckSeverity(e.Severity),
			ID:       e.ID,
			Message:  strings.TrimSpace(e.Msg),
		})
	}
	return obs, nil
}

func cppcheckSeverity(s string) string {
	switch s {
	case "error":
		return "high"
	case "warning":
		return "medium"
	default:
		// style, performance, portability, information
		return "low"
	}
}
