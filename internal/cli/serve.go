package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/api"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the crev review engine.

Endpoints:
  GET  /health       - Health check
  POST /api/review   - Review files or a patch
  GET  /api/rules    - List the configured rules
  GET  /api/ws       - WebSocket streaming step events during a review`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("addr", "a", "127.0.0.1", "address to listen on")
	f.IntP("port", "p", 6142, "port to listen on")
	f.String("strictness", "high", "rule strictness for requests without a profile")
	f.String("project-type", "embedded_system", "project type for requests without a profile")
	f.String("rules", "", "YAML rule file merged with the built-in rules")
	f.Bool("no-builtin", false, "do not load the built-in rules")
	f.Bool("llm", false, "enable LLM-backed semantic checks")
}

func runServe(cmd *cobra.Command, args []string) error {
	repo := cfg.Repository()
	caps := cfg.Capabilities(log)
	factory := func(opts ...engine.Option) *engine.Reviewer {
		return engine.NewReviewer(repo, rules.DefaultChecks(), caps, append(cfg.ReviewerOptions(log), opts...)...)
	}
	srv := api.New(cfg.Server.Address(), factory, repo, cfg.Profile(), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
