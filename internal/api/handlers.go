package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sprite-ai/crev/internal/changeset"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Review ---

// reviewRequest carries full sources in Files, a patch, or both. Files
// changed by the patch are reviewed when the patch creates them or when
// Files supplies their post-image.
type reviewRequest struct {
	Commit        string         `json:"commit,omitempty"`
	CommitMessage string         `json:"commit_message,omitempty"`
	Files         []engine.Input `json:"files,omitempty"`
	Patch         string         `json:"patch,omitempty"`
	Profile       *rules.Profile `json:"profile,omitempty"`
}

type reviewResponse struct {
	*engine.Result
	Ignored []changeset.Ignored `json:"ignored,omitempty"`
}

var errNothingToReview = errors.New("files or patch required")

func (s *Server) buildRequest(req reviewRequest) (engine.Request, []changeset.Ignored, error) {
	out := engine.Request{
		Commit:        req.Commit,
		CommitMessage: req.CommitMessage,
		Files:         append([]engine.Input(nil), req.Files...),
		Profile:       s.profile,
	}
	if req.Profile != nil {
		st, ok := rules.ParseStrictness(string(req.Profile.Strictness))
		if !ok {
			return out, nil, fmt.Errorf("unknown strictness %q", req.Profile.Strictness)
		}
		out.Profile = rules.Profile{Type: strings.ToLower(req.Profile.Type), Strictness: st}
	}

	var ignored []changeset.Ignored
	if req.Patch != "" {
		set, err := changeset.FromPatch(strings.NewReader(req.Patch), nil)
		if err != nil {
			return out, nil, err
		}
		if out.Commit == "" {
			out.Commit = set.Commit
		}
		if out.CommitMessage == "" {
			out.CommitMessage = set.Message
		}
		given := make(map[string]bool, len(req.Files))
		for _, f := range req.Files {
			given[f.Path] = true
		}
		for _, in := range set.Inputs() {
			if !given[in.Path] {
				out.Files = append(out.Files, in)
			}
		}
		for _, ig := range set.Ignored {
			if !given[ig.Path] {
				ignored = append(ignored, ig)
			}
		}
	}

	if len(out.Files) == 0 {
		return out, ignored, errNothingToReview
	}
	for i := range out.Files {
		if out.Files[i].Language == "" {
			out.Files[i].Language = changeset.DetectLanguage(out.Files[i].Path)
		}
	}
	return out, ignored, nil
}

func (s *Server) review(ctx context.Context, req engine.Request, opts ...engine.Option) (*engine.Result, error) {
	res, err := s.newReviewer(opts...).Review(ctx, req)
	if err != nil {
		s.logger.Error("review failed", "error", err)
		return nil, err
	}
	return res, nil
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var body reviewRequest
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	req, ignored, err := s.buildRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.review(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrRepository) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, reviewResponse{Result: res, Ignored: ignored})
}

// --- Rules ---

type rulesResponse struct {
	Total int          `json:"total"`
	Rules []rules.Rule `json:"rules"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.repo.Rules()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rulesResponse{Total: len(rs), Rules: rs})
}
