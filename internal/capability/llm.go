package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const defaultLLMURL = "http://localhost:11434"

const systemPrompt = `You are a senior C code reviewer. Review only the code you are given.
Answer with a JSON array and nothing else. Each element is an object with the keys
"line" (1-based line inside the fragment), "severity" (critical, high, medium or low)
and "message". Answer [] when there is nothing to report.`

// LLMConfig configures the LLM capability.
type LLMConfig struct {
	Enabled bool
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// LLMClient talks to an OpenAI-compatible chat completions endpoint such as
// Ollama or LM Studio.
type LLMClient struct {
	enabled  bool
	model    string
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewLLM creates the LLM capability.
func NewLLM(cfg LLMConfig, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.URL
	if base == "" {
		base = defaultLLMURL
	}
	// Normalize URL: strip trailing /, /v1, /v1/chat/completions
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1/chat/completions")
	base = strings.TrimSuffix(base, "/v1")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LLMClient{
		enabled:  cfg.Enabled,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: base + "/v1/chat/completions",
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *LLMClient) Name() string { return LLM }

func (c *LLMClient) Available(ctx context.Context) bool {
	return c.enabled && c.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type rateLimitError struct{}

func (e *rateLimitError) Error() string { return "rate limited" }

type serverError struct {
	statusCode int
	body       string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.statusCode, e.body)
}

// Invoke sends the prompt and code fragment and parses the JSON answer into
// observations. Line numbers are shifted by req.StartLine so they refer to
// the file rather than the fragment.
func (c *LLMClient) Invoke(ctx context.Context, req Request) fn.Result[Response] {
	code := req.Fragment
	if code == "" {
		code = req.Source
	}
	user := fmt.Sprintf("%s\n\nFile: %s\n```c\n%s\n```", req.Prompt, req.Path, code)

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return fn.Err[Response](fmt.Errorf("marshaling request: %w", err))
	}

	var content string
	err = retryWithBackoff(ctx, 2, func() error {
		content, err = c.send(ctx, payload)
		return err
	})
	if err != nil {
		return fn.Err[Response](err)
	}

	obs, err := parseObservations(content)
	if err != nil {
		return fn.Err[Response](fmt.Errorf("llm answer: %w", err))
	}
	offset := req.StartLine - 1
	if offset < 0 {
		offset = 0
	}
	for i := range obs {
		if obs[i].Line > 0 {
			obs[i].Line += offset
		}
	}
	c.logger.Debug("llm review done", "file", req.Path, "observations", len(obs))
	return fn.Ok(Response{Observations: obs, Text: content})
}

func (c *LLMClient) send(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return "", Unavailable(LLM, opErr.Error())
		}
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &rateLimitError{}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", Unavailable(LLM, "authentication failed")
	case resp.StatusCode >= 500:
		return "", &serverError{statusCode: resp.StatusCode, body: string(body)}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func retryWithBackoff(ctx context.Context, maxRetries int, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		// Only rate limits are worth waiting for
		if _, ok := lastErr.(*rateLimitError); !ok {
			return lastErr
		}
		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// parseObservations reads a JSON array of findings out of a model answer,
// tolerating markdown fences and text around the array.
func parseObservations(content string) ([]Observation, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in answer")
	}

	var raw []struct {
		Line     int    `json:"line"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}

	obs := make([]Observation, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Message) == "" {
			continue
		}
		obs = append(obs, Observation{
			Line:     r.Line,
			Severity: strings.ToLower(r.Severity),
			Message:  strings.TrimSpace(r.Message),
		})
	}
	return obs, nil
}
