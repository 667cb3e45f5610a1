package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/model"
)

type stubCapability struct {
	name      string
	available bool
	calls     int
}

func (s *stubCapability) Name() string                       { return s.name }
func (s *stubCapability) Available(ctx context.Context) bool { return s.available }
func (s *stubCapability) Invoke(ctx context.Context, req Request) fn.Result[Response] {
	s.calls++
	return fn.Ok(Response{Text: "ok:" + req.Path})
}

func TestRegistryInvoke(t *testing.T) {
	up := &stubCapability{name: "up", available: true}
	down := &stubCapability{name: "down"}
	reg := NewRegistry(nil, up, down)

	assert.Equal(t, []string{"down", "up"}, reg.Names())
	assert.True(t, reg.Available(context.Background(), "up"))
	assert.False(t, reg.Available(context.Background(), "down"))
	assert.False(t, reg.Available(context.Background(), "missing"))

	resp, err := reg.Invoke(context.Background(), "up", Request{Path: "a.c"}).Unpack()
	require.NoError(t, err)
	assert.Equal(t, "ok:a.c", resp.Text)

	_, err = reg.Invoke(context.Background(), "down", Request{}).Unpack()
	assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)
	assert.Equal(t, 0, down.calls)

	_, err = reg.Invoke(context.Background(), "missing", Request{}).Unpack()
	assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
			return
		}
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "codellama", req.Model)
		assert.Len(t, req.Messages, 2)

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: content}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestLLMInvoke(t *testing.T) {
	answer := "```json\n[{\"line\": 2, \"severity\": \"High\", \"message\": \"possible overflow\"}, {\"line\": 1, \"message\": \"\"}]\n```"
	srv := chatServer(t, http.StatusOK, answer)
	defer srv.Close()

	llm := NewLLM(LLMConfig{Enabled: true, URL: srv.URL + "/v1", Model: "codellama"}, nil)
	require.True(t, llm.Available(context.Background()))

	resp, err := llm.Invoke(context.Background(), Request{
		Path:      "a.c",
		Fragment:  "{\n strcpy(a, b);\n}",
		StartLine: 10,
		Prompt:    "check copies",
	}).Unpack()
	require.NoError(t, err)
	require.Len(t, resp.Observations, 1)
	assert.Equal(t, Observation{Line: 11, Severity: "high", Message: "possible overflow"}, resp.Observations[0])
}

func TestLLMErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := chatServer(t, http.StatusInternalServerError, "")
		defer srv.Close()
		llm := NewLLM(LLMConfig{Enabled: true, URL: srv.URL, Model: "codellama"}, nil)
		_, err := llm.Invoke(context.Background(), Request{Path: "a.c"}).Unpack()
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrCapabilityUnavailable)
	})

	t.Run("auth failure is unavailable", func(t *testing.T) {
		srv := chatServer(t, http.StatusUnauthorized, "")
		defer srv.Close()
		llm := NewLLM(LLMConfig{Enabled: true, URL: srv.URL, Model: "codellama"}, nil)
		_, err := llm.Invoke(context.Background(), Request{Path: "a.c"}).Unpack()
		assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)
	})

	t.Run("unreachable endpoint is unavailable", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, "[]")
		url := srv.URL
		srv.Close()
		llm := NewLLM(LLMConfig{Enabled: true, URL: url, Model: "codellama"}, nil)
		_, err := llm.Invoke(context.Background(), Request{Path: "a.c"}).Unpack()
		assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)
	})

	t.Run("disabled", func(t *testing.T) {
		llm := NewLLM(LLMConfig{Model: "codellama"}, nil)
		assert.False(t, llm.Available(context.Background()))
	})
}

func TestParseObservations(t *testing.T) {
	obs, err := parseObservations("Here you go:\n[]\nThanks")
	require.NoError(t, err)
	assert.Empty(t, obs)

	_, err = parseObservations("no findings")
	assert.Error(t, err)
}

const cppcheckOutput = `<?xml version="1.0" encoding="UTF-8"?>
<results version="2">
    <cppcheck version="2.13.0"/>
    <errors>
        <error id="bufferAccessOutOfBounds" severity="error" msg="Buffer is accessed out of bounds: buf" verbose="...">
            <location file="/tmp/x/a.c" line="7" column="12"/>
        </error>
        <error id="variableScope" severity="style" msg="The scope of the variable &apos;i&apos; can be reduced.">
            <location file="/tmp/x/a.c" line="3" column="9"/>
        </error>
        <error id="missingIncludeSystem" severity="information" msg="Include file not found">
            <location file="/tmp/x/a.c" line="1" column="0"/>
        </error>
        <error id="checkersReport" severity="information" msg="Active checkers: 100/500"/>
    </errors>
</results>`

func TestParseCppcheckXML(t *testing.T) {
	obs, err := parseCppcheckXML([]byte(cppcheckOutput))
	require.NoError(t, err)
	assert.Equal(t, []Observation{
		{Line: 7, Column: 12, Severity: "high", ID: "bufferAccessOutOfBounds", Message: "Buffer is accessed out of bounds: buf"},
		{Line: 3, Column: 9, Severity: "low", ID: "variableScope", Message: "The scope of the variable 'i' can be reduced."},
	}, obs)

	obs, err = parseCppcheckXML(nil)
	require.NoError(t, err)
	assert.Empty(t, obs)

	_, err = parseCppcheckXML([]byte("<results"))
	assert.Error(t, err)
}

func TestCppcheckMissingBinary(t *testing.T) {
	tool := NewCppcheck(CppcheckConfig{Enabled: true, Path: "/nonexistent/cppcheck-binary"}, nil)
	assert.False(t, tool.Available(context.Background()))

	_, err := tool.Invoke(context.Background(), Request{Path: "a.c", Source: "int x;"}).Unpack()
	assert.ErrorIs(t, err, model.ErrCapabilityUnavailable)

	disabled := NewCppcheck(CppcheckConfig{}, nil)
	assert.False(t, disabled.Available(context.Background()))
}
