package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/crev/internal/changeset"
	"github.com/sprite-ai/crev/internal/engine"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/rules"
)

const copySource = `#include <string.h>

void copy_name(char *dst, const char *src) {
    strcpy(dst, src);
}
`

const testPatch = `From 0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c Mon Sep 17 00:00:00 2001
From: Dev <dev@example.com>
Date: Mon, 1 Jun 2026 10:00:00 +0000
Subject: [PATCH] add name copy helper

---
diff --git a/src/copy.c b/src/copy.c
new file mode 100644
--- /dev/null
+++ b/src/copy.c
@@ -0,0 +1,5 @@
+#include <string.h>
+
+void copy_name(char *dst, const char *src) {
+    strcpy(dst, src);
+}
diff --git a/README b/README
index 1111111..2222222 100644
--- a/README
+++ b/README
@@ -1 +1,2 @@
 # Project
+More words
`

type testResponse struct {
	Commit   string              `json:"commit"`
	Findings []model.Finding     `json:"findings"`
	Complete bool                `json:"complete"`
	Ignored  []changeset.Ignored `json:"ignored"`
}

func newTestServer() *Server {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := rules.Builtin()
	factory := func(opts ...engine.Option) *engine.Reviewer {
		opts = append([]engine.Option{engine.WithLogger(quiet)}, opts...)
		return engine.NewReviewer(repo, rules.DefaultChecks(), nil, opts...)
	}
	profile := rules.Profile{Type: "embedded_system", Strictness: rules.StrictnessHigh}
	return New(":0", factory, repo, profile, quiet)
}

func postReview(t *testing.T, srv *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/review", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestReviewEndpointFiles(t *testing.T) {
	srv := newTestServer()

	w := postReview(t, srv, reviewRequest{
		Commit: "abc123",
		Files:  []engine.Input{{Path: "src/copy.c", Source: copySource}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp testResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if len(resp.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(resp.Findings))
	}
	f := resp.Findings[0]
	if f.RuleID != "SEC-001" || f.Severity != model.SeverityCritical || f.Line != 4 {
		t.Errorf("unexpected finding %+v", f)
	}
	if !resp.Complete {
		t.Error("expected a complete review")
	}
	if resp.Commit != "abc123" {
		t.Errorf("expected commit abc123, got %q", resp.Commit)
	}
}

func TestReviewEndpointPatch(t *testing.T) {
	srv := newTestServer()

	w := postReview(t, srv, reviewRequest{Patch: testPatch})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp testResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Commit != "0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c" {
		t.Errorf("commit not taken from the patch header: %q", resp.Commit)
	}
	if len(resp.Findings) != 1 || resp.Findings[0].File != "src/copy.c" {
		t.Errorf("expected one finding in src/copy.c, got %+v", resp.Findings)
	}
	if len(resp.Ignored) != 1 || resp.Ignored[0].Path != "README" {
		t.Errorf("expected README to be ignored, got %+v", resp.Ignored)
	}
}

func TestReviewEndpointBadRequests(t *testing.T) {
	srv := newTestServer()

	tests := []struct {
		name string
		body any
	}{
		{"empty", reviewRequest{}},
		{"strictness", reviewRequest{
			Files:   []engine.Input{{Path: "a.c", Source: "int a;\n"}},
			Profile: &rules.Profile{Strictness: "paranoid"},
		}},
		{"patch without C files", reviewRequest{Patch: "diff --git a/README b/README\n--- a/README\n+++ b/README\n@@ -1 +1 @@\n-a\n+b\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postReview(t, srv, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReviewInvalidJSON(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/review", strings.NewReader("{bad json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRulesEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp rulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Total != 16 || len(resp.Rules) != 16 {
		t.Errorf("expected 16 rules, got %d", resp.Total)
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func TestWebSocketReviewStream(t *testing.T) {
	conn := dialWS(t, newTestServer())

	data, _ := json.Marshal(reviewRequest{Files: []engine.Input{{Path: "src/copy.c", Source: copySource}}})
	if err := conn.WriteJSON(wsMessage{Type: wsMsgReview, Data: data}); err != nil {
		t.Fatalf("ws write: %v", err)
	}

	var first wsMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if first.Type != wsMsgAccepted {
		t.Fatalf("expected %q, got %q", wsMsgAccepted, first.Type)
	}

	steps := 0
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		switch msg.Type {
		case wsMsgStep:
			var ev struct {
				File  string `json:"file"`
				State string `json:"state"`
			}
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				t.Fatalf("step decode: %v", err)
			}
			if ev.File != "src/copy.c" || ev.State == "" {
				t.Errorf("unexpected step event %+v", ev)
			}
			steps++
			continue
		case wsMsgResult:
			var resp testResponse
			if err := json.Unmarshal(msg.Data, &resp); err != nil {
				t.Fatalf("result decode: %v", err)
			}
			if len(resp.Findings) != 1 {
				t.Errorf("expected 1 finding, got %d", len(resp.Findings))
			}
			if steps == 0 {
				t.Error("expected step events before the result")
			}
			return
		default:
			t.Fatalf("unexpected message %q: %s", msg.Type, msg.Data)
		}
	}
}

func TestWebSocketErrors(t *testing.T) {
	conn := dialWS(t, newTestServer())

	for _, msg := range []wsMessage{
		{Type: "bogus"},
		{Type: wsMsgCancel},
		{Type: wsMsgReview, Data: json.RawMessage(`{}`)},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("ws write: %v", err)
		}
		var resp wsMessage
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		if resp.Type != wsMsgError {
			t.Errorf("%s: expected error, got %q", msg.Type, resp.Type)
		}
	}
}
