package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		debug     bool
		checkFunc func(t *testing.T, output string)
	}{
		{
			name:   "text info",
			config: Config{Level: "info", Format: "text"},
			checkFunc: func(t *testing.T, output string) {
				if !strings.Contains(output, "level=INFO") || !strings.Contains(output, `msg="test message"`) {
					t.Errorf("expected text output at info level, got: %s", output)
				}
			},
		},
		{
			name:   "json debug",
			config: Config{Level: "debug", Format: "json"},
			debug:  true,
			checkFunc: func(t *testing.T, output string) {
				var entry map[string]any
				if err := json.Unmarshal([]byte(output), &entry); err != nil {
					t.Fatalf("failed to unmarshal JSON log: %v, output: %s", err, output)
				}
				if entry["level"] != "DEBUG" || entry["msg"] != "test message" {
					t.Errorf("expected debug JSON entry, got: %v", entry)
				}
			},
		},
		{
			name:   "unknown level falls back to info",
			config: Config{Level: "chatty"},
			debug:  true,
			checkFunc: func(t *testing.T, output string) {
				if output != "" {
					t.Errorf("debug message should be dropped at info level, got: %s", output)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.config, &buf)
			if tt.debug {
				log.Debug("test message")
			} else {
				log.Info("test message")
			}
			tt.checkFunc(t, buf.String())
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crev.log")
	New(Config{Level: "warn", Output: path}, nil).Warn("disk full")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "disk full") {
		t.Errorf("log file does not contain the message: %s", data)
	}
}
