package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

func TestLoggerDisabledIsNoOp(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Request(context.Background(), "corr-1", "sess-1", "shell_exec", map[string]any{"command": "ls"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLoggerWritesJSONLToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := NewLogger(Config{Enabled: true, Output: "file", Path: path, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	ctx := context.Background()
	l.Request(ctx, "corr-1", "sess-1", "shell_exec", map[string]any{"command": "ls -la"})
	l.Approval(ctx, "corr-1", "sess-1", "shell_exec", "approved", "auto-approved: safe")
	l.Execution(ctx, "corr-1", "sess-1", "shell_exec")
	l.Result(ctx, "corr-1", "sess-1", "shell_exec", "file1\nfile2", 15*time.Millisecond, "success")

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 audit lines, got %d: %s", len(lines), data)
	}

	var first models.AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.EventType != models.AuditRequest {
		t.Fatalf("expected request event, got %v", first.EventType)
	}
	if first.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation ID to survive, got %q", first.CorrelationID)
	}
}

func TestLoggerRedactsSecretsInArguments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := NewLogger(Config{Enabled: true, Output: "file", Path: path, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Request(context.Background(), "corr-2", "sess-1", "http_call", map[string]any{
		"url":    "https://example.com",
		"secret": "super-secret-value",
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	if strings.Contains(string(data), "super-secret-value") {
		t.Fatalf("expected secret field to be redacted, got: %s", data)
	}
}

func TestLoggerBothOutputsToStdoutAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := NewLogger(Config{Enabled: true, Output: "both", Path: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Error(context.Background(), "corr-3", "sess-1", "shell_exec", "provider timed out")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected audit file to exist: %v", err)
	}
}
