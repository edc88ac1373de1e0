// Package toolexec is the default ToolExecutor wired into
// cmd/consoulserver: a small set of self-contained tools (file read/write
// scoped to a workspace root, and a shell command runner) implementing
// conversation.ToolExecutor directly, so the Conversation Service never
// has to special-case which concrete tool ran.
//
// conversation.ToolExecutor's own doc comment states concrete tool
// implementations are "supplied by the embedding application" — this is
// that application-level wiring. The tools are hand-rolled directly
// against os and os/exec; no other tool-implementation package in this
// module is involved.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

// Config scopes the filesystem tools to a workspace root and bounds the
// shell tool's runtime.
type Config struct {
	Workspace  string
	ExecTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	return c
}

// Executor dispatches an approved tool call by name.
type Executor struct {
	config Config
}

// New builds an Executor.
func New(config Config) *Executor {
	return &Executor{config: config.withDefaults()}
}

// Execute implements conversation.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) (string, error) {
	switch call.Name {
	case "read_file":
		return e.readFile(call.Arguments)
	case "write_file":
		return e.writeFile(call.Arguments)
	case "shell_exec":
		return e.shellExec(ctx, call.Arguments)
	default:
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
}

// Definitions returns the models.Tool catalog entries for the tools this
// Executor runs, for registration with tools.Registry.
func Definitions() []models.Tool {
	return []models.Tool{
		{
			Name:        "read_file",
			Description: "Read a UTF-8 text file from the workspace.",
			Schema:      mustSchema(readFileSchema),
			RiskLevel:   models.RiskSafe,
			Enabled:     true,
		},
		{
			Name:        "write_file",
			Description: "Write (overwrite) a UTF-8 text file in the workspace.",
			Schema:      mustSchema(writeFileSchema),
			RiskLevel:   models.RiskCaution,
			Enabled:     true,
		},
		{
			Name:        "shell_exec",
			Description: "Run a shell command in the workspace and return its combined output.",
			Schema:      mustSchema(shellExecSchema),
			RiskLevel:   models.RiskDangerous,
			Enabled:     true,
		},
	}
}

type readFileArgs struct {
	Path string `json:"path"`
}

func (e *Executor) readFile(raw json.RawMessage) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid read_file arguments: %w", err)
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args.Path, err)
	}
	return string(data), nil
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (e *Executor) writeFile(raw json.RawMessage) (string, error) {
	var args writeFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid write_file arguments: %w", err)
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories for %s: %w", args.Path, err)
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", args.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), nil
}

type shellExecArgs struct {
	Command string `json:"command"`
}

func (e *Executor) shellExec(ctx context.Context, raw json.RawMessage) (string, error) {
	var args shellExecArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid shell_exec arguments: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	cmd.Dir = e.config.Workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command failed: %w\n%s", err, out.String())
	}
	return out.String(), nil
}

// resolve keeps a tool-supplied path confined to the workspace root,
// rejecting any path (after cleaning) that escapes it via "..".
func (e *Executor) resolve(path string) (string, error) {
	full := filepath.Join(e.config.Workspace, path)
	rel, err := filepath.Rel(e.config.Workspace, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return full, nil
}

const readFileSchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`
const writeFileSchema = `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`
const shellExecSchema = `{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`

func mustSchema(s string) []byte {
	return []byte(s)
}
