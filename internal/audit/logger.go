// Package audit implements the compliance-grade audit log (C9): every tool
// request, approval decision, execution, result, and error is written as one
// JSON line, redacted before it ever reaches disk. Grounded on
// internal/audit/logger.go's buffered-async-writer design (a channel drained
// by a background goroutine, flushed on a ticker and on Close), narrowed
// from that file's general-purpose EventType/slog-attribute model down to
// the five audit event kinds the conversation service and transport layer
// actually emit.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goatbytes/consoul/internal/models"
	"github.com/goatbytes/consoul/internal/redact"
)

// Config controls where and how audit events are written.
type Config struct {
	// Enabled disables all logging when false; Log becomes a no-op.
	Enabled bool
	// Output is "stdout", "file", or "both".
	Output string
	// Path is the JSONL file path used when Output is "file" or "both".
	Path string

	BufferSize    int
	FlushInterval time.Duration

	Redactor *redact.Redactor
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Redactor == nil {
		c.Redactor = redact.New(nil, nil, 2000)
	}
	return c
}

// Logger buffers audit events and writes them as JSON lines on a background
// goroutine so a slow disk or stdout consumer never blocks the request path
// that produced the event.
type Logger struct {
	config Config
	out    io.Writer
	file   *os.File

	buffer chan *models.AuditEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewLogger opens the configured output(s) and starts the writer goroutine.
func NewLogger(config Config) (*Logger, error) {
	config = config.withDefaults()
	l := &Logger{config: config}
	if !config.Enabled {
		return l, nil
	}

	var writers []io.Writer
	switch config.Output {
	case "", "stdout":
		writers = append(writers, os.Stdout)
	case "file":
		f, err := openAuditFile(config.Path)
		if err != nil {
			return nil, err
		}
		l.file = f
		writers = append(writers, f)
	case "both":
		f, err := openAuditFile(config.Path)
		if err != nil {
			return nil, err
		}
		l.file = f
		writers = append(writers, os.Stdout, f)
	default:
		return nil, fmt.Errorf("audit: unsupported output %q", config.Output)
	}
	l.out = io.MultiWriter(writers...)

	l.buffer = make(chan *models.AuditEvent, config.BufferSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func openAuditFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: file output requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log file: %w", err)
	}
	return f, nil
}

// Close flushes any buffered events and closes the underlying file, if any.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Log enqueues an audit event for writing. Never blocks the caller: if the
// buffer is full the event is written synchronously instead of dropped.
func (l *Logger) Log(ctx context.Context, event models.AuditEvent) {
	if !l.config.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e := event
	select {
	case l.buffer <- &e:
	default:
		l.writeEvent(&e)
	}
}

// Request logs the receipt of a tool call request.
func (l *Logger) Request(ctx context.Context, correlationID, sessionID, toolName string, args any) {
	l.Log(ctx, models.AuditEvent{
		EventType:     models.AuditRequest,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ToolName:      toolName,
		Arguments:     args,
	})
}

// Approval logs an approval decision (auto, approved, or denied).
func (l *Logger) Approval(ctx context.Context, correlationID, sessionID, toolName, status, message string) {
	l.Log(ctx, models.AuditEvent{
		EventType:     models.AuditApproval,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ToolName:      toolName,
		Status:        status,
		Message:       message,
	})
}

// Execution logs that a tool call began executing.
func (l *Logger) Execution(ctx context.Context, correlationID, sessionID, toolName string) {
	l.Log(ctx, models.AuditEvent{
		EventType:     models.AuditExecution,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ToolName:      toolName,
		Status:        "started",
	})
}

// Result logs the outcome of a completed tool call.
func (l *Logger) Result(ctx context.Context, correlationID, sessionID, toolName string, result any, duration time.Duration, status string) {
	l.Log(ctx, models.AuditEvent{
		EventType:     models.AuditResult,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ToolName:      toolName,
		Result:        result,
		DurationMS:    duration.Milliseconds(),
		Status:        status,
	})
}

// Error logs a failure anywhere in the request/approval/execution chain.
func (l *Logger) Error(ctx context.Context, correlationID, sessionID, toolName, message string) {
	l.Log(ctx, models.AuditEvent{
		EventType:     models.AuditError,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ToolName:      toolName,
		Message:       message,
		Status:        "error",
	})
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case e := <-l.buffer:
			l.writeEvent(e)
		case <-ticker.C:
			l.drain()
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case e := <-l.buffer:
			l.writeEvent(e)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(e *models.AuditEvent) {
	redacted := *e
	if e.Arguments != nil {
		redacted.Arguments = l.config.Redactor.Value(e.Arguments)
	}
	if e.Result != nil {
		redacted.Result = l.config.Redactor.Value(e.Result)
	}
	redacted.Message = l.config.Redactor.String(e.Message)

	data, err := json.Marshal(redacted)
	if err != nil {
		return
	}
	var line strings.Builder
	line.Write(data)
	line.WriteByte('\n')
	_, _ = io.WriteString(l.out, line.String())
}
