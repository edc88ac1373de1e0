package models

import "time"

// Webhook is a registered HTTP delivery destination subscribed to a set of
// typed events.
type Webhook struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Events    []string       `json:"events"`
	Secret    string         `json:"secret"`
	Enabled   bool           `json:"enabled"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	ConsecutiveFailures int `json:"consecutive_failures"`
}

// DeliveryRecord records one delivery attempt of an event to a webhook.
type DeliveryRecord struct {
	ID         string    `json:"id"`
	WebhookID  string    `json:"webhook_id"`
	Event      string    `json:"event"`
	Status     string    `json:"status"` // pending, delivered, failed
	StatusCode int       `json:"status_code,omitempty"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEventType enumerates the five audit event kinds.
type AuditEventType string

const (
	AuditRequest   AuditEventType = "request"
	AuditApproval  AuditEventType = "approval"
	AuditExecution AuditEventType = "execution"
	AuditResult    AuditEventType = "result"
	AuditError     AuditEventType = "error"
)

// AuditEvent is one compliance-grade audit log entry.
type AuditEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     AuditEventType `json:"event_type"`
	ToolName      string         `json:"tool_name,omitempty"`
	Arguments     any            `json:"arguments,omitempty"`
	Result        any            `json:"result,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id,omitempty"`
	User          string         `json:"user,omitempty"`
	Status        string         `json:"status,omitempty"`
	Message       string         `json:"message,omitempty"`
}
