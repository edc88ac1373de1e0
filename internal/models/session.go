package models

import "time"

// ToolFilter scopes which tools a session may invoke.
//
// Precedence when evaluating a tool name against a filter: deny beats
// everything, allow (if non-empty) is a whitelist, then the risk ceiling,
// then the category set.
type ToolFilter struct {
	Allow        []string    `json:"allow,omitempty"`
	Deny         []string    `json:"deny,omitempty"`
	RiskLevelMax RiskLevel   `json:"risk_level_max,omitempty"`
	Categories   []string    `json:"categories,omitempty"`
}

// SessionConfig carries the per-session settings synthesized on first save:
// model choice, sampling, system prompt, and tool scoping.
type SessionConfig struct {
	SystemPrompt string     `json:"system_prompt,omitempty"`
	ToolsEnabled bool       `json:"tools_enabled"`
	ToolFilter   ToolFilter `json:"tool_filter,omitempty"`
}

// Session is a durable conversation identified by SessionID.
//
// Invariants: UpdatedAt >= CreatedAt; the struct and everything reachable
// from it is JSON-serializable; len(Messages) is bounded by the store's
// configured max-messages; Messages alternates {system?, user, assistant,
// tool}... with any system message only at index 0.
type Session struct {
	SessionID   string         `json:"session_id"`
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature"`
	Messages    []Message      `json:"messages"`
	Config      SessionConfig  `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the session so callers holding a session
// lock can mutate their own copy without racing readers elsewhere.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cm := m
		if m.ToolCalls != nil {
			cm.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		if m.Metadata != nil {
			cm.Metadata = make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				cm.Metadata[k] = v
			}
		}
		out.Messages[i] = cm
	}
	out.Config.ToolFilter.Allow = append([]string(nil), s.Config.ToolFilter.Allow...)
	out.Config.ToolFilter.Deny = append([]string(nil), s.Config.ToolFilter.Deny...)
	out.Config.ToolFilter.Categories = append([]string(nil), s.Config.ToolFilter.Categories...)
	return &out
}
