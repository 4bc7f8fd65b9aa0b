package models

import (
	"time"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Selection ties a message to a previously picked page element.
type Selection struct {
	Selector string `json:"selector"`
}

// ToolCallRecord is a structured tool invocation recorded in the context log.
type ToolCallRecord struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultRecord is the structured outcome of one tool call. Exactly one
// of Text or JSON is set on success; IsError marks failures whose message
// lives in Text.
type ToolResultRecord struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Text    string         `json:"text,omitempty"`
	JSON    map[string]any `json:"json,omitempty"`
	IsError bool           `json:"isError,omitempty"`
}

// ChatEntry is one record in a session's conversation. The same shape backs
// both per-session logs:
//
//   - history (messages.json): UI-facing; assistant entries with no rendered
//     text are filtered out, user entries are always kept.
//   - context (context.json): full model-facing log including structured
//     tool-call/tool-result entries.
type ChatEntry struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	ToolCalls   []ToolCallRecord   `json:"toolCalls,omitempty"`
	ToolResults []ToolResultRecord `json:"toolResults,omitempty"`
	Turn        int                `json:"turn"`
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"createdAt"`
	Selection   *Selection         `json:"selection,omitempty"`
}

// VisibleInHistory reports whether the entry belongs in the UI-facing log.
// User entries are always kept; other roles need rendered text.
func (e ChatEntry) VisibleInHistory() bool {
	return e.Role == RoleUser || e.Content != ""
}
