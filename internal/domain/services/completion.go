package services

import (
	"context"

	"pageforge/internal/domain/models"
)

// CompletionEngine is the pluggable capability that turns a system prompt,
// message history and tool catalog into streamed text and tool-call requests.
// One implementation exists per provider, selected at startup.
type CompletionEngine interface {
	// StreamStep runs a single completion step. The returned channel yields
	// text deltas and tool-call requests as they arrive, then exactly one
	// terminal event carrying either Usage or Err, and is closed.
	StreamStep(ctx context.Context, req *StepRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g. "anthropic", "lorem").
	Name() string
}

// StepRequest contains the parameters for one completion step.
type StepRequest struct {
	// System is the system prompt for the whole run.
	System string

	// Messages is the accumulated conversation, oldest first.
	Messages []EngineMessage

	// Tools is the catalog offered for this step.
	Tools []ToolDefinition

	// Model is the provider-specific model identifier; empty selects the
	// provider default.
	Model string
}

// EngineMessage is one conversation message handed to the engine. Tool calls
// and results ride alongside text so providers can rebuild their native
// block structure.
type EngineMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCallRecord
	ToolResults []models.ToolResultRecord
}

// ToolDefinition describes one tool offered to the engine, JSON-Schema style.
type ToolDefinition struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// ToolCallRequest is a tool invocation the engine asks the loop to perform.
type ToolCallRequest struct {
	ID    string
	Name  string
	Input map[string]any
}

// TokenUsage is the engine's final accounting for one step. Ignored by core
// logic; used only for operational logging.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// StreamEvent is one item on a step's event channel.
type StreamEvent struct {
	// TextDelta is an incremental chunk of assistant text.
	TextDelta string

	// ToolCall is a complete tool invocation request.
	ToolCall *ToolCallRequest

	// Usage marks successful step completion.
	Usage *TokenUsage

	// Err marks failed step completion.
	Err error
}
