package lorem

import (
	"context"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"

	"pageforge/internal/domain/services"
)

// Engine is a mock completion engine that streams lorem ipsum text and then
// closes the turn with a summary tool call. It exists so the whole pipeline
// can run in development and tests without an API key.
type Engine struct {
	generator *loremgen.Lorem
	wordDelay time.Duration
}

// New creates a lorem engine. delay is the pause between streamed words;
// zero streams as fast as the consumer reads.
func New(delay time.Duration) *Engine {
	return &Engine{
		generator: loremgen.New(),
		wordDelay: delay,
	}
}

// Name implements services.CompletionEngine.
func (e *Engine) Name() string { return "lorem" }

// StreamStep implements services.CompletionEngine. The first step of a run
// streams two sentences and asks for a summary tool call; once a summary
// result is visible in the transcript it emits nothing further, so the loop
// exits on its next step.
func (e *Engine) StreamStep(ctx context.Context, req *services.StepRequest) (<-chan services.StreamEvent, error) {
	out := make(chan services.StreamEvent, 16)
	go func() {
		defer close(out)

		inputTokens := 0
		for _, msg := range req.Messages {
			inputTokens += len(strings.Fields(msg.Content))
		}

		if summaryAlreadyRequested(req.Messages) {
			out <- services.StreamEvent{Usage: &services.TokenUsage{InputTokens: inputTokens}}
			return
		}

		text := e.generator.Sentence(5, 12) + "\n" + e.generator.Sentence(5, 12) + "\n"
		outputTokens := 0
		for _, word := range strings.SplitAfter(text, " ") {
			if e.wordDelay > 0 {
				select {
				case <-time.After(e.wordDelay):
				case <-ctx.Done():
					out <- services.StreamEvent{Err: ctx.Err()}
					return
				}
			}
			out <- services.StreamEvent{TextDelta: word}
			outputTokens++
		}

		if hasTool(req.Tools, "summary") {
			out <- services.StreamEvent{ToolCall: &services.ToolCallRequest{
				ID:   "toolu_" + uuid.NewString(),
				Name: "summary",
				Input: map[string]any{
					"message": e.generator.Sentence(4, 8),
				},
			}}
		}
		out <- services.StreamEvent{Usage: &services.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}}
	}()
	return out, nil
}

func summaryAlreadyRequested(messages []services.EngineMessage) bool {
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			if call.Name == "summary" {
				return true
			}
		}
	}
	return false
}

func hasTool(tools []services.ToolDefinition, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
