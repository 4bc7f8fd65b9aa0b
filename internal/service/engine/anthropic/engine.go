package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
)

const defaultMaxTokens = 8192

// eventBuffer bounds the channel between the SDK reader and the consuming
// loop so a slow consumer applies backpressure instead of growing memory.
const eventBuffer = 16

// Engine implements the CompletionEngine capability on the Anthropic API.
type Engine struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// New creates an Anthropic-backed engine. model may be empty to use the
// account default passed per request.
func New(apiKey, model string, logger *slog.Logger) *Engine {
	return &Engine{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
		logger:    logger,
	}
}

// Name implements services.CompletionEngine.
func (e *Engine) Name() string { return "anthropic" }

// StreamStep implements services.CompletionEngine. The SDK stream is drained
// on a reader goroutine; text deltas forward as they arrive, tool calls and
// usage are taken from the accumulated message once the stream ends.
func (e *Engine) StreamStep(ctx context.Context, req *services.StepRequest) (<-chan services.StreamEvent, error) {
	params, err := e.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan services.StreamEvent, eventBuffer)
	go func() {
		defer close(out)

		stream := e.client.Messages.NewStreaming(ctx, params)
		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- services.StreamEvent{Err: fmt.Errorf("accumulate stream event: %w", err)}
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- services.StreamEvent{TextDelta: delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- services.StreamEvent{Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}

		for _, block := range message.Content {
			switch b := block.AsAny().(type) {
			case anthropic.ToolUseBlock:
				input := map[string]any{}
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						e.logger.Warn("undecodable tool input",
							"tool", b.Name,
							"error", err,
						)
					}
				}
				out <- services.StreamEvent{ToolCall: &services.ToolCallRequest{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				}}
			}
		}

		e.logger.Debug("completion step finished",
			"model", string(message.Model),
			"stop_reason", string(message.StopReason),
			"input_tokens", message.Usage.InputTokens,
			"output_tokens", message.Usage.OutputTokens,
		)
		out <- services.StreamEvent{Usage: &services.TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		}}
	}()
	return out, nil
}

func (e *Engine) buildParams(req *services.StepRequest) (anthropic.MessageNewParams, error) {
	model := e.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	messages, err := buildMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: e.maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, def := range req.Tools {
			tools[i] = anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: def.Properties,
						Required:   def.Required,
					},
				},
			}
		}
		params.Tools = tools
	}
	return params, nil
}

// buildMessages rebuilds the provider's native block structure from engine
// messages: tool calls ride on assistant turns, tool results come back as
// user turns.
func buildMessages(messages []services.EngineMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Input, call.Name))
		}
		for _, result := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.ID, toolResultText(result), result.IsError))
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleUser, models.RoleSystem:
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return out, nil
}

func toolResultText(result models.ToolResultRecord) string {
	if result.JSON != nil {
		raw, err := json.Marshal(result.JSON)
		if err == nil {
			return string(raw)
		}
	}
	return result.Text
}
