package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
)

// defaultMaxSteps bounds the step machine. There are no wall-clock timeouts;
// the ceiling is the only control over a runaway run.
const defaultMaxSteps = 30

// Outcome is the terminal state of one loop run.
type Outcome string

const (
	OutcomeSummaryProduced   Outcome = "summary_produced"
	OutcomeVariantsRequested Outcome = "variants_requested"
	OutcomeNoMoreToolCalls   Outcome = "no_more_tool_calls"
	OutcomeStepLimitReached  Outcome = "step_limit_reached"
	OutcomeFailed            Outcome = "failed"
)

// VariantRequest records a generate_variants call for the branch
// coordinator to act on.
type VariantRequest struct {
	Count        int      `json:"count"`
	Instructions []string `json:"instructions"`
}

// VersionInitializer is the single store primitive the loop needs: lazy,
// idempotent materialization of the next version before the first mutation.
type VersionInitializer interface {
	InitNextVersion(ctx context.Context, sessionID string) (int, error)
}

// RunRequest is the input for one loop run.
type RunRequest struct {
	SessionID string

	// Instructions is the user's natural-language request, already enriched
	// with any selected-element context.
	Instructions string

	// Snapshot is the committed HEAD snapshot the working copy starts from.
	Snapshot models.FileSnapshot

	// Context is the prior conversation (context log minus the just-added
	// instruction entry).
	Context []models.ChatEntry

	CurrentVersion         int
	ImageGenerationAllowed bool
	AllowVariants          bool
}

// RunResult is the output of one loop run. TargetVersion is set only when at
// least one mutating tool ran; callers commit with it, or skip committing
// entirely for pure Q&A turns.
type RunResult struct {
	Outcome        Outcome
	Summary        string
	Files          *models.FileSnapshot
	VariantRequest *VariantRequest
	ContextEntries []models.ChatEntry
	TargetVersion  *int
	Usage          services.TokenUsage
}

// Loop drives a bounded sequence of completion-engine steps against an
// in-memory working copy of the session files.
type Loop struct {
	engine   services.CompletionEngine
	versions VersionInitializer
	images   services.ImageGenerator
	progress ProgressSink
	logger   *slog.Logger
	maxSteps int
}

// NewLoop creates an agent loop. images may be nil when the deployment has
// no image collaborator; the image tools then fail softly.
func NewLoop(engine services.CompletionEngine, versions VersionInitializer, images services.ImageGenerator, progress ProgressSink, logger *slog.Logger) *Loop {
	return &Loop{
		engine:   engine,
		versions: versions,
		images:   images,
		progress: progress,
		logger:   logger,
		maxSteps: defaultMaxSteps,
	}
}

// run-scoped mutable state, one per Run invocation.
type runState struct {
	req      RunRequest
	files    models.FileSnapshot
	messages []services.EngineMessage
	entries  []models.ChatEntry

	// target memoizes the lazily initialized next version: only the first
	// mutating tool call per turn creates the directory.
	target  *int
	mutated bool

	summary        string
	variantRequest *VariantRequest
	usage          services.TokenUsage
}

// Run executes the step machine until a terminal outcome. Engine failures
// never leave the session half-mutated: the uncommitted working copy is
// simply not reported back, so the previous committed files stay intact.
func (l *Loop) Run(ctx context.Context, req RunRequest) *RunResult {
	st := &runState{
		req:      req,
		files:    req.Snapshot,
		messages: append(entriesToMessages(req.Context), services.EngineMessage{
			Role:    models.RoleUser,
			Content: req.Instructions,
		}),
	}

	tools := catalog(req.ImageGenerationAllowed, req.AllowVariants)

	for step := 0; step < l.maxSteps; step++ {
		calls, text, err := l.runStep(ctx, st, tools)
		if err != nil {
			l.logger.Error("completion step failed",
				"session_id", req.SessionID,
				"step", step,
				"error", err,
			)
			return l.finish(st, OutcomeFailed, fmt.Sprintf("The model request failed: %v. Your page was left unchanged.", err))
		}

		if len(calls) == 0 {
			// The model is done talking.
			summary := st.summary
			if summary == "" {
				summary = strings.TrimSpace(text)
			}
			return l.finish(st, OutcomeNoMoreToolCalls, summary)
		}

		stop := l.executeCalls(ctx, st, text, calls)
		if stop {
			if st.variantRequest != nil {
				return l.finish(st, OutcomeVariantsRequested, st.summary)
			}
			return l.finish(st, OutcomeSummaryProduced, st.summary)
		}
	}

	l.logger.Warn("step ceiling reached",
		"session_id", req.SessionID,
		"max_steps", l.maxSteps,
	)
	summary := st.summary
	if summary == "" {
		summary = "Stopped after reaching the step limit; the changes made so far were kept."
	}
	return l.finish(st, OutcomeStepLimitReached, summary)
}

// runStep invokes the engine once and drains its event channel, streaming
// line-buffered progress and collecting tool calls in issue order.
func (l *Loop) runStep(ctx context.Context, st *runState, tools []services.ToolDefinition) ([]services.ToolCallRequest, string, error) {
	ch, err := l.engine.StreamStep(ctx, &services.StepRequest{
		System:   systemPrompt,
		Messages: st.messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, "", err
	}

	var (
		text  strings.Builder
		calls []services.ToolCallRequest
		buf   lineBuffer
	)
	for event := range ch {
		switch {
		case event.Err != nil:
			return nil, "", event.Err
		case event.Usage != nil:
			st.usage.InputTokens += event.Usage.InputTokens
			st.usage.OutputTokens += event.Usage.OutputTokens
		case event.ToolCall != nil:
			calls = append(calls, *event.ToolCall)
		case event.TextDelta != "":
			text.WriteString(event.TextDelta)
			for _, line := range buf.Write(event.TextDelta) {
				l.progress.Progress(ctx, st.req.SessionID, line)
			}
		}
	}
	for _, line := range buf.Flush() {
		l.progress.Progress(ctx, st.req.SessionID, line)
	}
	return calls, text.String(), nil
}

// executeCalls runs the step's tool calls and appends the assistant message
// and the paired results to both the engine transcript and the context
// entries. Results are re-sorted to the order the model issued the calls in,
// whatever order execution produced them. Returns true when the loop should
// stop after this step.
func (l *Loop) executeCalls(ctx context.Context, st *runState, text string, calls []services.ToolCallRequest) (stop bool) {
	callRecords := make([]models.ToolCallRecord, len(calls))
	for i, call := range calls {
		callRecords[i] = models.ToolCallRecord{ID: call.ID, Name: call.Name, Input: call.Input}
	}

	assistant := services.EngineMessage{
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: callRecords,
	}
	st.messages = append(st.messages, assistant)
	st.entries = append(st.entries, models.ChatEntry{
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: callRecords,
	})

	byID := make(map[string]models.ToolResultRecord, len(calls))
	for _, call := range calls {
		result, stopAfter := l.executeTool(ctx, st, call)
		byID[call.ID] = result
		if stopAfter {
			stop = true
		}
	}

	// Re-sort to call order before appending to context.
	results := make([]models.ToolResultRecord, len(calls))
	for i, call := range calls {
		results[i] = byID[call.ID]
	}

	st.messages = append(st.messages, services.EngineMessage{
		Role:        models.RoleUser,
		ToolResults: results,
	})
	st.entries = append(st.entries, models.ChatEntry{
		Role:        models.RoleSystem,
		ToolResults: results,
	})
	return stop
}

// executeTool dispatches one tool call. Every failure is recovered into an
// error-tagged result string the model sees on its next step; a tool never
// aborts the loop.
func (l *Loop) executeTool(ctx context.Context, st *runState, call services.ToolCallRequest) (models.ToolResultRecord, bool) {
	result := models.ToolResultRecord{ID: call.ID, Name: call.Name}

	fail := func(err error) (models.ToolResultRecord, bool) {
		result.IsError = true
		result.Text = err.Error()
		l.logger.Debug("tool call failed",
			"session_id", st.req.SessionID,
			"tool", call.Name,
			"error", err,
		)
		return result, false
	}

	switch call.Name {
	case toolReadFile:
		in, err := decodeInput[readFileInput](call.Input)
		if err != nil {
			return fail(err)
		}
		key, _ := models.ParseFileKey(in.File)
		result.Text = st.files.Get(key)
		return result, false

	case toolEditFile:
		in, err := decodeInput[editFileInput](call.Input)
		if err != nil {
			return fail(err)
		}
		key, _ := models.ParseFileKey(in.File)
		if _, err := l.ensureTarget(ctx, st); err != nil {
			return fail(err)
		}
		updated, err := applyEdit(st.files.Get(key), in.OldString, in.NewString)
		if err != nil {
			switch {
			case errors.Is(err, errAmbiguousMatch):
				return fail(fmt.Errorf("edit_file %s: %w", in.File, err))
			case errors.Is(err, errNoMatch):
				return fail(fmt.Errorf("edit_file %s: %w; use read_file to see the current content", in.File, err))
			default:
				return fail(err)
			}
		}
		st.files = st.files.Set(key, updated)
		st.mutated = true
		result.Text = fmt.Sprintf("Replaced text in %s.", in.File)
		return result, false

	case toolSummary:
		in, err := decodeInput[summaryInput](call.Input)
		if err != nil {
			return fail(err)
		}
		st.summary = in.Message
		result.Text = "Summary recorded."
		return result, true

	case toolListImages:
		if !st.req.ImageGenerationAllowed {
			return fail(fmt.Errorf("image generation is not enabled for this session"))
		}
		if l.images == nil {
			return fail(fmt.Errorf("image generation is not configured"))
		}
		version := st.req.CurrentVersion
		if st.target != nil {
			version = *st.target
		}
		assets, err := l.images.List(ctx, st.req.SessionID, version)
		if err != nil {
			return fail(err)
		}
		result.JSON = map[string]any{"images": assets}
		return result, false

	case toolGenerateImage:
		in, err := decodeInput[generateImageInput](call.Input)
		if err != nil {
			return fail(err)
		}
		if !st.req.ImageGenerationAllowed {
			return fail(fmt.Errorf("image generation is not enabled for this session"))
		}
		if l.images == nil {
			return fail(fmt.Errorf("image generation is not configured"))
		}
		version, err := l.ensureTarget(ctx, st)
		if err != nil {
			return fail(err)
		}
		asset, err := l.images.Generate(ctx, st.req.SessionID, version, in.Prompt)
		if err != nil {
			return fail(err)
		}
		st.mutated = true
		result.JSON = map[string]any{"image": asset}
		return result, false

	case toolEditImage:
		in, err := decodeInput[editImageInput](call.Input)
		if err != nil {
			return fail(err)
		}
		if !st.req.ImageGenerationAllowed {
			return fail(fmt.Errorf("image generation is not enabled for this session"))
		}
		if l.images == nil {
			return fail(fmt.Errorf("image generation is not configured"))
		}
		version, err := l.ensureTarget(ctx, st)
		if err != nil {
			return fail(err)
		}
		asset, err := l.images.Edit(ctx, st.req.SessionID, version, in.ImageID, in.Prompt)
		if err != nil {
			return fail(err)
		}
		st.mutated = true
		result.JSON = map[string]any{"image": asset}
		return result, false

	case toolGenerateVariants:
		in, err := decodeInput[generateVariantsInput](call.Input)
		if err != nil {
			return fail(err)
		}
		if !st.req.AllowVariants {
			return fail(fmt.Errorf("variant generation is not available on this turn"))
		}
		st.variantRequest = &VariantRequest{Count: in.Count, Instructions: in.Instructions}
		if st.summary == "" {
			st.summary = fmt.Sprintf("Proposed %d variants of the requested change.", in.Count)
		}
		result.Text = "Variant generation requested."
		return result, true

	default:
		return fail(fmt.Errorf("unknown tool: %s", call.Name))
	}
}

// ensureTarget lazily materializes the next version, once per run.
func (l *Loop) ensureTarget(ctx context.Context, st *runState) (int, error) {
	if st.target != nil {
		return *st.target, nil
	}
	version, err := l.versions.InitNextVersion(ctx, st.req.SessionID)
	if err != nil {
		return 0, fmt.Errorf("initialize next version: %w", err)
	}
	st.target = &version
	return version, nil
}

// finish assembles the result. Mutations are only reported for clean
// outcomes; a failed run discards the working copy so commit never sees
// partial state.
func (l *Loop) finish(st *runState, outcome Outcome, summary string) *RunResult {
	result := &RunResult{
		Outcome:        outcome,
		Summary:        summary,
		VariantRequest: st.variantRequest,
		ContextEntries: st.entries,
		Usage:          st.usage,
	}
	if outcome != OutcomeFailed && st.mutated && st.target != nil {
		files := st.files
		result.Files = &files
		result.TargetVersion = st.target
	}
	if summary != "" {
		result.ContextEntries = append(result.ContextEntries, models.ChatEntry{
			Role:    models.RoleAssistant,
			Content: summary,
		})
	}

	l.logger.Info("agent loop finished",
		"session_id", st.req.SessionID,
		"outcome", string(outcome),
		"mutated", result.TargetVersion != nil,
		"input_tokens", st.usage.InputTokens,
		"output_tokens", st.usage.OutputTokens,
	)
	return result
}

// entriesToMessages converts context-log entries into engine messages.
// Tool-result entries are recorded under the system role in the log but
// travel back to the engine as user messages, matching how providers expect
// tool results to be returned.
func entriesToMessages(entries []models.ChatEntry) []services.EngineMessage {
	messages := make([]services.EngineMessage, 0, len(entries))
	for _, entry := range entries {
		role := entry.Role
		if len(entry.ToolResults) > 0 {
			role = models.RoleUser
		}
		if entry.Content == "" && len(entry.ToolCalls) == 0 && len(entry.ToolResults) == 0 {
			continue
		}
		messages = append(messages, services.EngineMessage{
			Role:        role,
			Content:     entry.Content,
			ToolCalls:   entry.ToolCalls,
			ToolResults: entry.ToolResults,
		})
	}
	return messages
}
