// Package agent implements the per-turn pipeline: agent resolution under
// concurrent claims, the streaming turn orchestrator, and the bounded
// research delegation tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/protocol"
)

var tracer = otel.Tracer("github.com/parleyhq/parley/internal/agent")

// Turn states. A turn moves Starting -> AgentResolved -> ToolsLoaded ->
// Streaming and settles in exactly one of Finished, Aborted, or Failed
// before the one-shot finalize step runs.
const (
	StateStarting      = "starting"
	StateAgentResolved = "agent_resolved"
	StateToolsLoaded   = "tools_loaded"
	StateStreaming     = "streaming"
	StateFinished      = "finished"
	StateAborted       = "aborted"
	StateFailed        = "failed"
)

// ErrEmptyTurn rejects a turn with neither free text nor messages.
var ErrEmptyTurn = errors.New("agent: turn has no content")

// ErrTooManyMessages rejects an oversized structured history.
var ErrTooManyMessages = errors.New("agent: message list exceeds input cap")

// Config bounds one turn's resource usage. Zero values take defaults.
type Config struct {
	// HistoryLimit caps the message context assembled at turn start.
	HistoryLimit int
	// StepHistoryLimit caps the context sent on each reasoning step. It is
	// tighter than HistoryLimit so tool-call loops cannot grow the context.
	StepHistoryLimit int
	// MaxInputMessages caps the structured history a caller may submit.
	MaxInputMessages int
	// MaxSteps caps reasoning steps per turn.
	MaxSteps int
	// MaxResearchCalls caps research delegations per turn.
	MaxResearchCalls int32
	// BufferLimit is the streamed-delta accumulation ceiling in bytes.
	BufferLimit int
	// StorageLimit is the persisted-content ceiling in bytes.
	StorageLimit int
}

func (c *Config) applyDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 40
	}
	if c.StepHistoryLimit <= 0 {
		c.StepHistoryLimit = 24
	}
	if c.MaxInputMessages <= 0 {
		c.MaxInputMessages = 200
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 20
	}
	if c.MaxResearchCalls <= 0 {
		c.MaxResearchCalls = 3
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = 64 * 1024
	}
	if c.StorageLimit <= 0 {
		c.StorageLimit = 256 * 1024
	}
}

// toolLoader is the aggregator contract the orchestrator depends on.
type toolLoader interface {
	Load(ctx context.Context, officeID, scope string) (*tools.Set, mcp.CleanupFunc, error)
}

// Orchestrator drives one user turn end to end: resolve the agent, load
// tools and persist the user message in parallel, stream the model with a
// bounded reasoning loop, and finalize exactly once.
type Orchestrator struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	provider      providers.Provider
	loader        toolLoader
	resolver      *Resolver
	scheduler     bus.Scheduler
	redactor      *Redactor
	events        bus.EventPublisher // nil disables broadcast
	cfg           Config
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConfig overrides the default turn bounds.
func WithConfig(cfg Config) OrchestratorOption {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithRedactor sets the log redactor. Without one, errors are logged as-is.
func WithRedactor(r *Redactor) OrchestratorOption {
	return func(o *Orchestrator) { o.redactor = r }
}

// WithEventBus broadcasts turn lifecycle events to subscribers.
func WithEventBus(events bus.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = events }
}

func NewOrchestrator(
	conversations store.ConversationStore,
	messages store.MessageStore,
	provider providers.Provider,
	loader toolLoader,
	resolver *Resolver,
	scheduler bus.Scheduler,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		conversations: conversations,
		messages:      messages,
		provider:      provider,
		loader:        loader,
		resolver:      resolver,
		scheduler:     scheduler,
		redactor:      NewRedactor(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg.applyDefaults()
	return o
}

// RunRequest is one inbound user turn: free text, or a structured message
// history, for an existing conversation.
type RunRequest struct {
	ConversationID uuid.UUID
	Content        string
	Messages       []providers.Message
}

// RunResult is the settled outcome of a turn.
type RunResult struct {
	State     string // "finished" or "aborted"
	Content   string
	Truncated bool
	Steps     int
	Usage     providers.Usage
}

// turnContext is the ephemeral per-turn state. Created at turn start,
// discarded at turn end; only its outcome is persisted.
type turnContext struct {
	conv     *store.Conversation
	agentRef string
	set      *tools.Set
	cleanup  mcp.CleanupFunc

	buf           *Buffer
	steps         int
	stepSummaries []string

	// usage accumulates from the stream loop and from research delegations
	// running on concurrent tool goroutines, so writes are lock-guarded.
	usageMu sync.Mutex
	usage   providers.Usage

	// researchCalls is incremented synchronously at delegation entry,
	// before any network I/O, so concurrent delegation bursts inside one
	// reasoning step are still bounded exactly.
	researchCalls atomic.Int32

	// specialist caches the research agent reference for the turn.
	specialistMu  sync.Mutex
	specialistRef string

	finalized atomic.Bool
}

func (tc *turnContext) addUsage(u *providers.Usage) {
	tc.usageMu.Lock()
	tc.usage.Add(u)
	tc.usageMu.Unlock()
}

// RunTurn executes one turn. onDelta receives each streamed text fragment;
// it may be nil. On client cancellation the turn still finalizes in the
// background and RunTurn returns the partial result with state "aborted".
func (o *Orchestrator) RunTurn(ctx context.Context, req RunRequest, onDelta func(string)) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "turn.run",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID.String())))
	defer span.End()

	// Starting: reject before touching any resource.
	if err := o.validate(req); err != nil {
		return nil, err
	}

	conv, err := o.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	tc := &turnContext{conv: conv, buf: NewBuffer(o.cfg.BufferLimit)}

	// AgentResolved.
	tc.agentRef, err = o.resolver.Resolve(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}
	span.SetAttributes(attribute.String("agent.ref", tc.agentRef))

	// ToolsLoaded: tool aggregation and user-message persistence are
	// independent, so they run concurrently. A failed persist fails the
	// turn; a failed load degrades it to built-in tools only.
	var loadErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, cleanup, err := o.loader.Load(gctx, conv.OfficeID, conv.Scope)
		if err != nil {
			loadErr = err
			return nil
		}
		tc.set, tc.cleanup = set, cleanup
		return nil
	})
	g.Go(func() error {
		return o.persistUserMessage(gctx, req)
	})
	if err := g.Wait(); err != nil {
		o.releaseTools(tc)
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if loadErr != nil {
		slog.Warn("turn.tools.degraded", "conversation", conv.ID, "error", o.redactor.RedactError(loadErr))
		tc.set = tools.NewSet()
	}
	tc.set.Add(o.researchTool(tc))
	slog.Info("turn.tools_loaded", "conversation", conv.ID, "tools", tc.set.Len())

	// Streaming.
	result, err := o.stream(ctx, req, tc, onDelta)
	if err != nil {
		// The terminal state was already finalized inside stream().
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) validate(req RunRequest) error {
	if req.ConversationID == uuid.Nil {
		return errors.New("agent: conversation id required")
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Messages) == 0 {
		return ErrEmptyTurn
	}
	if len(req.Messages) > o.cfg.MaxInputMessages {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMessages, len(req.Messages), o.cfg.MaxInputMessages)
	}
	return nil
}

// persistUserMessage stores the user's side of the turn, truncated to the
// storage ceiling.
func (o *Orchestrator) persistUserMessage(ctx context.Context, req RunRequest) error {
	content := req.Content
	if content == "" {
		// Structured history: persist the latest user message.
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				content = req.Messages[i].Content
				break
			}
		}
	}
	if content == "" {
		return nil
	}
	return o.messages.Append(ctx, &store.Message{
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        truncateForStorage(content, o.cfg.StorageLimit),
	})
}

// stream runs the bounded reasoning loop and drives the turn into exactly
// one terminal state.
func (o *Orchestrator) stream(ctx context.Context, req RunRequest, tc *turnContext, onDelta func(string)) (*RunResult, error) {
	msgs := o.seedMessages(req)

	appendDelta := func(delta string) {
		tc.buf.Append(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	for tc.steps < o.cfg.MaxSteps {
		tc.steps++
		stepCtx, stepSpan := tracer.Start(ctx, "turn.step",
			trace.WithAttributes(attribute.Int("step", tc.steps)))

		// Per-step pruning keeps tool-call loops from growing the context.
		msgs = pruneHistory(msgs, o.cfg.StepHistoryLimit)

		step, err := o.provider.StreamTurn(stepCtx, providers.TurnRequest{
			AgentRef: tc.agentRef,
			Messages: msgs,
			Tools:    tc.set.Definitions(),
		}, appendDelta)
		stepSpan.End()
		if err != nil {
			if ctx.Err() != nil {
				return o.finalizeAborted(ctx, tc), nil
			}
			o.finalizeFailed(ctx, tc, err)
			return nil, fmt.Errorf("stream step %d: %w", tc.steps, err)
		}

		tc.addUsage(step.Usage)
		if step.Content != "" {
			tc.stepSummaries = append(tc.stepSummaries, step.Content)
		}

		if step.StopReason != "tool_use" || len(step.ToolCalls) == 0 {
			// Some providers settle the final text without token deltas.
			if tc.buf.Len() == 0 && step.Content != "" {
				tc.buf.Append(step.Content)
			}
			return o.finalizeFinished(ctx, tc), nil
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   step.Content,
			ToolCalls: step.ToolCalls,
		})
		results := o.executeToolCalls(ctx, tc, step.ToolCalls)
		msgs = append(msgs, results...)

		if ctx.Err() != nil {
			return o.finalizeAborted(ctx, tc), nil
		}
	}

	// Step cap hit: defense-in-depth against non-delegation loops. The
	// turn still finishes with whatever streamed.
	slog.Warn("turn.step_cap_reached", "conversation", tc.conv.ID, "steps", tc.steps)
	return o.finalizeFinished(ctx, tc), nil
}

func (o *Orchestrator) seedMessages(req RunRequest) []providers.Message {
	var msgs []providers.Message
	if len(req.Messages) > 0 {
		msgs = append(msgs, req.Messages...)
	}
	if strings.TrimSpace(req.Content) != "" {
		msgs = append(msgs, providers.Message{Role: "user", Content: req.Content})
	}
	return pruneHistory(msgs, o.cfg.HistoryLimit)
}

// executeToolCalls runs one reasoning step's tool calls concurrently and
// returns their results as tool messages in call order. Individual tool
// failures become error results fed back to the model, never turn failures.
func (o *Orchestrator) executeToolCalls(ctx context.Context, tc *turnContext, calls []providers.ToolCall) []providers.Message {
	results := make([]providers.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = providers.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    o.executeOne(ctx, tc, call),
			}
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) executeOne(ctx context.Context, tc *turnContext, call providers.ToolCall) string {
	t, ok := tc.set.Get(call.Name)
	if !ok {
		slog.Warn("turn.tool.unknown", "conversation", tc.conv.ID, "tool", call.Name)
		return fmt.Sprintf("unknown tool %q", call.Name)
	}
	res, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		slog.Warn("turn.tool.failed",
			"conversation", tc.conv.ID,
			"tool", call.Name,
			"error", o.redactor.RedactError(err),
		)
		return fmt.Sprintf("tool %q failed: %s", call.Name, o.redactor.RedactError(err))
	}
	return res.ForModel
}

// finalizeFinished persists the full accumulated text. Runs once.
func (o *Orchestrator) finalizeFinished(ctx context.Context, tc *turnContext) *RunResult {
	res := &RunResult{
		State:     StateFinished,
		Content:   tc.buf.String(),
		Truncated: tc.buf.Truncated(),
		Steps:     tc.steps,
		Usage:     tc.usage,
	}
	o.finalize(ctx, tc, StateFinished, res.Content)
	return res
}

// finalizeAborted persists the streamed partial, falling back to the step
// summaries when nothing streamed. Runs once, on a background context, so a
// disconnected client cannot stop it.
func (o *Orchestrator) finalizeAborted(ctx context.Context, tc *turnContext) *RunResult {
	content := tc.buf.String()
	if content == "" && len(tc.stepSummaries) > 0 {
		content = strings.Join(tc.stepSummaries, "\n")
	}
	res := &RunResult{
		State:     StateAborted,
		Content:   content,
		Truncated: tc.buf.Truncated(),
		Steps:     tc.steps,
		Usage:     tc.usage,
	}
	o.finalize(ctx, tc, StateAborted, content)
	return res
}

// finalizeFailed logs the redacted error. Output already streamed to the
// client is persisted; when no content was ever produced, nothing new is.
func (o *Orchestrator) finalizeFailed(ctx context.Context, tc *turnContext, cause error) {
	slog.Error("turn.failed",
		"conversation", tc.conv.ID,
		"step", tc.steps,
		"error", o.redactor.RedactError(cause),
	)
	o.finalize(ctx, tc, StateFailed, tc.buf.String())
}

// finalize is the one-shot terminal step: persist the assistant message
// (when there is content) and release tool connections. The compare-and-swap
// guard makes a finished/aborted race settle on exactly one outcome. The
// persist runs on a cancellation-free context so client disconnect cannot
// drop already-streamed output.
func (o *Orchestrator) finalize(ctx context.Context, tc *turnContext, state, content string) {
	if !tc.finalized.CompareAndSwap(false, true) {
		return
	}
	defer o.releaseTools(tc)

	bg := context.WithoutCancel(ctx)
	if content != "" {
		err := o.messages.Append(bg, &store.Message{
			ConversationID: tc.conv.ID,
			Role:           "assistant",
			Content:        truncateForStorage(content, o.cfg.StorageLimit),
			Model:          o.provider.DefaultModel(),
			PromptTokens:   tc.usage.PromptTokens,
			ResponseTokens: tc.usage.ResponseTokens,
		})
		if err != nil {
			slog.Error("turn.persist_failed",
				"conversation", tc.conv.ID,
				"state", state,
				"error", o.redactor.RedactError(err),
			)
		}
	}
	slog.Info("turn.finalized",
		"conversation", tc.conv.ID,
		"state", state,
		"steps", tc.steps,
		"bytes", len(content),
		"prompt_tokens", tc.usage.PromptTokens,
		"response_tokens", tc.usage.ResponseTokens,
	)
	if o.events != nil {
		o.events.Broadcast(bus.Event{
			Name: protocol.EventTurnFinalized,
			Payload: map[string]any{
				"conversation_id": tc.conv.ID.String(),
				"state":           state,
				"steps":           tc.steps,
			},
		})
	}
}

// releaseTools runs the aggregator's cleanup. Safe on a turn whose load
// failed or never produced a cleanup.
func (o *Orchestrator) releaseTools(tc *turnContext) {
	if tc.cleanup == nil {
		return
	}
	cleanup := tc.cleanup
	tc.cleanup = nil
	cleanup()
}
