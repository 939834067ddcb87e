// internal/run/coordinator.go
package run

import (
	stdctx "context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	convctx "github.com/sachiniyer/meal-finder/internal/context"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
	"github.com/sachiniyer/meal-finder/pkg/llm"
)

// ErrRunActive is returned when a conversation already has a
// non-terminal run. A conversation processes one run at a time.
var ErrRunActive = errors.New("conversation already has an active run")

// Coordinator owns run execution: it enforces the one-active-run
// invariant per conversation, bounds global concurrency, and drives the
// reason/act loop until the engine produces a final answer.
type Coordinator struct {
	provider      llm.Provider
	registry      *tool.Registry
	engine        *convctx.Engine
	conversations types.ConversationStore
	maxRounds     int
	sem           *semaphore.Weighted
	logger        *slog.Logger

	mu     sync.Mutex
	active map[types.ConversationID]*Run
	wg     sync.WaitGroup
}

// NewCoordinator creates a run coordinator. maxConcurrent bounds how
// many runs execute at once across all conversations; maxRounds bounds
// tool rounds within a single run.
func NewCoordinator(provider llm.Provider, registry *tool.Registry, engine *convctx.Engine, conversations types.ConversationStore, maxConcurrent, maxRounds int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		provider:      provider,
		registry:      registry,
		engine:        engine,
		conversations: conversations,
		maxRounds:     maxRounds,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		logger:        logger.With("component", "coordinator"),
		active:        make(map[types.ConversationID]*Run),
	}
}

// Submit claims the conversation's run slot, persists userMsg, and
// starts a run over the resulting history. The run executes on its own
// detached context so the submitting connection's lifetime does not
// affect it. Returns ErrRunActive if the conversation already has a run
// in flight; a rejected submit persists nothing. userMsg may be nil to
// run over the history as it stands.
func (c *Coordinator) Submit(ctx stdctx.Context, conversationID types.ConversationID, userMsg *types.Message) (*Run, error) {
	c.mu.Lock()
	if existing, ok := c.active[conversationID]; ok && !existing.State().Terminal() {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunActive, conversationID)
	}
	runCtx, cancel := stdctx.WithCancel(stdctx.Background())
	r := newRun(conversationID, cancel)
	c.active[conversationID] = r
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.active[conversationID] == r {
			delete(c.active, conversationID)
		}
		c.mu.Unlock()
		cancel()
	}

	if userMsg != nil {
		if err := c.conversations.AppendMessage(ctx, conversationID, userMsg); err != nil {
			release()
			return nil, err
		}
	}
	conv, err := c.conversations.Get(ctx, conversationID)
	if err != nil {
		release()
		return nil, err
	}

	c.logger.Info("run submitted",
		"run_id", r.ID,
		"conversation_id", conversationID,
		"messages", len(conv.Messages))

	c.wg.Add(1)
	go c.execute(runCtx, r, conv)
	return r, nil
}

// Cancel stops the conversation's active run, if any. Returns true when
// a run was cancelled.
func (c *Coordinator) Cancel(conversationID types.ConversationID) bool {
	c.mu.Lock()
	r, ok := c.active[conversationID]
	c.mu.Unlock()
	if !ok || r.State().Terminal() {
		return false
	}

	r.mu.Lock()
	r.state = StateCancelled
	r.mu.Unlock()
	r.cancel()
	c.logger.Info("run cancelled", "run_id", r.ID, "conversation_id", conversationID)
	return true
}

// ActiveRun returns the conversation's in-flight run, if any.
func (c *Coordinator) ActiveRun(conversationID types.ConversationID) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.active[conversationID]
	if !ok || r.State().Terminal() {
		return nil, false
	}
	return r, true
}

// Shutdown waits for in-flight runs to finish.
func (c *Coordinator) Shutdown() {
	c.wg.Wait()
}

func (c *Coordinator) execute(ctx stdctx.Context, r *Run, conv *types.Conversation) {
	defer c.wg.Done()
	defer close(r.events)
	defer func() {
		c.mu.Lock()
		if c.active[r.ConversationID] == r {
			delete(c.active, r.ConversationID)
		}
		c.mu.Unlock()
		r.cancel()
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.fail(r, err)
		return
	}
	defer c.sem.Release(1)

	messages := c.engine.BuildPrompt(conv)
	defs := c.registry.Definitions()

	for round := 0; round < c.maxRounds; round++ {
		resp, err := c.provider.Complete(ctx, messages, defs)
		if err != nil {
			c.fail(r, fmt.Errorf("completion failed: %w", err))
			return
		}

		if len(resp.ToolCalls) == 0 {
			c.finish(ctx, r, resp.Content)
			return
		}

		r.setState(StateAwaitingToolResults)
		messages = append(messages, llm.Message{
			Role:    "assistant",
			Content: resp.Content,
			Tools:   resp.ToolCalls,
		})

		results := c.dispatch(ctx, r, resp.ToolCalls)
		if ctx.Err() != nil {
			c.fail(r, ctx.Err())
			return
		}
		for _, res := range results {
			messages = append(messages, llm.Message{
				Role:    "tool",
				Content: res.Payload,
				Tools:   []llm.ToolCall{{ID: res.CallID}},
			})
		}
		r.setState(StateSubmitted)
	}

	c.fail(r, fmt.Errorf("exceeded maximum tool rounds (%d)", c.maxRounds))
}

// dispatch runs a batch of sibling tool calls concurrently. Results are
// returned in call order regardless of completion order. A failed call
// yields an error-text result; it never aborts its siblings.
func (c *Coordinator) dispatch(ctx stdctx.Context, r *Run, calls []llm.ToolCall) []tool.Result {
	for _, call := range calls {
		r.emit(Event{
			Type:     EventToolCall,
			ToolName: call.Function.Name,
			Notice:   c.registry.Notice(call.Function.Name),
		})
	}

	results := make([]tool.Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.registry.Execute(ctx, r.ConversationID, call)
		}()
	}
	wg.Wait()
	return results
}

// finish persists the final assistant message and completes the run.
// A cancel that landed while the final completion was in flight wins:
// the answer is discarded, not persisted.
func (c *Coordinator) finish(ctx stdctx.Context, r *Run, content string) {
	if r.State() == StateCancelled {
		r.emit(Event{Type: EventError, Err: "run cancelled"})
		c.logger.Info("run stopped after cancel", "run_id", r.ID, "conversation_id", r.ConversationID)
		return
	}

	msg := &types.Message{Role: types.RoleAssistant, Content: content}
	if err := c.conversations.AppendMessage(ctx, r.ConversationID, msg); err != nil {
		c.fail(r, fmt.Errorf("persist assistant message: %w", err))
		return
	}

	r.setState(StateCompleted)
	r.emit(Event{Type: EventAssistantMessage, Message: msg})
	c.logger.Info("run completed", "run_id", r.ID, "conversation_id", r.ConversationID)
}

func (c *Coordinator) fail(r *Run, err error) {
	// Cancellation wins over the error the cancelled context caused.
	if r.State() == StateCancelled {
		r.emit(Event{Type: EventError, Err: "run cancelled"})
		c.logger.Info("run stopped after cancel", "run_id", r.ID, "conversation_id", r.ConversationID)
		return
	}

	r.setState(StateFailed)
	r.emit(Event{Type: EventError, Err: err.Error()})
	c.logger.Error("run failed",
		"run_id", r.ID,
		"conversation_id", r.ConversationID,
		"error", err)
}
