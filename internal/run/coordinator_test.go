package run

import (
	stdctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	convctx "github.com/sachiniyer/meal-finder/internal/context"
	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
	"github.com/sachiniyer/meal-finder/pkg/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns canned responses in order. An optional gate
// makes Complete block until released, for concurrency tests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
	received  [][]llm.Message
	gate      chan struct{}
}

func (p *scriptedProvider) Complete(ctx stdctx.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, messages)
	if p.calls >= len(p.responses) {
		return nil, errors.New("no scripted response left")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

type fakeTool struct {
	name string
	fn   func(args json.RawMessage) (string, error)
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "test tool" }
func (t *fakeTool) Notice() string          { return "Working" }
func (t *fakeTool) Parameters() *tool.Schema { return &tool.Schema{Properties: map[string]tool.Property{}} }
func (t *fakeTool) Execute(_ stdctx.Context, _ types.ConversationID, args json.RawMessage) (string, error) {
	return t.fn(args)
}

func newTestCoordinator(t *testing.T, provider llm.Provider, fakes ...tool.Tool) (*Coordinator, *state.ConversationStore) {
	t.Helper()
	logger := testLogger()

	store := state.NewConversationStore(t.TempDir())
	registry := tool.NewRegistry(logger)
	for _, f := range fakes {
		registry.Register(f)
	}
	engine, err := convctx.NewEngine("cl100k_base", 8000, 500, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewCoordinator(provider, registry, engine, store, 2, 3, logger), store
}

func startConversation(t *testing.T, store *state.ConversationStore, content string) types.ConversationID {
	t.Helper()
	ctx := stdctx.Background()
	conv, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := &types.Message{Role: types.RoleUser, Content: content}
	if err := store.AppendMessage(ctx, conv.ConversationID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	return conv.ConversationID
}

func drainEvents(t *testing.T, r *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for run to finish")
		}
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: json.RawMessage(args),
		},
	}
}

func TestRunCompletesAndPersists(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: "Try the bagel shop on 5th."},
	}}
	coord, store := newTestCoordinator(t, provider)
	convID := startConversation(t, store, "where can I get bagels?")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drainEvents(t, r)

	if r.State() != StateCompleted {
		t.Fatalf("state = %s, want %s", r.State(), StateCompleted)
	}
	if len(events) != 1 || events[0].Type != EventAssistantMessage {
		t.Fatalf("events = %+v, want one assistant message", events)
	}
	if events[0].Message.Content != "Try the bagel shop on 5th." {
		t.Errorf("message content = %q", events[0].Message.Content)
	}

	conv, err := store.Get(stdctx.Background(), convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[1].Role != types.RoleAssistant {
		t.Errorf("second message role = %s", conv.Messages[1].Role)
	}
}

func TestSecondSubmitRejectedWhileActive(t *testing.T) {
	gate := make(chan struct{})
	provider := &scriptedProvider{
		responses: []*llm.Response{{Content: "done"}},
		gate:      gate,
	}
	coord, store := newTestCoordinator(t, provider)
	convID := startConversation(t, store, "hello")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := coord.Submit(stdctx.Background(), convID, nil); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Submit err = %v, want ErrRunActive", err)
	}

	close(gate)
	drainEvents(t, r)

	// The invariant releases once the run terminates.
	provider.mu.Lock()
	provider.responses = append(provider.responses, &llm.Response{Content: "again"})
	provider.mu.Unlock()
	r2, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
	drainEvents(t, r2)
}

func TestRejectedSubmitPersistsNothing(t *testing.T) {
	gate := make(chan struct{})
	provider := &scriptedProvider{
		responses: []*llm.Response{{Content: "answer to first"}},
		gate:      gate,
	}
	coord, store := newTestCoordinator(t, provider)
	convID := startConversation(t, store, "first")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	second := &types.Message{Role: types.RoleUser, Content: "second"}
	if _, err := coord.Submit(stdctx.Background(), convID, second); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Submit err = %v, want ErrRunActive", err)
	}

	close(gate)
	drainEvents(t, r)

	// The rejected message never entered the history: it holds the
	// first user message and its answer, nothing interleaved.
	conv, err := store.Get(stdctx.Background(), convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(conv.Messages), conv.Messages)
	}
	if conv.Messages[0].Content != "first" || conv.Messages[1].Content != "answer to first" {
		t.Errorf("history = %q, %q", conv.Messages[0].Content, conv.Messages[1].Content)
	}
}

func TestSubmitPersistsMessageBeforeRun(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Content: "hello back"}}}
	coord, store := newTestCoordinator(t, provider)

	conv, err := store.Create(stdctx.Background(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := &types.Message{Role: types.RoleUser, Content: "hello"}
	r, err := coord.Submit(stdctx.Background(), conv.ConversationID, msg)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainEvents(t, r)

	got, err := store.Get(stdctx.Background(), conv.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != "hello" {
		t.Fatalf("history = %+v, want user message then answer", got.Messages)
	}

	// The provider saw the submitted message in its prompt.
	provider.mu.Lock()
	prompt := provider.received[0]
	provider.mu.Unlock()
	if prompt[len(prompt)-1].Content != "hello" {
		t.Errorf("last prompt message = %q", prompt[len(prompt)-1].Content)
	}
}

func TestToolFailureDoesNotAbortSiblings(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			toolCall("call-1", "good", "{}"),
			toolCall("call-2", "bad", "{}"),
		}},
		{Content: "summary"},
	}}

	good := &fakeTool{name: "good", fn: func(json.RawMessage) (string, error) {
		return "good result", nil
	}}
	bad := &fakeTool{name: "bad", fn: func(json.RawMessage) (string, error) {
		return "", errors.New("upstream exploded")
	}}

	coord, store := newTestCoordinator(t, provider, good, bad)
	convID := startConversation(t, store, "find food")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drainEvents(t, r)

	if r.State() != StateCompleted {
		t.Fatalf("state = %s, want %s", r.State(), StateCompleted)
	}

	toolEvents := 0
	for _, ev := range events {
		if ev.Type == EventToolCall {
			toolEvents++
		}
	}
	if toolEvents != 2 {
		t.Errorf("tool call events = %d, want 2", toolEvents)
	}

	// The second completion request must include both tool results in
	// call order, with the failure delivered as text.
	provider.mu.Lock()
	second := provider.received[1]
	provider.mu.Unlock()

	var toolMsgs []llm.Message
	for _, msg := range second {
		if msg.Role == "tool" {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("tool messages = %d, want 2", len(toolMsgs))
	}
	if toolMsgs[0].Content != "good result" {
		t.Errorf("first tool result = %q", toolMsgs[0].Content)
	}
	if !strings.Contains(toolMsgs[1].Content, "upstream exploded") {
		t.Errorf("second tool result = %q, want error text", toolMsgs[1].Content)
	}
	if toolMsgs[0].Tools[0].ID != "call-1" || toolMsgs[1].Tools[0].ID != "call-2" {
		t.Errorf("tool result order lost: %q, %q", toolMsgs[0].Tools[0].ID, toolMsgs[1].Tools[0].ID)
	}
}

func TestRunFailsAfterMaxRounds(t *testing.T) {
	// Always ask for another tool call; never produce an answer.
	loop := &fakeTool{name: "loop", fn: func(json.RawMessage) (string, error) {
		return "keep going", nil
	}}
	var responses []*llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, &llm.Response{
			ToolCalls: []llm.ToolCall{toolCall(fmt.Sprintf("call-%d", i), "loop", "{}")},
		})
	}
	provider := &scriptedProvider{responses: responses}

	coord, store := newTestCoordinator(t, provider, loop)
	convID := startConversation(t, store, "spin forever")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drainEvents(t, r)

	if r.State() != StateFailed {
		t.Fatalf("state = %s, want %s", r.State(), StateFailed)
	}
	last := events[len(events)-1]
	if last.Type != EventError || !strings.Contains(last.Err, "maximum tool rounds") {
		t.Errorf("final event = %+v, want tool round error", last)
	}

	// The partial transcript is discarded: only the user message is
	// persisted.
	conv, err := store.Get(stdctx.Background(), convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Errorf("got %d persisted messages, want 1", len(conv.Messages))
	}
}

func TestCancelStopsRun(t *testing.T) {
	gate := make(chan struct{})
	provider := &scriptedProvider{
		responses: []*llm.Response{{Content: "never delivered"}},
		gate:      gate,
	}
	coord, store := newTestCoordinator(t, provider)
	convID := startConversation(t, store, "hello")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !coord.Cancel(convID) {
		t.Fatal("Cancel returned false for active run")
	}
	events := drainEvents(t, r)

	if r.State() != StateCancelled {
		t.Fatalf("state = %s, want %s", r.State(), StateCancelled)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
	if events[0].Err != "run cancelled" {
		t.Errorf("error = %q", events[0].Err)
	}

	if coord.Cancel(convID) {
		t.Error("Cancel returned true for terminated run")
	}
}

// slowProvider signals when Complete starts and then blocks until
// released, ignoring cancellation, like an HTTP call already past the
// point of no return.
type slowProvider struct {
	entered chan struct{}
	gate    chan struct{}
	resp    *llm.Response
}

func (p *slowProvider) Complete(_ stdctx.Context, _ []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	p.entered <- struct{}{}
	<-p.gate
	return p.resp, nil
}

func TestCancelDuringFinalCompletionDiscardsResult(t *testing.T) {
	provider := &slowProvider{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
		resp:    &llm.Response{Content: "never delivered"},
	}
	coord, store := newTestCoordinator(t, provider)
	convID := startConversation(t, store, "hello")

	r, err := coord.Submit(stdctx.Background(), convID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Cancel lands while the completion is still in flight; the answer
	// it eventually produces is discarded.
	<-provider.entered
	if !coord.Cancel(convID) {
		t.Fatal("Cancel returned false for active run")
	}
	close(provider.gate)
	events := drainEvents(t, r)

	if r.State() != StateCancelled {
		t.Fatalf("state = %s, want %s", r.State(), StateCancelled)
	}
	if len(events) != 1 || events[0].Type != EventError || events[0].Err != "run cancelled" {
		t.Fatalf("events = %+v, want single cancel error", events)
	}

	conv, err := store.Get(stdctx.Background(), convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Errorf("got %d persisted messages, want only the user message", len(conv.Messages))
	}
}

func TestDifferentConversationsRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	provider := &scriptedProvider{
		responses: []*llm.Response{{Content: "a"}, {Content: "b"}},
		gate:      gate,
	}
	coord, store := newTestCoordinator(t, provider)
	convA := startConversation(t, store, "first")
	convB := startConversation(t, store, "second")

	rA, err := coord.Submit(stdctx.Background(), convA, nil)
	if err != nil {
		t.Fatalf("Submit A: %v", err)
	}
	rB, err := coord.Submit(stdctx.Background(), convB, nil)
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}

	close(gate)
	drainEvents(t, rA)
	drainEvents(t, rB)

	if rA.State() != StateCompleted || rB.State() != StateCompleted {
		t.Errorf("states = %s, %s; want both completed", rA.State(), rB.State())
	}
}
