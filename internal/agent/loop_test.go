package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/approval"
	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/pathguard"
	"github.com/openpact/sandboxbot/internal/patterns"
	"github.com/openpact/sandboxbot/internal/sandbox"
	"github.com/openpact/sandboxbot/internal/session"
)

// scriptedClient returns one canned Response per call, in order, then
// repeats the last response if Complete is called more times than scripted.
type scriptedClient struct {
	responses []Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx], nil
}

func testLoop(t *testing.T, client Client) (*Loop, *fakeNotifier) {
	t.Helper()
	workspace := config.WorkspaceConfig{Root: t.TempDir()}
	store, err := patterns.Load("")
	if err != nil {
		t.Fatalf("patterns.Load: %v", err)
	}
	guard := pathguard.New(workspace, store)
	mgr := sandbox.NewManager(config.SandboxConfig{CommandTimeout: "10s"}, workspace, nil)
	approvals := approval.New()
	questions := NewQuestions()
	sessions := session.New(workspace)
	notifier := newFakeNotifier()

	dispatcher := NewDispatcher(workspace, store, guard, mgr, approvals, questions, sessions, notifier, nil)
	loop := New(client, dispatcher, sessions, workspace, config.SandboxConfig{BasePort: 20000}, nil)
	return loop, notifier
}

func TestRunReturnsFinalTextWithNoToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []Response{{Content: "Hello there!"}}}
	loop, _ := testLoop(t, client)

	out, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "hi", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "Hello there!" {
		t.Errorf("expected final text, got %q", out)
	}
}

func TestRunRecordsTurnInSession(t *testing.T) {
	client := &scriptedClient{responses: []Response{{Content: "done"}}}
	loop, _ := testLoop(t, client)

	_, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "do something", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	hist := loop.sessions.History(1)
	if len(hist) != 1 {
		t.Fatalf("expected 1 recorded turn, got %d", len(hist))
	}
	if hist[0].Assistant != "done" {
		t.Errorf("expected assistant turn recorded, got %q", hist[0].Assistant)
	}
}

func TestRunExecutesToolCallThenReturnsFinalText(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "1", Name: ToolShellExec, Arguments: map[string]any{"command": "echo ping"}}}},
		{Content: "ran it"},
	}}
	loop, _ := testLoop(t, client)

	out, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "run echo", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ran it" {
		t.Errorf("expected final text after tool call, got %q", out)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", client.calls)
	}
}

func TestRunNudgesOnEmptyResponse(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{},
		{Content: "ok now I have something to say"},
	}}
	loop, _ := testLoop(t, client)

	out, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "hi", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ok now I have something to say" {
		t.Errorf("expected recovery after nudge, got %q", out)
	}
}

func TestRunCapsAtMaxIterations(t *testing.T) {
	client := &scriptedClient{responses: []Response{{}}} // always empty: never produces final text
	loop, _ := testLoop(t, client)
	loop.maxTurns = 3

	out, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "hi", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "max iterations") {
		t.Errorf("expected max-iterations message, got %q", out)
	}
	if client.calls != 3 {
		t.Errorf("expected exactly maxTurns calls, got %d", client.calls)
	}
}

func TestRunDangerousCommandDoesNotBlockTurn(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "1", Name: ToolShellExec, Arguments: map[string]any{"command": "rm -rf /workspace/1/build"}}}},
		{Content: "I've asked for your approval to run that."},
	}}
	loop, notifier := testLoop(t, client)

	out, err := loop.Run(context.Background(), 1, "chat-1", "sess-1", "alice", "clean up", access.Private)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "I've asked for your approval to run that." {
		t.Errorf("expected loop to continue past approval_required, got %q", out)
	}
	if notifier.approvalID == "" {
		t.Error("expected an approval to have been raised")
	}
}
