package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/approval"
	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/pathguard"
	"github.com/openpact/sandboxbot/internal/patterns"
	"github.com/openpact/sandboxbot/internal/sandbox"
	"github.com/openpact/sandboxbot/internal/session"
)

type fakeNotifier struct {
	mu              sync.Mutex
	approvalChatID  string
	approvalID      string
	approvalCommand string
	askedChatID     string
	askedQuestion   *Question
	asked           chan *Question
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{asked: make(chan *Question, 1)}
}

func (f *fakeNotifier) NotifyApprovalRequired(chatID, approvalID, command, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalChatID = chatID
	f.approvalID = approvalID
	f.approvalCommand = command
}

func (f *fakeNotifier) NotifyAskUser(chatID string, question *Question) {
	f.mu.Lock()
	f.askedChatID = chatID
	f.askedQuestion = question
	f.mu.Unlock()
	f.asked <- question
}

func testDispatcher(t *testing.T) (*Dispatcher, *fakeNotifier, config.WorkspaceConfig) {
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

	d := NewDispatcher(workspace, store, guard, mgr, approvals, questions, sessions, notifier, nil)
	return d, notifier, workspace
}

func callReq(userID int64, chatKind access.ChatKind, name string, args map[string]any) ToolRequest {
	return ToolRequest{
		UserID:    userID,
		ChatID:    "chat-1",
		SessionID: "sess-1",
		ChatKind:  chatKind,
		Call:      ToolCall{ID: "call-1", Name: name, Arguments: args},
	}
}

func TestDispatchShellExecAllowedRunsInDegradedMode(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Private, ToolShellExec, map[string]any{"command": "echo hello"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected command output in result, got %q", out)
	}
}

func TestDispatchShellExecBlocked(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Private, ToolShellExec, map[string]any{"command": "cat /workspace/1/.env"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(out, "blocked:") {
		t.Errorf("expected blocked result, got %q", out)
	}
}

func TestDispatchShellExecDangerousRequiresApproval(t *testing.T) {
	d, notifier, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Private, ToolShellExec, map[string]any{"command": "rm -rf /workspace/1/build"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(out, "approval_required:") {
		t.Errorf("expected approval_required result, got %q", out)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.approvalID == "" {
		t.Error("expected notifier to receive an approval id")
	}
}

func TestExecuteApprovedRunsOutsideClassifier(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.ExecuteApproved(context.Background(), 1, "echo approved-run")
	if err != nil {
		t.Fatalf("ExecuteApproved: %v", err)
	}
	if !strings.Contains(out, "approved-run") {
		t.Errorf("expected command output in result, got %q", out)
	}
}

func TestDispatchShellExecDangerousCollapsesToBlockedInGroup(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Group, ToolShellExec, map[string]any{"command": "rm -rf /workspace/1/build"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(out, "blocked:") {
		t.Errorf("expected dangerous to collapse to blocked in group chat, got %q", out)
	}
}

func TestDispatchFileWriteThenRead(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, callReq(1, access.Private, ToolFileWrite, map[string]any{"path": "notes.txt", "content": "hello workspace"}))
	if err != nil {
		t.Fatalf("Dispatch write: %v", err)
	}

	out, err := d.Dispatch(ctx, callReq(1, access.Private, ToolFileRead, map[string]any{"path": "notes.txt"}))
	if err != nil {
		t.Fatalf("Dispatch read: %v", err)
	}
	if out != "hello workspace" {
		t.Errorf("expected round-tripped content, got %q", out)
	}
}

func TestDispatchFileReadRejectsOtherUserWorkspace(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Private, ToolFileRead, map[string]any{"path": "/workspace/2/secret.txt"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(out, "escapes") && !strings.Contains(out, "another user") {
		t.Errorf("expected a confinement denial, got %q", out)
	}
}

func TestDispatchFetchRejectsBlockedURL(t *testing.T) {
	d, _, _ := testDispatcher(t)
	out, err := d.Dispatch(context.Background(), callReq(1, access.Private, ToolFetch, map[string]any{"url": "http://169.254.169.254/latest/meta-data/"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(out, "blocked") {
		t.Errorf("expected blocked fetch target, got %q", out)
	}
}

func TestDispatchAskUserSuspendsUntilResolved(t *testing.T) {
	d, notifier, _ := testDispatcher(t)

	var out string
	var dispatchErr error
	done := make(chan struct{})
	go func() {
		out, dispatchErr = d.Dispatch(context.Background(), callReq(1, access.Private, ToolAskUser, map[string]any{
			"question": "which branch?",
			"options":  []interface{}{"main", "dev"},
		}))
		close(done)
	}()

	question := <-notifier.asked
	if !d.questions.Resolve(question.ID, "main") {
		t.Fatal("expected Resolve to succeed")
	}

	<-done
	if dispatchErr != nil {
		t.Fatalf("Dispatch: %v", dispatchErr)
	}
	if out != "main" {
		t.Errorf("expected resolved answer 'main', got %q", out)
	}
}

func TestDispatchMemoryAppendAndRead(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, callReq(1, access.Private, ToolMemoryAppend, map[string]any{"content": "user prefers concise replies"})); err != nil {
		t.Fatalf("Dispatch append: %v", err)
	}
	out, err := d.Dispatch(ctx, callReq(1, access.Private, ToolMemoryRead, nil))
	if err != nil {
		t.Fatalf("Dispatch read: %v", err)
	}
	if !strings.Contains(out, "user prefers concise replies") {
		t.Errorf("expected appended note in memory, got %q", out)
	}
}
