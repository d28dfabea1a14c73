// Package agent implements the ReAct loop (C10): the per-turn control flow
// that assembles the model's context, dispatches its tool calls to the rest
// of the security core, and decides when a turn is done.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/approval"
	"github.com/openpact/sandboxbot/internal/classifier"
	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/logging"
	"github.com/openpact/sandboxbot/internal/pathguard"
	"github.com/openpact/sandboxbot/internal/patterns"
	"github.com/openpact/sandboxbot/internal/sandbox"
	"github.com/openpact/sandboxbot/internal/sanitizer"
	"github.com/openpact/sandboxbot/internal/session"
)

// Tool names the dispatcher recognizes.
const (
	ToolShellExec    = "shell_exec"
	ToolFileRead     = "file_read"
	ToolFileWrite    = "file_write"
	ToolFileEdit     = "file_edit"
	ToolFileDelete   = "file_delete"
	ToolListDir      = "list_dir"
	ToolGrep         = "grep"
	ToolFetch        = "fetch"
	ToolAskUser      = "ask_user"
	ToolMemoryRead   = "memory_read"
	ToolMemoryAppend = "memory_append"
	ToolMemoryClear  = "memory_clear"
)

// DefaultCommandTimeout bounds one shell_exec call, inside and outside the sandbox.
const DefaultCommandTimeout = 120 * time.Second

// Notifier delivers side-effects the dispatcher cannot itself render: the
// two-button approval prompt and the ask_user question, both shown by
// whichever chat adapter owns chatID.
type Notifier interface {
	NotifyApprovalRequired(chatID, approvalID, command, reason string)
	NotifyAskUser(chatID string, question *Question)
}

// ToolRequest names one tool call in the context of the user and chat it
// originated from.
type ToolRequest struct {
	UserID    int64
	ChatID    string
	SessionID string
	ChatKind  access.ChatKind
	Call      ToolCall
}

// Dispatcher routes tool calls to the command classifier, sandbox executor,
// output sanitizer, file-path guard, fetch tool, ask_user suspension point,
// and memory store.
type Dispatcher struct {
	workspace      config.WorkspaceConfig
	store          *patterns.Store
	guard          *pathguard.Guard
	sandboxMgr     *sandbox.Manager
	approvals      *approval.Queue
	questions      *Questions
	sessions       *session.Store
	notifier       Notifier
	commandTimeout time.Duration
	logger         *logging.Logger
}

// NewDispatcher wires the dispatcher from already-constructed security-core
// components.
func NewDispatcher(
	workspace config.WorkspaceConfig,
	store *patterns.Store,
	guard *pathguard.Guard,
	sandboxMgr *sandbox.Manager,
	approvals *approval.Queue,
	questions *Questions,
	sessions *session.Store,
	notifier Notifier,
	logger *logging.Logger,
) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		workspace:      workspace,
		store:          store,
		guard:          guard,
		sandboxMgr:     sandboxMgr,
		approvals:      approvals,
		questions:      questions,
		sessions:       sessions,
		notifier:       notifier,
		commandTimeout: DefaultCommandTimeout,
		logger:         logger,
	}
}

// Dispatch executes one tool call and returns the text observation the
// model sees. A non-nil error means the call could not be carried out at
// all (e.g. sandbox provisioning failed) rather than that the requested
// operation was denied — denials are themselves returned as a textual
// observation so the model can react to them.
func (d *Dispatcher) Dispatch(ctx context.Context, req ToolRequest) (string, error) {
	d.store.MaybeReload() //nolint:errcheck // a reload failure falls back to the previously loaded lists

	args := req.Call.Arguments
	switch req.Call.Name {
	case ToolShellExec:
		return d.shellExec(ctx, req, strArg(args, "command"))
	case ToolFileRead:
		return d.fileRead(req.UserID, strArg(args, "path"))
	case ToolFileWrite:
		return d.fileWrite(req.UserID, strArg(args, "path"), strArg(args, "content"))
	case ToolFileEdit:
		return d.fileEdit(req.UserID, strArg(args, "path"), strArg(args, "old_text"), strArg(args, "new_text"))
	case ToolFileDelete:
		return d.fileDelete(req.UserID, strArg(args, "path"))
	case ToolListDir:
		return d.listDir(req.UserID, strArg(args, "path"))
	case ToolGrep:
		return d.grep(req.UserID, strArg(args, "pattern"), strArg(args, "path"))
	case ToolFetch:
		return d.fetch(ctx, strArg(args, "url"), intArg(args, "max_length"))
	case ToolAskUser:
		return d.askUser(ctx, req.ChatID, strArg(args, "question"), strSliceArg(args, "options"))
	case ToolMemoryRead:
		return d.memoryRead(req.UserID)
	case ToolMemoryAppend:
		return d.memoryAppend(req.UserID, strArg(args, "content"))
	case ToolMemoryClear:
		return d.memoryClear(req.UserID)
	default:
		return fmt.Sprintf("unknown tool %q", req.Call.Name), nil
	}
}

func (d *Dispatcher) shellExec(ctx context.Context, req ToolRequest, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "command is required", nil
	}

	result := classifier.Classify(command, d.workspace.Root, req.UserID, req.ChatKind, d.store)
	switch result.Decision {
	case classifier.Blocked:
		d.logger.WithField("userId", req.UserID).Warn("blocked command: %s", result.Reason)
		return fmt.Sprintf("blocked: %s", result.Reason), nil
	case classifier.Dangerous:
		cwd := d.workspace.UserDir(req.UserID)
		id := d.approvals.Store(req.SessionID, req.ChatID, req.UserID, command, cwd, result.Reason)
		d.notifier.NotifyApprovalRequired(req.ChatID, id, command, result.Reason)
		return fmt.Sprintf("approval_required: waiting for the user to approve or deny this command (id=%s)", id), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	defer cancel()

	res, err := d.sandboxMgr.Exec(execCtx, req.UserID, command, d.commandTimeout)
	if err != nil {
		return "", fmt.Errorf("sandbox_failed: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "exit code: %d\n", res.ExitCode)
	if res.Degraded {
		out.WriteString("[running in degraded host-exec mode: no container isolation]\n")
	}
	if res.Stdout != "" {
		out.WriteString("stdout:\n")
		out.WriteString(sanitizer.Sanitize(res.Stdout, d.store))
		out.WriteString("\n")
	}
	if res.Stderr != "" {
		out.WriteString("stderr:\n")
		out.WriteString(sanitizer.Sanitize(res.Stderr, d.store))
		out.WriteString("\n")
	}
	return out.String(), nil
}

// ExecuteApproved runs a command that has already been approved by the
// user through an approval-queue entry (§4.7). It bypasses the classifier —
// the command was already classified dangerous-but-approved — and runs
// directly through the sandbox executor and sanitizer, exactly like the
// allowed path of shellExec. Called from the chat layer's approval-button
// callback, never from inside a ReAct loop turn.
func (d *Dispatcher) ExecuteApproved(ctx context.Context, userID int64, command string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	defer cancel()

	res, err := d.sandboxMgr.Exec(execCtx, userID, command, d.commandTimeout)
	if err != nil {
		return "", fmt.Errorf("sandbox_failed: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "exit code: %d\n", res.ExitCode)
	if res.Degraded {
		out.WriteString("[running in degraded host-exec mode: no container isolation]\n")
	}
	if res.Stdout != "" {
		out.WriteString("stdout:\n")
		out.WriteString(sanitizer.Sanitize(res.Stdout, d.store))
		out.WriteString("\n")
	}
	if res.Stderr != "" {
		out.WriteString("stderr:\n")
		out.WriteString(sanitizer.Sanitize(res.Stderr, d.store))
		out.WriteString("\n")
	}
	return out.String(), nil
}

func (d *Dispatcher) fileRead(userID int64, path string) (string, error) {
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpRead, path)
	if err != nil {
		return err.Error(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return sanitizer.Sanitize(string(data), d.store), nil
}

func (d *Dispatcher) fileWrite(userID int64, path, content string) (string, error) {
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpWrite, path)
	if err != nil {
		return err.Error(), nil
	}
	if err := d.guard.CheckContent(pathguard.OpWrite, content); err != nil {
		return err.Error(), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (d *Dispatcher) fileEdit(userID int64, path, oldText, newText string) (string, error) {
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpEdit, path)
	if err != nil {
		return err.Error(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	current := string(data)
	count := strings.Count(current, oldText)
	if count == 0 {
		return "old_text not found in file", nil
	}
	if count > 1 {
		return fmt.Sprintf("old_text is not unique: %d matches", count), nil
	}
	updated := strings.Replace(current, oldText, newText, 1)
	if err := d.guard.CheckContent(pathguard.OpEdit, updated); err != nil {
		return err.Error(), nil
	}
	if err := os.WriteFile(resolved, []byte(updated), 0644); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return fmt.Sprintf("edited %s", path), nil
}

func (d *Dispatcher) fileDelete(userID int64, path string) (string, error) {
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpDelete, path)
	if err != nil {
		return err.Error(), nil
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return fmt.Sprintf("deleted %s", path), nil
}

func (d *Dispatcher) listDir(userID int64, path string) (string, error) {
	if path == "" {
		path = "."
	}
	if err := d.guard.CheckListDir(path); err != nil {
		return err.Error(), nil
	}
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpList, path)
	if err != nil {
		return err.Error(), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString(entry.Name() + "/\n")
		} else {
			sb.WriteString(entry.Name() + "\n")
		}
	}
	return sb.String(), nil
}

func (d *Dispatcher) grep(userID int64, pattern, path string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "pattern is required", nil
	}
	if err := d.guard.CheckGrepPattern(pattern); err != nil {
		return err.Error(), nil
	}
	if path == "" {
		path = "."
	}
	resolved, err := d.guard.ResolvePath(userID, pathguard.OpSearch, path)
	if err != nil {
		return err.Error(), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("invalid pattern: %s", err), nil
	}

	var matches []string
	err = filepath.Walk(resolved, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", p, i+1, line))
				if len(matches) >= 200 {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return fmt.Sprintf("error: %s", err), nil
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return sanitizer.Sanitize(strings.Join(matches, "\n"), d.store), nil
}

func (d *Dispatcher) fetch(ctx context.Context, url string, maxChars int) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "url is required", nil
	}
	text, err := fetchURL(ctx, d.store, url, maxChars)
	if err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return sanitizer.Sanitize(text, d.store), nil
}

func (d *Dispatcher) askUser(ctx context.Context, chatID, question string, options []string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "question is required", nil
	}
	q := d.questions.Open(question, options)
	d.notifier.NotifyAskUser(chatID, q)
	answer, err := d.questions.Wait(ctx, q)
	if err != nil {
		return fmt.Sprintf("no answer received: %s", err), nil
	}
	return answer, nil
}

func (d *Dispatcher) memoryRead(userID int64) (string, error) {
	mem, err := d.sessions.ReadMemory(userID)
	if err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return mem, nil
}

func (d *Dispatcher) memoryAppend(userID int64, content string) (string, error) {
	if err := d.sessions.AppendMemory(userID, content); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return "memory updated", nil
}

func (d *Dispatcher) memoryClear(userID int64) (string, error) {
	if err := d.sessions.ClearMemory(userID); err != nil {
		return fmt.Sprintf("error: %s", err), nil
	}
	return "memory cleared", nil
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 0
}

func strSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
