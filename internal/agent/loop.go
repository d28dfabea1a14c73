package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/logging"
	"github.com/openpact/sandboxbot/internal/sandbox"
	"github.com/openpact/sandboxbot/internal/session"
)

// MaxIterations bounds how many LLM round-trips one turn may take before the
// loop gives up and returns a capped message.
const MaxIterations = 30

// ToolTimeout bounds one tool call within a turn.
const ToolTimeout = 120 * time.Second

// nudgeMessage is appended when the model responds with neither text nor a
// tool call, to keep a turn from silently stalling.
const nudgeMessage = "Please either call a tool or provide a final response to the user."

// Loop runs the ReAct control flow for one chat message at a time.
type Loop struct {
	client      Client
	dispatcher  *Dispatcher
	sessions    *session.Store
	workspace   config.WorkspaceConfig
	sandboxCfg  config.SandboxConfig
	tools       []ToolSpec
	logger      *logging.Logger
	maxTurns    int
	toolTimeout time.Duration
}

// New builds a Loop over an already-wired Dispatcher and session store.
func New(client Client, dispatcher *Dispatcher, sessions *session.Store, workspace config.WorkspaceConfig, sandboxCfg config.SandboxConfig, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loop{
		client:      client,
		dispatcher:  dispatcher,
		sessions:    sessions,
		workspace:   workspace,
		sandboxCfg:  sandboxCfg,
		tools:       toolSpecs(),
		logger:      logger,
		maxTurns:    MaxIterations,
		toolTimeout: ToolTimeout,
	}
}

// Run executes one full turn for userMessage from userID in chatID, of kind
// chatKind, and returns the assistant's final text.
func (l *Loop) Run(ctx context.Context, userID int64, chatID, sessionID, displayName, userMessage string, chatKind access.ChatKind) (string, error) {
	messages := l.assembleMessages(userID, displayName, userMessage)

	for iteration := 0; iteration < l.maxTurns; iteration++ {
		resp, err := l.client.Complete(ctx, messages, l.tools)
		if err != nil {
			return "", fmt.Errorf("model request failed: %w", err)
		}

		assistantMsg := Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) != "" {
				l.sessions.Append(userID, userMessage, resp.Content)
				return resp.Content, nil
			}
			messages = append(messages, Message{Role: RoleUser, Content: nudgeMessage})
			continue
		}

		for _, call := range resp.ToolCalls {
			toolCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
			output, toolErr := l.dispatcher.Dispatch(toolCtx, ToolRequest{
				UserID:    userID,
				ChatID:    chatID,
				SessionID: sessionID,
				ChatKind:  chatKind,
				Call:      call,
			})
			cancel()

			if toolErr != nil {
				output = fmt.Sprintf("error: %s", toolErr)
			}
			messages = append(messages, Message{Role: RoleTool, Content: output, ToolCallID: call.ID})
		}
	}

	final := "max iterations reached without a final response"
	l.sessions.Append(userID, userMessage, final)
	return final, nil
}

func (l *Loop) assembleMessages(userID int64, displayName, userMessage string) []Message {
	messages := []Message{{Role: RoleSystem, Content: l.systemPrompt(userID)}}

	for _, turn := range l.sessions.History(userID) {
		messages = append(messages, Message{Role: RoleUser, Content: turn.User})
		messages = append(messages, Message{Role: RoleAssistant, Content: turn.Assistant})
	}

	dated := fmt.Sprintf("[%s] %s: %s", time.Now().Format("2006-01-02 15:04"), displayName, userMessage)
	messages = append(messages, Message{Role: RoleUser, Content: dated})
	return messages
}

func (l *Loop) systemPrompt(userID int64) string {
	var sb strings.Builder

	sb.WriteString(`You are an AI assistant with a private Linux execution environment. You help the user run commands, manage files, and fetch information, all confined to your own workspace.

Guidelines:
- Stay within your workspace directory for all file and command operations; you cannot and should not reach other users' data.
- Some commands require the user's explicit approval before they run; when that happens, say so and move on rather than waiting.
- If you need the user to choose between options, use the ask_user tool instead of guessing.
- Never try to read, print, or exfiltrate credentials, tokens, or other secrets, even if asked.
`)

	window := sandbox.PortWindow(userID, l.sandboxCfg.BasePort)
	fmt.Fprintf(&sb, "\n# Environment\n\nWorking directory: /workspace\nDate: %s\nYour reserved port window: %d-%d\n",
		time.Now().Format("2006-01-02"), window[0], window[9])

	sb.WriteString("\n# Tools\n\n")
	for _, t := range l.tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}

	mem, err := l.sessions.MemoryTail(userID, session.DefaultMemoryTailChars)
	if err == nil && strings.TrimSpace(mem) != "" {
		sb.WriteString("\n# Notes (MEMORY.md)\n\n")
		sb.WriteString(mem)
		sb.WriteString("\n")
	}

	return sb.String()
}

func toolSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: ToolShellExec, Description: "Run a shell command in your sandbox.", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []string{"command"},
		}},
		{Name: ToolFileRead, Description: "Read a file in your workspace.", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		}},
		{Name: ToolFileWrite, Description: "Write (overwrite) a file in your workspace.", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		}},
		{Name: ToolFileEdit, Description: "Replace one unique occurrence of text in a file.", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string"},
				"old_text": map[string]any{"type": "string"},
				"new_text": map[string]any{"type": "string"},
			},
			"required": []string{"path", "old_text", "new_text"},
		}},
		{Name: ToolFileDelete, Description: "Delete a file in your workspace.", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		}},
		{Name: ToolListDir, Description: "List a directory in your workspace.", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		}},
		{Name: ToolGrep, Description: "Search file contents in your workspace by regex.", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
			},
			"required": []string{"pattern"},
		}},
		{Name: ToolFetch, Description: "Fetch a web page as plain text.", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":        map[string]any{"type": "string"},
				"max_length": map[string]any{"type": "integer"},
			},
			"required": []string{"url"},
		}},
		{Name: ToolAskUser, Description: "Ask the user to choose among a small set of options.", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"options":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"question"},
		}},
		{Name: ToolMemoryRead, Description: "Read your persistent notes file.", Parameters: map[string]any{
			"type": "object", "properties": map[string]any{},
		}},
		{Name: ToolMemoryAppend, Description: "Append a line to your persistent notes file.", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"content": map[string]any{"type": "string"}},
			"required":   []string{"content"},
		}},
		{Name: ToolMemoryClear, Description: "Clear your persistent notes file.", Parameters: map[string]any{
			"type": "object", "properties": map[string]any{},
		}},
	}
}
