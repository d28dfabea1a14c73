package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnthropicClient implements Client against the Anthropic Messages API.
// It is the one concrete LLM provider wired into the composition root; any
// other provider only needs to satisfy the same Client interface.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	maxTokens  int
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey    string
	Model     string // e.g. "claude-sonnet-4-5"
	BaseURL   string // defaults to https://api.anthropic.com
	MaxTokens int    // defaults to 4096
	Timeout   time.Duration
}

// NewAnthropicClient builds a Client backed by the Anthropic Messages API.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicToolSpec `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContentBlock
}

type anthropicContentBlock struct {
	Type      string `json:"type"` // "text", "tool_use", "tool_result"
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicError         `json:"error"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete implements Client. It renders the generic Message/ToolSpec shapes
// into Anthropic's content-block form and renders the response back, folding
// the model's own "thinking" blocks into Response.Reasoning so callers never
// see them mixed into Content.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	req := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Tools:     renderToolSpecs(tools),
	}

	var rendered []anthropicMessage
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if req.System == "" {
				req.System = m.Content
			} else {
				req.System += "\n\n" + m.Content
			}
		case RoleTool:
			rendered = append(rendered, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			rendered = append(rendered, renderAssistantMessage(m))
		default:
			rendered = append(rendered, anthropicMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	req.Messages = rendered

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("parse anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("anthropic api error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("anthropic api returned status %d", resp.StatusCode)
	}

	return parseAnthropicContent(parsed.Content), nil
}

// renderAssistantMessage renders an assistant turn as Anthropic content
// blocks: a text block for any non-empty reply plus one tool_use block per
// tool call, so a later tool_result can reference a real tool_use id. A
// pure-text turn with no tool calls keeps the plain string form.
func renderAssistantMessage(m Message) anthropicMessage {
	if len(m.ToolCalls) == 0 {
		return anthropicMessage{Role: "assistant", Content: m.Content}
	}

	var blocks []anthropicContentBlock
	if m.Content != "" {
		blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	return anthropicMessage{Role: "assistant", Content: blocks}
}

func renderToolSpecs(tools []ToolSpec) []anthropicToolSpec {
	out := make([]anthropicToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func parseAnthropicContent(blocks []anthropicContentBlock) Response {
	var resp Response
	for _, b := range blocks {
		switch b.Type {
		case "text":
			resp.Content += b.Text
		case "thinking":
			resp.Reasoning += b.Text
		case "tool_use":
			args, _ := b.Input.(map[string]any)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return resp
}
