package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ClaudeRequest is the Anthropic messages-API request. OpenAI requests are
// bridged into this shape before they are mapped upstream.
type ClaudeRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	System      SystemPrompt    `json:"system,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
}

type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Enabled reports whether extended thinking was requested.
func (t *ThinkingConfig) Enabled() bool {
	return t != nil && t.Type == "enabled"
}

type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemPrompt accepts either a plain string or a list of text blocks.
type SystemPrompt []SystemBlock

type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = SystemPrompt{{Type: "text", Text: text}}
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("decode system prompt: %w", err)
	}
	*s = blocks
	return nil
}

// Texts returns the text of every text block in order.
func (s SystemPrompt) Texts() []string {
	var out []string
	for _, b := range s {
		if b.Type == "text" || b.Type == "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// Contains reports whether any text block contains substr.
func (s SystemPrompt) Contains(substr string) bool {
	for _, t := range s.Texts() {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

// Tool covers the three tool-declaration shapes clients send: Anthropic
// ({name, input_schema} or server tools with a type), OpenAI ({type,
// function}) and raw Gemini declarations.
type Tool struct {
	Type        string         `json:"type,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`

	Function *ToolFunction `json:"function,omitempty"`

	FunctionDeclarations  []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch          *Empty                `json:"googleSearch,omitempty"`
	GoogleSearchRetrieval *Empty                `json:"googleSearchRetrieval,omitempty"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Message is one conversation turn. Content may arrive as a plain string,
// which decodes to a single TextBlock.
type Message struct {
	Role    string
	Content []ContentBlock
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	blocks, err := decodeContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = blocks
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	content := m.Content
	if content == nil {
		content = []ContentBlock{}
	}
	return json.Marshal(struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	}{m.Role, content})
}

// ContentBlock is the closed set of message content variants.
type ContentBlock interface {
	BlockType() string
	contentBlock()
}

type TextBlock struct {
	Text string
}

type ThinkingBlock struct {
	Thinking  string
	Signature string
}

type ImageBlock struct {
	Source ImageSource
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type ToolUseBlock struct {
	ID        string
	Name      string
	Input     map[string]any
	Signature string
}

type ToolResultBlock struct {
	ToolUseID string
	Content   []ContentBlock
	IsError   bool
}

type RedactedThinkingBlock struct {
	Data string
}

func (TextBlock) BlockType() string             { return "text" }
func (ThinkingBlock) BlockType() string         { return "thinking" }
func (ImageBlock) BlockType() string            { return "image" }
func (ToolUseBlock) BlockType() string          { return "tool_use" }
func (ToolResultBlock) BlockType() string       { return "tool_result" }
func (RedactedThinkingBlock) BlockType() string { return "redacted_thinking" }

func (TextBlock) contentBlock()             {}
func (ThinkingBlock) contentBlock()         {}
func (ImageBlock) contentBlock()            {}
func (ToolUseBlock) contentBlock()          {}
func (ToolResultBlock) contentBlock()       {}
func (RedactedThinkingBlock) contentBlock() {}

func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", b.Text})
}

func (b ThinkingBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature,omitempty"`
	}{"thinking", b.Thinking, b.Signature})
}

func (b ImageBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string      `json:"type"`
		Source ImageSource `json:"source"`
	}{"image", b.Source})
}

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	return json.Marshal(struct {
		Type      string         `json:"type"`
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Input     map[string]any `json:"input"`
		Signature string         `json:"signature,omitempty"`
	}{"tool_use", b.ID, b.Name, input, b.Signature})
}

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	content := b.Content
	if content == nil {
		content = []ContentBlock{}
	}
	return json.Marshal(struct {
		Type      string         `json:"type"`
		ToolUseID string         `json:"tool_use_id"`
		Content   []ContentBlock `json:"content"`
		IsError   bool           `json:"is_error,omitempty"`
	}{"tool_result", b.ToolUseID, content, b.IsError})
}

func (b RedactedThinkingBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{"redacted_thinking", b.Data})
}

// decodeContent accepts a string, null, or an array of typed blocks.
// Blocks of unknown type are dropped.
func decodeContent(data json.RawMessage) ([]ContentBlock, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, err
		}
		return []ContentBlock{TextBlock{Text: text}}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, raw := range raws {
		b, err := decodeBlock(raw)
		if err != nil {
			return nil, err
		}
		if b != nil {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func decodeBlock(raw json.RawMessage) (ContentBlock, error) {
	var wire struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		Thinking  string          `json:"thinking"`
		Signature string          `json:"signature"`
		Source    ImageSource     `json:"source"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
		Data      string          `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode content block: %w", err)
	}

	switch wire.Type {
	case "text":
		return TextBlock{Text: wire.Text}, nil
	case "thinking":
		return ThinkingBlock{Thinking: wire.Thinking, Signature: wire.Signature}, nil
	case "image":
		return ImageBlock{Source: wire.Source}, nil
	case "tool_use":
		input, err := DecodeObject(wire.Input)
		if err != nil {
			return nil, fmt.Errorf("decode tool_use input: %w", err)
		}
		return ToolUseBlock{ID: wire.ID, Name: wire.Name, Input: input, Signature: wire.Signature}, nil
	case "tool_result":
		content, err := decodeContent(wire.Content)
		if err != nil {
			return nil, err
		}
		return ToolResultBlock{ToolUseID: wire.ToolUseID, Content: content, IsError: wire.IsError}, nil
	case "redacted_thinking":
		return RedactedThinkingBlock{Data: wire.Data}, nil
	default:
		return nil, nil
	}
}

// DecodeObject decodes a JSON object keeping numbers as json.Number.
// Empty input and null yield an empty map.
func DecodeObject(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	out := map[string]any{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaudeResponse is the non-streaming messages-API response.
type ClaudeResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        ClaudeUsage    `json:"usage"`
}

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (r *ClaudeResponse) UnmarshalJSON(data []byte) error {
	type alias ClaudeResponse
	var wire struct {
		alias
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := decodeContent(wire.Content)
	if err != nil {
		return err
	}
	*r = ClaudeResponse(wire.alias)
	r.Content = content
	return nil
}

// Text concatenates the text blocks of the response.
func (r *ClaudeResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if t, ok := b.(TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
