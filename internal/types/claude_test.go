package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_StringContent(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m))

	assert.Equal(t, "user", m.Role)
	require.Len(t, m.Content, 1)
	assert.Equal(t, TextBlock{Text: "hello"}, m.Content[0])
}

func TestMessage_BlockContent(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"thinking","thinking":"hmm","signature":"sig-0123456789"},
		{"type":"text","text":"answer"},
		{"type":"tool_use","id":"t1","name":"ls","input":{"path":"/","depth":2}},
		{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"is_error":true},
		{"type":"redacted_thinking","data":"xyz"},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}},
		{"type":"document","source":{}}
	]}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Len(t, m.Content, 6, "unknown block types are dropped")

	assert.Equal(t, ThinkingBlock{Thinking: "hmm", Signature: "sig-0123456789"}, m.Content[0])
	assert.Equal(t, TextBlock{Text: "answer"}, m.Content[1])

	use, ok := m.Content[2].(ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "ls", use.Name)
	assert.Equal(t, json.Number("2"), use.Input["depth"])

	result, ok := m.Content[3].(ToolResultBlock)
	require.True(t, ok)
	assert.True(t, result.IsError)
	assert.Len(t, result.Content, 2)

	assert.Equal(t, RedactedThinkingBlock{Data: "xyz"}, m.Content[4])
	assert.Equal(t, "image/png", m.Content[5].(ImageBlock).Source.MediaType)
}

func TestSystemPrompt_StringAndBlocks(t *testing.T) {
	var req ClaudeRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[],"system":"be brief"}`), &req))
	assert.Equal(t, []string{"be brief"}, req.System.Texts())

	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[],"system":[{"type":"text","text":"a"},{"type":"text","text":"You are Antigravity"}]}`), &req))
	assert.Equal(t, []string{"a", "You are Antigravity"}, req.System.Texts())
	assert.True(t, req.System.Contains("You are Antigravity"))
}

func TestClaudeResponse_RoundTrip(t *testing.T) {
	resp := ClaudeResponse{
		ID:   "msg_1",
		Type: "message",
		Role: "assistant",
		Content: []ContentBlock{
			TextBlock{Text: "hi"},
			ThinkingBlock{Signature: "sig"},
			ToolUseBlock{ID: "t", Name: "f"},
		},
		StopReason: "tool_use",
	}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input":{}`)
	assert.Contains(t, string(data), `"thinking":""`)

	var back ClaudeResponse
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, resp.Content, []ContentBlock{back.Content[0], back.Content[1], ToolUseBlock{ID: "t", Name: "f"}})
	assert.Equal(t, "hi", back.Text())
	assert.Equal(t, "tool_use", back.StopReason)
}

func TestOpenAIContent(t *testing.T) {
	var msg OpenAIMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA"}},{"type":"text","text":"b"}]}`), &msg))
	assert.Equal(t, "a\nb", msg.Content.Text())
	assert.Len(t, msg.Content.Parts, 3)

	data, err := json.Marshal(OpenAIMessage{Role: "assistant", Content: TextContent("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":"x"}`, string(data))
}
