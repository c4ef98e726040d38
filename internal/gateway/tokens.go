package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/af-corp/antigravity-gateway/internal/types"
)

const messageOverhead = 4

// TokenCounter estimates prompt tokens with the cl100k_base encoding. When
// the encoding cannot be loaded it falls back to four characters per token.
type TokenCounter struct {
	once   sync.Once
	encode func(string) int
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) load() {
	if c.encode != nil {
		return
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenizer unavailable, using character estimate", "error", err)
		c.encode = func(s string) int { return (utf8.RuneCountInString(s) + 3) / 4 }
		return
	}
	c.encode = func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// Count estimates the input tokens of req: system prompt, messages and tool
// definitions.
func (c *TokenCounter) Count(req *types.ClaudeRequest) int {
	c.once.Do(c.load)

	total := 0
	for _, text := range req.System.Texts() {
		total += c.encode(text)
	}
	for _, msg := range req.Messages {
		total += messageOverhead + c.blocks(msg.Content)
	}
	for _, tool := range req.Tools {
		if data, err := json.Marshal(tool); err == nil {
			total += c.encode(string(data))
		}
	}
	return total
}

func (c *TokenCounter) blocks(blocks []types.ContentBlock) int {
	n := 0
	for _, block := range blocks {
		switch b := block.(type) {
		case types.TextBlock:
			n += c.encode(b.Text)
		case types.ThinkingBlock:
			n += c.encode(b.Thinking)
		case types.ToolUseBlock:
			n += c.encode(b.Name)
			if data, err := json.Marshal(b.Input); err == nil {
				n += c.encode(string(data))
			}
		case types.ToolResultBlock:
			n += c.blocks(b.Content)
		}
	}
	return n
}
