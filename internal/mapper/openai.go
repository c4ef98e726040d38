package mapper

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/antigravity-gateway/internal/types"
)

// FromOpenAI bridges a chat-completions request into the messages-API shape
// so both dialects share one upstream mapping.
func FromOpenAI(req *types.OpenAIChatRequest) *types.ClaudeRequest {
	out := &types.ClaudeRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	switch {
	case req.MaxCompletionTokens != nil:
		out.MaxTokens = *req.MaxCompletionTokens
	case req.MaxTokens != nil:
		out.MaxTokens = *req.MaxTokens
	}
	if req.User != "" {
		out.Metadata = &types.Metadata{UserID: req.User}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, types.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			for _, text := range nonEmpty(msg.Content.Text()) {
				out.System = append(out.System, types.SystemBlock{Type: "text", Text: text})
			}

		case "tool", "function":
			result := types.ToolResultBlock{
				ToolUseID: firstNonEmpty(msg.ToolCallID, msg.Name),
				Content:   []types.ContentBlock{types.TextBlock{Text: msg.Content.Text()}},
			}
			// Consecutive tool results travel in one user turn.
			if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == "user" && isToolResultTurn(out.Messages[n-1]) {
				out.Messages[n-1].Content = append(out.Messages[n-1].Content, result)
				continue
			}
			out.Messages = append(out.Messages, types.Message{Role: "user", Content: []types.ContentBlock{result}})

		case "assistant":
			var blocks []types.ContentBlock
			for _, text := range nonEmpty(msg.Content.Text()) {
				blocks = append(blocks, types.TextBlock{Text: text})
			}
			for _, call := range msg.ToolCalls {
				input, err := types.DecodeObject([]byte(call.Function.Arguments))
				if err != nil {
					slog.Warn("dropping malformed tool call arguments", "tool", call.Function.Name, "error", err)
					input = map[string]any{}
				}
				blocks = append(blocks, types.ToolUseBlock{ID: call.ID, Name: call.Function.Name, Input: input})
			}
			out.Messages = append(out.Messages, types.Message{Role: "assistant", Content: blocks})

		default:
			out.Messages = append(out.Messages, types.Message{Role: "user", Content: userBlocks(msg.Content)})
		}
	}
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func isToolResultTurn(m types.Message) bool {
	for _, b := range m.Content {
		if _, ok := b.(types.ToolResultBlock); !ok {
			return false
		}
	}
	return len(m.Content) > 0
}

func userBlocks(content types.OpenAIContent) []types.ContentBlock {
	var blocks []types.ContentBlock
	for _, p := range content.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, types.TextBlock{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if src, ok := parseDataURI(p.ImageURL.URL); ok {
				blocks = append(blocks, types.ImageBlock{Source: src})
			}
		}
	}
	return blocks
}

// parseDataURI accepts data:<mime>;base64,<data>. Remote URLs are not
// fetched.
func parseDataURI(uri string) (types.ImageSource, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return types.ImageSource{}, false
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return types.ImageSource{}, false
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return types.ImageSource{}, false
	}
	return types.ImageSource{Type: "base64", MediaType: mime, Data: data}, true
}

// OpenAIFinishReason maps a messages-API stop reason to its chat-completions
// equivalent.
func OpenAIFinishReason(stopReason string) string {
	switch stopReason {
	case StopToolUse:
		return "tool_calls"
	case StopMaxTokens:
		return "length"
	default:
		return "stop"
	}
}

// ToOpenAI renders a messages-API response as a chat completion for model.
func ToOpenAI(resp *types.ClaudeResponse, model string) *types.OpenAIChatResponse {
	msg := types.OpenAIResponseMessage{Role: "assistant"}
	var text, reasoning strings.Builder
	for _, block := range resp.Content {
		switch b := block.(type) {
		case types.TextBlock:
			text.WriteString(b.Text)
		case types.ThinkingBlock:
			reasoning.WriteString(b.Thinking)
		case types.ToolUseBlock:
			args, err := json.Marshal(b.Input)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, types.OpenAIToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: types.OpenAIFunctionCall{Name: b.Name, Arguments: string(args)},
			})
		}
	}
	msg.Content = text.String()
	msg.ReasoningContent = reasoning.String()

	return &types.OpenAIChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.OpenAIChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: OpenAIFinishReason(resp.StopReason),
		}},
		Usage: types.OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// OpenAIStream re-encodes upstream stream chunks as chat.completion.chunk
// frames. Thought parts are not forwarded.
type OpenAIStream struct {
	signatures *SignatureStore

	id       string
	model    string
	created  int64
	roleSent bool
	finished bool

	toolCalls    int
	finishReason string
	usage        *types.UsageMetadata
	queries      []string
	sources      []types.GroundingChunk
}

func NewOpenAIStream(model string, signatures *SignatureStore) *OpenAIStream {
	return &OpenAIStream{
		signatures: signatures,
		id:         "chatcmpl-" + uuid.NewString(),
		model:      model,
		created:    time.Now().Unix(),
	}
}

func (s *OpenAIStream) chunk(delta types.OpenAIDelta, finish *string) types.OpenAIStreamChunk {
	if !s.roleSent {
		delta.Role = "assistant"
		s.roleSent = true
	}
	return types.OpenAIStreamChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.OpenAIStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// ProcessChunk converts the parts of one upstream chunk.
func (s *OpenAIStream) ProcessChunk(chunk *types.GeminiResponse) []types.OpenAIStreamChunk {
	var out []types.OpenAIStreamChunk
	candidate := chunk.FirstCandidate()
	for _, part := range candidate.Parts() {
		switch {
		case part.FunctionCall != nil:
			fc := part.FunctionCall
			if part.ThoughtSignature != "" {
				s.signatures.Store(part.ThoughtSignature)
			}
			id := fc.ID
			if id == "" {
				id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
			}
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			index := s.toolCalls
			s.toolCalls++
			out = append(out, s.chunk(types.OpenAIDelta{ToolCalls: []types.OpenAIToolCall{{
				Index:    &index,
				ID:       id,
				Type:     "function",
				Function: types.OpenAIFunctionCall{Name: fc.Name, Arguments: string(args)},
			}}}, nil))

		case part.Thought:
			continue

		case part.TextValue() != "":
			out = append(out, s.chunk(types.OpenAIDelta{Content: part.TextValue()}, nil))

		case part.InlineData != nil && part.InlineData.Data != "":
			out = append(out, s.chunk(types.OpenAIDelta{Content: imageMarkdown(part.InlineData)}, nil))
		}
	}

	if candidate != nil {
		if g := candidate.GroundingMetadata; g != nil {
			if len(g.WebSearchQueries) > 0 {
				s.queries = g.WebSearchQueries
			}
			if len(g.GroundingChunks) > 0 {
				s.sources = g.GroundingChunks
			}
		}
		if candidate.FinishReason != "" {
			s.finishReason = candidate.FinishReason
		}
	}
	if chunk != nil && chunk.UsageMetadata != nil {
		s.usage = chunk.UsageMetadata
	}
	return out
}

// Finish emits the rendered grounding, if any, as a content delta and then
// the final chunk carrying the finish reason and usage. Calls after the
// first return nothing.
func (s *OpenAIStream) Finish() []types.OpenAIStreamChunk {
	if s.finished {
		return nil
	}
	s.finished = true

	stop := StopEndTurn
	switch {
	case s.toolCalls > 0:
		stop = StopToolUse
	case s.finishReason == "MAX_TOKENS":
		stop = StopMaxTokens
	}
	reason := OpenAIFinishReason(stop)

	var out []types.OpenAIStreamChunk
	grounding := renderGrounding(&types.GroundingMetadata{
		WebSearchQueries: s.queries,
		GroundingChunks:  s.sources,
	})
	if grounding != "" {
		out = append(out, s.chunk(types.OpenAIDelta{Content: grounding}, nil))
	}

	last := s.chunk(types.OpenAIDelta{}, &reason)
	if s.usage != nil {
		last.Usage = &types.OpenAIUsage{
			PromptTokens:     s.usage.PromptTokenCount,
			CompletionTokens: s.usage.CandidatesTokenCount,
			TotalTokens:      s.usage.TotalTokenCount,
		}
	}
	return append(out, last)
}

// OpenAIDone terminates a chat-completions stream.
const OpenAIDone = "data: [DONE]\n\n"

// WriteOpenAIChunks writes chunks as "data: <json>\n\n" frames.
func WriteOpenAIChunks(w io.Writer, chunks []types.OpenAIStreamChunk) error {
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
	}
	return nil
}

// Usage reports the token counts seen so far.
func (s *OpenAIStream) Usage() types.ClaudeUsage {
	if s.usage == nil {
		return types.ClaudeUsage{}
	}
	return types.ClaudeUsage{InputTokens: s.usage.PromptTokenCount, OutputTokens: s.usage.CandidatesTokenCount}
}
