package mapper

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/af-corp/antigravity-gateway/internal/types"
)

// Stop reasons reported to messages-API clients.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// TransformResponse maps a non-streaming upstream response to a messages-API
// response.
func TransformResponse(resp *types.GeminiResponse) *types.ClaudeResponse {
	p := &responseBuilder{}
	candidate := resp.FirstCandidate()

	for _, part := range candidate.Parts() {
		p.processPart(part)
	}
	if candidate != nil && candidate.GroundingMetadata != nil {
		if text := renderGrounding(candidate.GroundingMetadata); text != "" {
			p.flushThinking()
			p.flushText()
			p.text.WriteString(text)
			p.flushText()
		}
	}

	p.flushThinking()
	p.flushText()
	p.flushTrailing()

	out := &types.ClaudeResponse{
		ID:         resp.ResponseID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.ModelVersion,
		Content:    p.blocks,
		StopReason: stopReason(p.hasToolCall, candidate),
	}
	if out.ID == "" {
		out.ID = "msg_" + uuid.NewString()
	}
	if out.Content == nil {
		out.Content = []types.ContentBlock{}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.ClaudeUsage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
	}
	return out
}

func stopReason(hasToolCall bool, candidate *types.Candidate) string {
	switch {
	case hasToolCall:
		return StopToolUse
	case candidate != nil && candidate.FinishReason == "MAX_TOKENS":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// responseBuilder accumulates text and thinking between block boundaries.
type responseBuilder struct {
	blocks      []types.ContentBlock
	text        strings.Builder
	thinking    strings.Builder
	thinkingSig string
	trailingSig string
	hasToolCall bool
}

func (p *responseBuilder) processPart(part types.Part) {
	sig := part.ThoughtSignature

	if fc := part.FunctionCall; fc != nil {
		p.flushThinking()
		p.flushText()
		p.flushTrailing()
		p.hasToolCall = true

		id := fc.ID
		if id == "" {
			id = fc.Name + "-" + uuid.NewString()
		}
		input := fc.Args
		if input == nil {
			input = map[string]any{}
		}
		p.blocks = append(p.blocks, types.ToolUseBlock{ID: id, Name: fc.Name, Input: input, Signature: sig})
		return
	}

	if part.HasText() {
		text := part.TextValue()
		switch {
		case part.Thought:
			p.flushText()
			if p.trailingSig != "" {
				p.flushThinking()
				p.flushTrailing()
			}
			p.thinking.WriteString(text)
			if sig != "" {
				p.thinkingSig = sig
			}

		case text == "":
			if sig != "" {
				p.trailingSig = sig
			}
			return

		default:
			p.flushThinking()
			if p.trailingSig != "" {
				p.flushText()
				p.flushTrailing()
			}
			p.text.WriteString(text)
			if sig != "" {
				p.flushText()
				p.blocks = append(p.blocks, types.ThinkingBlock{Signature: sig})
			}
		}
	}

	if img := part.InlineData; img != nil && img.Data != "" {
		p.flushThinking()
		p.text.WriteString(imageMarkdown(img))
		p.flushText()
	}
}

func (p *responseBuilder) flushText() {
	if p.text.Len() == 0 {
		return
	}
	p.blocks = append(p.blocks, types.TextBlock{Text: p.text.String()})
	p.text.Reset()
}

func (p *responseBuilder) flushThinking() {
	if p.thinking.Len() == 0 && p.thinkingSig == "" {
		return
	}
	p.blocks = append(p.blocks, types.ThinkingBlock{Thinking: p.thinking.String(), Signature: p.thinkingSig})
	p.thinking.Reset()
	p.thinkingSig = ""
}

// flushTrailing materializes a detached signature as an empty thinking block.
func (p *responseBuilder) flushTrailing() {
	if p.trailingSig == "" {
		return
	}
	p.blocks = append(p.blocks, types.ThinkingBlock{Signature: p.trailingSig})
	p.trailingSig = ""
}

func imageMarkdown(img *types.InlineData) string {
	return fmt.Sprintf("![image](data:%s;base64,%s)", img.MimeType, img.Data)
}

// renderGrounding renders search queries and cited sources as Markdown.
func renderGrounding(g *types.GroundingMetadata) string {
	var sb strings.Builder
	if len(g.WebSearchQueries) > 0 {
		sb.WriteString("\n\n---\n**Searched for:** ")
		sb.WriteString(strings.Join(g.WebSearchQueries, ", "))
	}

	var links []string
	for i, chunk := range g.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = "Web source"
		}
		uri := chunk.Web.URI
		if uri == "" {
			uri = "#"
		}
		links = append(links, fmt.Sprintf("[%d] [%s](%s)", i+1, title, uri))
	}
	if len(links) > 0 {
		sb.WriteString("\n\n**Sources:**\n")
		sb.WriteString(strings.Join(links, "\n"))
	}
	return sb.String()
}
