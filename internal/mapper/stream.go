package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/af-corp/antigravity-gateway/internal/types"
)

// Event is one server-sent event frame for messages-API streaming.
type Event struct {
	Name string
	Data any
}

// Encode renders the frame as "event: <name>\ndata: <json>\n\n".
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(e.Name) + 16)
	buf.WriteString("event: ")
	buf.WriteString(e.Name)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// WriteEvents encodes events to w in order.
func WriteEvents(w io.Writer, events []Event) error {
	for _, ev := range events {
		frame, err := ev.Encode()
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockFunction
)

type blockStart struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	ContentBlock types.ContentBlock `json:"content_block"`
}

type blockDelta struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Delta map[string]any `json:"delta"`
}

type blockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// StreamState reassembles upstream stream chunks into messages-API events.
// One instance serves exactly one client call.
type StreamState struct {
	signatures *SignatureStore

	kind        blockKind
	index       int
	pendingSig  string
	trailingSig string
	usedTool    bool

	messageStartSent bool
	finished         bool

	queries      []string
	chunks       []types.GroundingChunk
	finishReason string
	usage        *types.UsageMetadata
}

func NewStreamState(signatures *SignatureStore) *StreamState {
	return &StreamState{signatures: signatures}
}

// MessageStart emits message_start once, taking id, model and usage from
// the first chunk.
func (s *StreamState) MessageStart(chunk *types.GeminiResponse) []Event {
	if s.messageStartSent {
		return nil
	}
	s.messageStartSent = true

	id, model := "msg_unknown", ""
	var usage *types.ClaudeUsage
	if chunk != nil {
		if chunk.ResponseID != "" {
			id = chunk.ResponseID
		}
		model = chunk.ModelVersion
		if u := chunk.UsageMetadata; u != nil {
			usage = &types.ClaudeUsage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
		}
	}

	message := map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"content":       []any{},
		"model":         model,
		"stop_reason":   nil,
		"stop_sequence": nil,
	}
	if usage != nil {
		message["usage"] = usage
	}
	return []Event{{Name: "message_start", Data: map[string]any{"type": "message_start", "message": message}}}
}

// ProcessChunk handles one upstream chunk: message start, every part, and
// the grounding, finish reason and usage carried for Finish.
func (s *StreamState) ProcessChunk(chunk *types.GeminiResponse) []Event {
	events := s.MessageStart(chunk)

	candidate := chunk.FirstCandidate()
	for _, part := range candidate.Parts() {
		events = append(events, s.ProcessPart(part)...)
	}
	if candidate != nil {
		if g := candidate.GroundingMetadata; g != nil {
			if len(g.WebSearchQueries) > 0 {
				s.queries = g.WebSearchQueries
			}
			if len(g.GroundingChunks) > 0 {
				s.chunks = g.GroundingChunks
			}
		}
		if candidate.FinishReason != "" {
			s.finishReason = candidate.FinishReason
		}
	}
	if chunk != nil && chunk.UsageMetadata != nil {
		s.usage = chunk.UsageMetadata
	}
	return events
}

// ProcessPart advances the block state machine by one upstream part.
func (s *StreamState) ProcessPart(part types.Part) []Event {
	sig := part.ThoughtSignature

	if part.FunctionCall != nil {
		events := s.flushTrailing()
		return append(events, s.functionCall(part.FunctionCall, sig)...)
	}

	var events []Event
	if part.HasText() {
		if part.Thought {
			events = append(events, s.thinking(part.TextValue(), sig)...)
		} else {
			events = append(events, s.text(part.TextValue(), sig)...)
		}
	}
	if img := part.InlineData; img != nil && img.Data != "" {
		events = append(events, s.text(imageMarkdown(img), "")...)
	}
	return events
}

func (s *StreamState) thinking(text, sig string) []Event {
	events := s.flushTrailing()
	if s.kind != blockThinking {
		events = append(events, s.startBlock(blockThinking, types.ThinkingBlock{})...)
	}
	if text != "" {
		events = append(events, s.delta("thinking_delta", "thinking", text))
	}
	if sig != "" {
		s.pendingSig = sig
	}
	return events
}

func (s *StreamState) text(text, sig string) []Event {
	if text == "" {
		if sig != "" {
			s.trailingSig = sig
		}
		return nil
	}

	events := s.flushTrailing()

	if sig != "" {
		events = append(events, s.startBlock(blockText, types.TextBlock{})...)
		events = append(events, s.delta("text_delta", "text", text))
		events = append(events, s.endBlock()...)
		return append(events, s.signatureBlock(sig)...)
	}

	if s.kind != blockText {
		events = append(events, s.startBlock(blockText, types.TextBlock{})...)
	}
	return append(events, s.delta("text_delta", "text", text))
}

func (s *StreamState) functionCall(fc *types.FunctionCall, sig string) []Event {
	s.usedTool = true

	id := fc.ID
	if id == "" {
		id = fc.Name + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	}
	if sig != "" {
		s.signatures.Store(sig)
	}

	events := s.startBlock(blockFunction, types.ToolUseBlock{ID: id, Name: fc.Name, Signature: sig})
	if fc.Args != nil {
		if args, err := json.Marshal(fc.Args); err == nil {
			events = append(events, s.delta("input_json_delta", "partial_json", string(args)))
		}
	}
	return append(events, s.endBlock()...)
}

func (s *StreamState) startBlock(kind blockKind, block types.ContentBlock) []Event {
	events := s.endBlock()
	events = append(events, Event{Name: "content_block_start", Data: blockStart{
		Type:         "content_block_start",
		Index:        s.index,
		ContentBlock: block,
	}})
	s.kind = kind
	return events
}

// endBlock closes the open block. A thinking block emits its pending
// signature right before it closes.
func (s *StreamState) endBlock() []Event {
	if s.kind == blockNone {
		return nil
	}

	var events []Event
	if s.kind == blockThinking && s.pendingSig != "" {
		events = append(events, s.delta("signature_delta", "signature", s.pendingSig))
		s.pendingSig = ""
	}
	events = append(events, Event{Name: "content_block_stop", Data: blockStop{Type: "content_block_stop", Index: s.index}})
	s.index++
	s.kind = blockNone
	return events
}

func (s *StreamState) delta(deltaType, key, value string) Event {
	return Event{Name: "content_block_delta", Data: blockDelta{
		Type:  "content_block_delta",
		Index: s.index,
		Delta: map[string]any{"type": deltaType, key: value},
	}}
}

// signatureBlock emits a self-contained empty thinking block carrying sig.
func (s *StreamState) signatureBlock(sig string) []Event {
	events := s.startBlock(blockThinking, types.ThinkingBlock{})
	events = append(events,
		s.delta("thinking_delta", "thinking", ""),
		s.delta("signature_delta", "signature", sig),
	)
	return append(events, s.endBlock()...)
}

func (s *StreamState) flushTrailing() []Event {
	if s.trailingSig == "" {
		return nil
	}
	sig := s.trailingSig
	s.trailingSig = ""
	return s.signatureBlock(sig)
}

// Finish closes the stream: open block, trailing signature, grounding,
// message_delta and message_stop. Calls after the first return nothing.
func (s *StreamState) Finish() []Event {
	if s.finished {
		return nil
	}
	s.finished = true

	events := s.endBlock()
	events = append(events, s.flushTrailing()...)

	grounding := renderGrounding(&types.GroundingMetadata{
		WebSearchQueries: s.queries,
		GroundingChunks:  s.chunks,
	})
	if grounding != "" {
		events = append(events, s.startBlock(blockText, types.TextBlock{})...)
		events = append(events, s.delta("text_delta", "text", grounding))
		events = append(events, s.endBlock()...)
	}

	var usage types.ClaudeUsage
	if s.usage != nil {
		usage = types.ClaudeUsage{InputTokens: s.usage.PromptTokenCount, OutputTokens: s.usage.CandidatesTokenCount}
	}

	return append(events,
		Event{Name: "message_delta", Data: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": s.StopReason(), "stop_sequence": nil},
			"usage": usage,
		}},
		Event{Name: "message_stop", Data: map[string]any{"type": "message_stop"}},
	)
}

// StopReason reports the stop reason Finish would emit.
func (s *StreamState) StopReason() string {
	switch {
	case s.usedTool:
		return StopToolUse
	case s.finishReason == "MAX_TOKENS":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// Usage reports the token counts seen so far.
func (s *StreamState) Usage() types.ClaudeUsage {
	if s.usage == nil {
		return types.ClaudeUsage{}
	}
	return types.ClaudeUsage{InputTokens: s.usage.PromptTokenCount, OutputTokens: s.usage.CandidatesTokenCount}
}
