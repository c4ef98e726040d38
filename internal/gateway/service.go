package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/mapper"
	"github.com/af-corp/antigravity-gateway/internal/types"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
)

// AccountPool hands out upstream accounts. *accounts.Manager implements it.
type AccountPool interface {
	GetNextToken(ctx context.Context) (*accounts.Account, error)
	MarkAsRateLimited(email string)
}

// Upstream sends v1internal calls. *upstream.Client implements it.
type Upstream interface {
	GenerateContent(ctx context.Context, accessToken string, req *types.UpstreamRequest) (*types.GeminiResponse, error)
	StreamGenerateContent(ctx context.Context, accessToken string, req *types.UpstreamRequest) (io.ReadCloser, error)
}

// Result summarizes a completed call for logging and metrics.
type Result struct {
	Account    string
	Model      string
	StopReason string
	Usage      types.ClaudeUsage
	Attempts   int
}

// Service runs client requests against the upstream, rotating accounts on
// transient failures.
type Service struct {
	pool       AccountPool
	upstream   Upstream
	mapper     *mapper.RequestMapper
	signatures *mapper.SignatureStore
	retry      RetryPolicy
}

func NewService(pool AccountPool, up Upstream, m *mapper.RequestMapper, signatures *mapper.SignatureStore, retry RetryPolicy) *Service {
	return &Service{pool: pool, upstream: up, mapper: m, signatures: signatures, retry: retry}
}

// prepare maps req for acc. The account's session id is used when the
// client did not supply one.
func (s *Service) prepare(req *types.ClaudeRequest, acc *accounts.Account) *types.UpstreamRequest {
	up := s.mapper.Transform(req, acc.Token.ProjectID)
	if up.SessionID == "" {
		up.SessionID = acc.Token.SessionID
	}
	return up
}

// fail classifies an upstream failure and cools the account down when it
// is transient.
func (s *Service) fail(acc *accounts.Account, attempt int, err error) error {
	if IsTransient(err) {
		s.pool.MarkAsRateLimited(acc.Email)
		slog.Warn("upstream call failed, account cooling down", "account", acc.Email, "attempt", attempt, "error", err)
	} else if !errors.Is(err, context.Canceled) {
		slog.Error("upstream call failed", "account", acc.Email, "attempt", attempt, "error", err)
	}
	return err
}

// Messages performs a non-streaming messages-API call.
func (s *Service) Messages(ctx context.Context, req *types.ClaudeRequest) (*types.ClaudeResponse, *Result, error) {
	var (
		out *types.ClaudeResponse
		res Result
	)
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt
		acc, err := s.pool.GetNextToken(ctx)
		if err != nil {
			return err
		}
		res.Account = acc.Email

		up := s.prepare(req, acc)
		res.Model = up.Model
		resp, err := s.upstream.GenerateContent(ctx, acc.Token.AccessToken, up)
		if err != nil {
			return s.fail(acc, attempt, err)
		}
		out = mapper.TransformResponse(resp)
		return nil
	})
	if err != nil {
		return nil, &res, err
	}
	res.StopReason = out.StopReason
	res.Usage = out.Usage
	return out, &res, nil
}

// ChatCompletions performs a non-streaming chat-completions call. The
// response carries the client's model name.
func (s *Service) ChatCompletions(ctx context.Context, req *types.OpenAIChatRequest) (*types.OpenAIChatResponse, *Result, error) {
	resp, res, err := s.Messages(ctx, mapper.FromOpenAI(req))
	if err != nil {
		return nil, res, err
	}
	return mapper.ToOpenAI(resp, req.Model), res, nil
}

// openStream retries until the upstream accepted a streaming call.
func (s *Service) openStream(ctx context.Context, req *types.ClaudeRequest, res *Result) (*upstreamStream, error) {
	var stream *upstreamStream
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt
		acc, err := s.pool.GetNextToken(ctx)
		if err != nil {
			return err
		}
		res.Account = acc.Email

		up := s.prepare(req, acc)
		res.Model = up.Model
		body, err := s.upstream.StreamGenerateContent(ctx, acc.Token.AccessToken, up)
		if err != nil {
			return s.fail(acc, attempt, err)
		}
		stream = newUpstreamStream(body)
		return nil
	})
	return stream, err
}

// StreamMessages streams a messages-API call as server-sent events. An
// error is returned only while nothing was written, so the caller can
// still answer with an error body; once the stream is committed, failures
// end the stream and are logged.
func (s *Service) StreamMessages(ctx context.Context, req *types.ClaudeRequest, w http.ResponseWriter) (*Result, error) {
	res := &Result{}
	stream, err := s.openStream(ctx, req, res)
	if err != nil {
		return res, err
	}
	defer stream.Close()

	sse, err := beginSSE(w)
	if err != nil {
		return res, err
	}

	state := mapper.NewStreamState(s.signatures)
	stream.each(ctx, func(chunk *types.GeminiResponse) error {
		return sse.events(state.ProcessChunk(chunk))
	})
	final := append(state.MessageStart(nil), state.Finish()...)
	if err := sse.events(final); err != nil {
		slog.Debug("client went away before stream end", "error", err)
	}

	res.StopReason = state.StopReason()
	res.Usage = state.Usage()
	return res, nil
}

// StreamChatCompletions streams a chat-completions call as data-only SSE
// frames terminated by [DONE].
func (s *Service) StreamChatCompletions(ctx context.Context, req *types.OpenAIChatRequest, w http.ResponseWriter) (*Result, error) {
	res := &Result{}
	stream, err := s.openStream(ctx, mapper.FromOpenAI(req), res)
	if err != nil {
		return res, err
	}
	defer stream.Close()

	sse, err := beginSSE(w)
	if err != nil {
		return res, err
	}

	state := mapper.NewOpenAIStream(req.Model, s.signatures)
	stream.each(ctx, func(chunk *types.GeminiResponse) error {
		return sse.chunks(state.ProcessChunk(chunk))
	})
	final := state.Finish()
	if err := sse.chunks(final); err != nil {
		slog.Debug("client went away before stream end", "error", err)
	} else {
		sse.done()
	}

	if len(final) > 0 && len(final[0].Choices) > 0 && final[0].Choices[0].FinishReason != nil {
		res.StopReason = *final[0].Choices[0].FinishReason
	}
	res.Usage = state.Usage()
	return res, nil
}

// upstreamStream decodes the chunks of an open upstream stream.
type upstreamStream struct {
	body   io.ReadCloser
	reader *upstream.SSEReader
}

func newUpstreamStream(body io.ReadCloser) *upstreamStream {
	return &upstreamStream{body: body, reader: upstream.NewSSEReader(body)}
}

func (u *upstreamStream) Close() error { return u.body.Close() }

// each calls fn for every decodable chunk until the stream ends, the
// context is cancelled, or fn fails. Malformed frames are skipped.
func (u *upstreamStream) each(ctx context.Context, fn func(*types.GeminiResponse) error) {
	for {
		payload, err := u.reader.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("upstream stream interrupted", "error", err)
			}
			return
		}
		chunk, err := upstream.DecodeResponse(payload)
		if err != nil {
			slog.Warn("skipping malformed stream frame", "error", err, "size", len(payload))
			continue
		}
		if err := fn(chunk); err != nil {
			slog.Debug("client write failed, stopping stream", "error", err)
			return
		}
	}
}
