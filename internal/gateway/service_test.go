package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/mapper"
	"github.com/af-corp/antigravity-gateway/internal/router"
	"github.com/af-corp/antigravity-gateway/internal/types"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
)

// fakePool rotates over emails and records cool-downs.
type fakePool struct {
	mu      sync.Mutex
	emails  []string
	next    int
	limited []string
	err     error
}

func (p *fakePool) GetNextToken(context.Context) (*accounts.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	email := p.emails[p.next%len(p.emails)]
	p.next++
	return &accounts.Account{ID: email, Email: email, Token: &accounts.Token{
		AccessToken: "token-" + email,
		ProjectID:   "project-1",
		SessionID:   "-1234567890123456789",
	}}, nil
}

func (p *fakePool) MarkAsRateLimited(email string) {
	p.mu.Lock()
	p.limited = append(p.limited, email)
	p.mu.Unlock()
}

// fakeUpstream answers from a script of per-call results.
type fakeUpstream struct {
	mu       sync.Mutex
	calls    []*types.UpstreamRequest
	tokens   []string
	errs     []error
	response *types.GeminiResponse
	stream   string
}

func (u *fakeUpstream) record(token string, req *types.UpstreamRequest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, req)
	u.tokens = append(u.tokens, token)
	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]
		return err
	}
	return nil
}

func (u *fakeUpstream) GenerateContent(_ context.Context, token string, req *types.UpstreamRequest) (*types.GeminiResponse, error) {
	if err := u.record(token, req); err != nil {
		return nil, err
	}
	return u.response, nil
}

func (u *fakeUpstream) StreamGenerateContent(_ context.Context, token string, req *types.UpstreamRequest) (io.ReadCloser, error) {
	if err := u.record(token, req); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(u.stream)), nil
}

func textResponse(text string) *types.GeminiResponse {
	return &types.GeminiResponse{
		Candidates: []types.Candidate{{
			Content:      &types.Content{Role: "model", Parts: []types.Part{{Text: &text}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &types.UsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 3, TotalTokenCount: 15},
	}
}

func newTestService(pool AccountPool, up Upstream) *Service {
	sigs := mapper.NewSignatureStore()
	return NewService(pool, up, mapper.NewRequestMapper(router.NewModels(nil), sigs), sigs, DefaultRetryPolicy())
}

func userRequest(model string) *types.ClaudeRequest {
	return &types.ClaudeRequest{
		Model:     model,
		MaxTokens: 100,
		Messages:  []types.Message{{Role: "user", Content: []types.ContentBlock{types.TextBlock{Text: "hi"}}}},
	}
}

func TestService_Messages(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com"}}
	up := &fakeUpstream{response: textResponse("Hello")}
	svc := newTestService(pool, up)

	resp, res, err := svc.Messages(context.Background(), userRequest("claude-sonnet-4-5"))
	require.NoError(t, err)

	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello", resp.Text())
	assert.Equal(t, "a@example.com", res.Account)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 12, res.Usage.InputTokens)
	assert.Equal(t, 3, res.Usage.OutputTokens)

	require.Len(t, up.calls, 1)
	assert.Equal(t, "project-1", up.calls[0].Project)
	assert.Equal(t, "-1234567890123456789", up.calls[0].SessionID)
	assert.Equal(t, "token-a@example.com", up.tokens[0])
}

func TestService_RotatesOnTransientError(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com", "b@example.com"}}
	up := &fakeUpstream{
		response: textResponse("ok"),
		errs:     []error{&upstream.Error{Status: http.StatusTooManyRequests, Message: "RESOURCE_EXHAUSTED"}},
	}
	svc := newTestService(pool, up)

	_, res, err := svc.Messages(context.Background(), userRequest("claude-sonnet-4-5"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "b@example.com", res.Account)
	assert.Equal(t, []string{"a@example.com"}, pool.limited)
	assert.Equal(t, []string{"token-a@example.com", "token-b@example.com"}, up.tokens)
}

func TestService_GivesUpAfterMaxAttempts(t *testing.T) {
	quota := &upstream.Error{Status: http.StatusForbidden, Message: "PERMISSION_DENIED"}
	pool := &fakePool{emails: []string{"a@example.com", "b@example.com", "c@example.com"}}
	up := &fakeUpstream{errs: []error{quota, quota, quota, quota}}
	svc := newTestService(pool, up)

	_, res, err := svc.Messages(context.Background(), userRequest("claude-sonnet-4-5"))
	require.Error(t, err)

	var uerr *upstream.Error
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, http.StatusForbidden, uerr.Status)
	assert.Equal(t, DefaultMaxAttempts, res.Attempts)
	assert.Len(t, up.calls, DefaultMaxAttempts)
	assert.Len(t, pool.limited, DefaultMaxAttempts)
}

func TestService_PermanentErrorIsNotRetried(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com"}}
	up := &fakeUpstream{errs: []error{&upstream.Error{Status: http.StatusBadRequest, Message: "invalid argument"}}}
	svc := newTestService(pool, up)

	_, _, err := svc.Messages(context.Background(), userRequest("claude-sonnet-4-5"))
	require.Error(t, err)
	assert.Len(t, up.calls, 1)
	assert.Empty(t, pool.limited)
}

func TestService_NoAccount(t *testing.T) {
	pool := &fakePool{err: accounts.ErrNoAccountAvailable}
	up := &fakeUpstream{}
	svc := newTestService(pool, up)

	_, res, err := svc.Messages(context.Background(), userRequest("claude-sonnet-4-5"))
	assert.ErrorIs(t, err, accounts.ErrNoAccountAvailable)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, up.calls)
}

func TestService_ChatCompletions(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com"}}
	up := &fakeUpstream{response: textResponse("Hello there")}
	svc := newTestService(pool, up)

	req := &types.OpenAIChatRequest{
		Model:    "gpt-4o",
		Messages: []types.OpenAIMessage{{Role: "user", Content: types.TextContent("hi")}},
	}
	resp, res, err := svc.ChatCompletions(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "gemini-2.5-pro", res.Model)
	assert.Equal(t, "gemini-2.5-pro", up.calls[0].Model)
}

const streamBody = "data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hel\"}]}}]}}\n\n" +
	"data: not json\n\n" +
	"data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":5,\"candidatesTokenCount\":2}}}\n\n"

func TestService_StreamMessages(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com"}}
	up := &fakeUpstream{stream: streamBody}
	svc := newTestService(pool, up)

	rec := httptest.NewRecorder()
	res, err := svc.StreamMessages(context.Background(), userRequest("claude-sonnet-4-5"), rec)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: message_start"))
	assert.Contains(t, body, `"Hel"`)
	assert.Contains(t, body, `"lo"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), `{"type":"message_stop"}`), body)
	assert.Equal(t, "end_turn", res.StopReason)
	assert.Equal(t, 2, res.Usage.OutputTokens)
}

func TestService_StreamRetriesBeforeCommit(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com", "b@example.com"}}
	up := &fakeUpstream{
		stream: streamBody,
		errs:   []error{&upstream.Error{Status: http.StatusTooManyRequests, Message: "quota"}},
	}
	svc := newTestService(pool, up)

	rec := httptest.NewRecorder()
	res, err := svc.StreamMessages(context.Background(), userRequest("claude-sonnet-4-5"), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"a@example.com"}, pool.limited)
	assert.Contains(t, rec.Body.String(), "message_stop")
}

func TestService_StreamErrorBeforeCommitWritesNothing(t *testing.T) {
	pool := &fakePool{err: accounts.ErrNoAccountAvailable}
	svc := newTestService(pool, &fakeUpstream{})

	rec := httptest.NewRecorder()
	_, err := svc.StreamMessages(context.Background(), userRequest("claude-sonnet-4-5"), rec)
	assert.ErrorIs(t, err, accounts.ErrNoAccountAvailable)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Type"))
}

func TestService_StreamChatCompletions(t *testing.T) {
	pool := &fakePool{emails: []string{"a@example.com"}}
	up := &fakeUpstream{stream: streamBody}
	svc := newTestService(pool, up)

	req := &types.OpenAIChatRequest{
		Model:    "gpt-4o",
		Stream:   true,
		Messages: []types.OpenAIMessage{{Role: "user", Content: types.TextContent("hi")}},
	}
	rec := httptest.NewRecorder()
	res, err := svc.StreamChatCompletions(context.Background(), req, rec)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, `"model":"gpt-4o"`)
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), body)
	assert.Equal(t, "stop", res.StopReason)
}
