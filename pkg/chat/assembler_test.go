package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/openrag/mcp-agent/pkg/mcp"
)

// fakeStream replays a canned fragment sequence. When failAfter is
// non-negative the stream breaks with failErr after that many fragments.
type fakeStream struct {
	fragments []openai.ChatCompletionStreamResponse
	pos       int
	failAfter int
	failErr   error
	closed    bool
}

func (f *fakeStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if f.failAfter >= 0 && f.pos >= f.failAfter {
		return openai.ChatCompletionStreamResponse{}, f.failErr
	}
	if f.pos >= len(f.fragments) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	resp := f.fragments[f.pos]
	f.pos++
	return resp, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	streams  []*fakeStream
	requests []openai.ChatCompletionRequest
	openErr  error
}

func (f *fakeOpener) OpenStream(_ context.Context, req openai.ChatCompletionRequest) (CompletionStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.requests = append(f.requests, req)
	if len(f.streams) == 0 {
		return &fakeStream{failAfter: -1}, nil
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

func textDelta(text string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: text},
		}},
	}
}

func toolDelta(index int, id, name, arguments string) openai.ChatCompletionStreamResponse {
	i := index
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{
					Index: &i,
					ID:    id,
					Function: openai.FunctionCall{
						Name:      name,
						Arguments: arguments,
					},
				}},
			},
		}},
	}
}

func newStream(fragments ...openai.ChatCompletionStreamResponse) *fakeStream {
	return &fakeStream{fragments: fragments, failAfter: -1}
}

func TestAdvanceAccumulatesText(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeStream{
		newStream(textDelta("Hel"), textDelta("lo,"), textDelta(" wor"), textDelta("ld")),
	}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())

	turn, err := session.Advance(context.Background(), nil, "hi")
	require.NoError(t, err)
	require.Equal(t, "Hello, world", turn.Content)
	require.Empty(t, turn.ToolCalls)

	history := session.History()
	require.Len(t, history, 2)
	require.Equal(t, RoleUser, history[0].Role)
	require.Equal(t, "hi", history[0].Content)
	require.Equal(t, RoleAssistant, history[1].Role)
	require.Equal(t, "Hello, world", history[1].Content)
}

func TestAdvanceAssemblesSplitToolCall(t *testing.T) {
	// A single call's fields arrive split at arbitrary boundaries; the
	// final fields must match byte for byte.
	opener := &fakeOpener{streams: []*fakeStream{
		newStream(
			toolDelta(0, "call_", "fetch", `{"url`),
			toolDelta(0, "123", "_url", `": "https:`),
			toolDelta(0, "", "", `//example.com"}`),
		),
	}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())

	turn, err := session.Advance(context.Background(), nil, "fetch it")
	require.NoError(t, err)
	require.Len(t, turn.ToolCalls, 1)
	require.Equal(t, "call_123", turn.ToolCalls[0].ID)
	require.Equal(t, "fetch_url", turn.ToolCalls[0].Name)
	require.Equal(t, `{"url": "https://example.com"}`, turn.ToolCalls[0].Arguments)
}

func TestAdvanceOrdersToolCallsByIndex(t *testing.T) {
	// Index 1 appears before index 0; the finished turn must still list
	// requests in ascending index order.
	opener := &fakeOpener{streams: []*fakeStream{
		newStream(
			toolDelta(1, "call_b", "write_file", `{"path":"x"}`),
			toolDelta(0, "call_a", "fetch_url", `{"url":"y"}`),
		),
	}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())

	turn, err := session.Advance(context.Background(), nil, "go")
	require.NoError(t, err)
	require.Len(t, turn.ToolCalls, 2)
	require.Equal(t, "fetch_url", turn.ToolCalls[0].Name)
	require.Equal(t, "write_file", turn.ToolCalls[1].Name)
}

func TestAdvanceMixedTextAndTools(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeStream{
		newStream(
			textDelta("Let me check."),
			toolDelta(0, "call_1", "echo", `{"input":"a"}`),
			textDelta(" One moment."),
		),
	}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())

	turn, err := session.Advance(context.Background(), nil, "go")
	require.NoError(t, err)
	require.Equal(t, "Let me check. One moment.", turn.Content)
	require.Len(t, turn.ToolCalls, 1)

	history := session.History()
	require.Equal(t, turn.ToolCalls, history[len(history)-1].ToolCalls)
}

func TestAdvanceStreamFaultLeavesHistoryUnmodified(t *testing.T) {
	fault := errors.New("connection reset")
	opener := &fakeOpener{streams: []*fakeStream{
		{fragments: []openai.ChatCompletionStreamResponse{textDelta("par")}, failAfter: 1, failErr: fault},
	}}
	session := NewSession(opener, "test-model", "system", "", zerolog.Nop())

	before := session.History()
	_, err := session.Advance(context.Background(), nil, "hello")
	require.ErrorIs(t, err, fault)
	require.Equal(t, before, session.History())
}

func TestAdvanceWithoutUserText(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeStream{
		newStream(textDelta("done")),
	}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())
	session.AppendToolResult("call_1", "result text")

	turn, err := session.Advance(context.Background(), nil, "")
	require.NoError(t, err)
	require.Equal(t, "done", turn.Content)

	history := session.History()
	require.Len(t, history, 2)
	require.Equal(t, RoleTool, history[0].Role)
	require.Equal(t, "call_1", history[0].ToolCallID)
}

func TestAdvanceTranslatesToolDeclarations(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeStream{newStream(textDelta("ok"))}}
	session := NewSession(opener, "test-model", "", "", zerolog.Nop())

	tools := []mcp.ToolDescriptor{{
		Name:        "echo",
		Description: "Echo input",
		InputSchema: []byte(`{"type":"object"}`),
	}}
	_, err := session.Advance(context.Background(), tools, "hi")
	require.NoError(t, err)

	require.Len(t, opener.requests, 1)
	req := opener.requests[0]
	require.Len(t, req.Tools, 1)
	require.Equal(t, openai.ToolTypeFunction, req.Tools[0].Type)
	require.Equal(t, "echo", req.Tools[0].Function.Name)

	// Empty declarations must disable tool calling entirely.
	opener.streams = []*fakeStream{newStream(textDelta("ok"))}
	_, err = session.Advance(context.Background(), nil, "again")
	require.NoError(t, err)
	require.Nil(t, opener.requests[1].Tools)
}

func TestAdvanceLogsTurnBoundaries(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	opener := &fakeOpener{streams: []*fakeStream{
		newStream(textDelta("ok"), toolDelta(0, "call_1", "echo", `{}`)),
	}}
	session := NewSession(opener, "test-model", "", "", logger)

	_, err := session.Advance(context.Background(), nil, "hi")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "model turn assembled")
	require.Contains(t, buf.String(), `"tool_calls":1`)

	buf.Reset()
	fault := errors.New("connection reset")
	opener.streams = []*fakeStream{
		{failAfter: 0, failErr: fault},
	}
	_, err = session.Advance(context.Background(), nil, "again")
	require.ErrorIs(t, err, fault)
	require.Contains(t, buf.String(), "model stream failed mid-turn")
}

func TestSessionSeedsSystemPromptAndContext(t *testing.T) {
	session := NewSession(&fakeOpener{}, "m", "be helpful", "background facts", zerolog.Nop())
	history := session.History()
	require.Len(t, history, 2)
	require.Equal(t, RoleSystem, history[0].Role)
	require.Equal(t, RoleUser, history[1].Role)
	require.Equal(t, "background facts", history[1].Content)
}
