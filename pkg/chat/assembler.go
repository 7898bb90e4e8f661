package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openrag/mcp-agent/pkg/mcp"
)

// CompletionStream delivers the fragments of one model turn. It is
// satisfied by *openai.ChatCompletionStream.
type CompletionStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// StreamOpener opens one fragment stream per model turn.
type StreamOpener interface {
	OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (CompletionStream, error)
}

// openAIOpener adapts *openai.Client to StreamOpener.
type openAIOpener struct {
	client *openai.Client
}

// NewOpenAIOpener wraps a configured go-openai client.
func NewOpenAIOpener(client *openai.Client) StreamOpener {
	return openAIOpener{client: client}
}

func (o openAIOpener) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (CompletionStream, error) {
	return o.client.CreateChatCompletionStream(ctx, req)
}

// Session owns an append-only conversation history and performs one model
// turn at a time. It is not safe for concurrent use; the tool-use loop is a
// single logical thread of control.
type Session struct {
	opener   StreamOpener
	model    string
	messages []Message
	log      zerolog.Logger
}

// NewSession seeds the history with an optional system prompt and an
// optional context document delivered as a first user message.
func NewSession(opener StreamOpener, model, systemPrompt, contextText string, logger zerolog.Logger) *Session {
	s := &Session{
		opener: opener,
		model:  model,
		log:    logger.With().Str("component", "chat").Logger(),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	if strings.TrimSpace(contextText) != "" {
		s.messages = append(s.messages, Message{Role: RoleUser, Content: contextText})
	}
	return s
}

// History returns a copy of the conversation log.
func (s *Session) History() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AppendToolResult records the output of a dispatched tool call. The callID
// must reference a tool call from the preceding assistant turn.
func (s *Session) AppendToolResult(callID, output string) {
	s.messages = append(s.messages, Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: callID,
	})
}

// Advance performs exactly one model turn. When userText is non-empty it
// becomes a user message of this turn. Fragments are consumed strictly in
// delivery order; the append to history is transactional: on any mid-stream
// fault, including cancellation, the history is left untouched for this
// attempt and the error is returned.
func (s *Session) Advance(ctx context.Context, tools []mcp.ToolDescriptor, userText string) (Turn, error) {
	staged := s.messages
	if userText != "" {
		staged = append(s.History(), Message{Role: RoleUser, Content: userText})
	}

	req := openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: toOpenAIMessages(staged),
		Tools:    toOpenAITools(tools),
		Stream:   true,
	}

	stream, err := s.opener.OpenStream(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Msg("opening completion stream")
		return Turn{}, err
	}
	defer stream.Close()

	turn, err := assemble(stream)
	if err != nil {
		s.log.Warn().Err(err).Msg("model stream failed mid-turn")
		return Turn{}, err
	}
	s.log.Debug().
		Int("tool_calls", len(turn.ToolCalls)).
		Int("content_len", len(turn.Content)).
		Msg("model turn assembled")

	s.messages = append(staged, Message{
		Role:      RoleAssistant,
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
	})
	return turn, nil
}

// toolCallBuilder accumulates one tool call from its deltas. Every field
// grows by concatenation only: the transport may split a field at any byte
// boundary, and appending in delivery order is the only operation that is
// correct for every split.
type toolCallBuilder struct {
	id        strings.Builder
	name      strings.Builder
	arguments strings.Builder
}

// assemble drains the fragment stream and reconstructs the turn.
func assemble(stream CompletionStream) (Turn, error) {
	var text strings.Builder
	builders := make(map[int]*toolCallBuilder)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Turn{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
		}

		for _, call := range delta.ToolCalls {
			index := 0
			if call.Index != nil {
				index = *call.Index
			}
			builder, ok := builders[index]
			if !ok {
				builder = &toolCallBuilder{}
				builders[index] = builder
			}
			builder.id.WriteString(call.ID)
			builder.name.WriteString(call.Function.Name)
			builder.arguments.WriteString(call.Function.Arguments)
		}
	}

	indices := make([]int, 0, len(builders))
	for index := range builders {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	turn := Turn{Content: text.String()}
	for _, index := range indices {
		builder := builders[index]
		turn.ToolCalls = append(turn.ToolCalls, ToolCallRequest{
			ID:        builder.id.String(),
			Name:      builder.name.String(),
			Arguments: builder.arguments.String(),
		})
	}
	return turn, nil
}
